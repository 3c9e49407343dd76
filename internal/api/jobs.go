package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mExOms/quantree/internal/jobs"
)

// Stream message types
const (
	MsgTypeProgress = "progress"
	MsgTypeDone     = "done"
)

// StreamMessage is one frame of the job progress stream
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time int64       `json:"time"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

func (s *Server) requireJobs(w http.ResponseWriter) bool {
	if s.opts.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager unavailable")
		return false
	}
	return true
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	if s.opts.Limiter != nil && !s.opts.Limiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many job submissions")
		return
	}

	var req jobs.Request
	if !decode(w, r, &req) {
		return
	}
	job, err := req.Job(r.Context(), s.opts.Loader, s.opts.Defaults)
	if err != nil {
		writeFailure(w, err)
		return
	}
	record, err := s.opts.Jobs.Submit(job)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Jobs.List())
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	record, err := s.opts.Jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	record, err := s.opts.Jobs.Cancel(mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	report, err := s.opts.Jobs.Results(mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// streamJob pushes progress frames until the job finishes, then one done
// frame with the final record
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	id := mux.Vars(r)["id"]
	events, unsubscribe, err := s.opts.Jobs.Subscribe(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer unsubscribe()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("WebSocket upgrade error: %v", err)
		return
	}
	defer ws.Close()

	// the client never sends; a read error means it went away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case p, open := <-events:
			if !open {
				record, err := s.opts.Jobs.Get(id)
				if err != nil {
					return
				}
				ws.WriteJSON(StreamMessage{Type: MsgTypeDone, Data: record, Time: time.Now().Unix()})
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			if err := ws.WriteJSON(StreamMessage{Type: MsgTypeProgress, Data: p, Time: time.Now().Unix()}); err != nil {
				s.logger.Debugf("Stream for %s closed: %v", id, err)
				return
			}
		}
	}
}
