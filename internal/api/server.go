// Package api exposes evaluation, optimization jobs and robustness analysis
// over HTTP.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/jobs"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/monitor"
	"github.com/mExOms/quantree/internal/robustness"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/cache"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 32 << 20

// Options wire a Server to its collaborators. Metrics, Health and Limiter
// are optional.
type Options struct {
	Loader     jobs.TableLoader
	Jobs       *jobs.Manager
	Defaults   jobs.Defaults
	Robustness robustness.Config
	Metrics    *monitor.Metrics
	Health     *monitor.HealthChecker
	// Limiter throttles job submissions per client address
	Limiter *cache.RateLimiter
	Logger  *logrus.Entry
}

// Server routes the HTTP API
type Server struct {
	opts   Options
	router *mux.Router
	logger *logrus.Entry
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewServer builds the router
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.WithField("component", "api")
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.routes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.observe)

	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/evaluate", s.evaluate).Methods("POST")
	api.HandleFunc("/branches", s.branches).Methods("POST")
	api.HandleFunc("/robustness", s.robustness).Methods("POST")
	api.HandleFunc("/shards/combine", s.combine).Methods("POST")

	api.HandleFunc("/jobs", s.submitJob).Methods("POST")
	api.HandleFunc("/jobs", s.listJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.getJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.cancelJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/results", s.jobResults).Methods("GET")
	api.HandleFunc("/jobs/{id}/stream", s.streamJob).Methods("GET")

	if s.opts.Health != nil {
		s.router.HandleFunc("/healthz", s.opts.Health.HTTPHandler()).Methods("GET")
	}
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics.Handler()).Methods("GET")
	}
}

// statusRecorder remembers the response code. It keeps Hijack working for
// the websocket stream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// observe logs and counts every request by route template
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveRequest(route, r.Method, strconv.Itoa(rec.status))
		}
		s.logger.Debugf("%s %s %d %s", r.Method, route, rec.status, time.Since(started).Round(time.Microsecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// writeFailure maps domain errors onto status codes
func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusOf(err), err.Error())
}

func statusOf(err error) int {
	var (
		validation *strategy.ValidationError
		cycle      *strategy.CycleError
		unknown    *strategy.UnknownCallError
		tooMany    *branch.TooManyBranchesError
		missing    *marketdata.MissingTickerError
	)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotFinished), errors.Is(err, jobs.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &validation), errors.As(err, &cycle), errors.As(err, &unknown),
		errors.As(err, &tooMany), errors.As(err, &missing),
		errors.Is(err, marketdata.ErrNoCommonDates), errors.Is(err, robustness.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
