package nats

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types
const (
	MessageTypeSubmit   = "submit"
	MessageTypeProgress = "progress"
	MessageTypeResult   = "result"
	MessageTypeCancel   = "cancel"
)

// Envelope wraps every payload published by the service
type Envelope struct {
	Type      string          `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload into an envelope
func NewEnvelope(msgType, jobID string, payload interface{}) (*Envelope, error) {
	env := &Envelope{Type: msgType, JobID: jobID, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		env.Payload = data
	}
	return env, nil
}

// Decode unmarshals the payload into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope decodes a raw message
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message without type")
	}
	return &env, nil
}
