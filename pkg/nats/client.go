// Package nats carries job requests, progress and results over NATS
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Client wraps a NATS connection with the job subjects. Publishing goes
// through JetStream when streams are configured, core NATS otherwise.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	config *Config
}

// Config holds NATS configuration
type Config struct {
	URL      string         `mapstructure:"url"`
	ClientID string         `mapstructure:"client_id"`
	Streams  []StreamConfig `mapstructure:"streams"`
}

// StreamConfig defines JetStream configuration
type StreamConfig struct {
	Name     string        `mapstructure:"name"`
	Subjects []string      `mapstructure:"subjects"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	MaxMsgs  int64         `mapstructure:"max_msgs"`
}

// DefaultStreams keeps job results for a day
func DefaultStreams() []StreamConfig {
	return []StreamConfig{{
		Name:     "QUANTREE_RESULTS",
		Subjects: []string{ResultSubject("*")},
		MaxAge:   24 * time.Hour,
	}}
}

// NewClient creates a new NATS client
func NewClient(config *Config) (*Client, error) {
	logger := logrus.WithField("component", "nats-client")

	opts := []nats.Option{
		nats.Name(config.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Errorf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Errorf("NATS error: %v", err)
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client := &Client{
		conn:   conn,
		logger: logger,
		config: config,
	}

	if len(config.Streams) > 0 {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js
		if err := client.initializeStreams(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize streams: %w", err)
		}
	}

	return client, nil
}

// initializeStreams creates JetStream streams if they don't exist
func (c *Client) initializeStreams() error {
	for _, streamConfig := range c.config.Streams {
		config := &nats.StreamConfig{
			Name:      streamConfig.Name,
			Subjects:  streamConfig.Subjects,
			Retention: nats.LimitsPolicy,
			MaxAge:    streamConfig.MaxAge,
			MaxMsgs:   streamConfig.MaxMsgs,
			Storage:   nats.FileStorage,
			Replicas:  1,
		}

		if _, err := c.js.StreamInfo(streamConfig.Name); err == nil {
			if _, err := c.js.UpdateStream(config); err != nil {
				return fmt.Errorf("failed to update stream %s: %w", streamConfig.Name, err)
			}
			c.logger.Infof("Updated stream: %s", streamConfig.Name)
			continue
		}
		if _, err := c.js.AddStream(config); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamConfig.Name, err)
		}
		c.logger.Infof("Created stream: %s", streamConfig.Name)
	}

	return nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
}

// Connected reports the connection state
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// PublishSubmit sends a job request to the workers
func (c *Client) PublishSubmit(jobID string, request interface{}) error {
	return c.publish(SubmitSubject(), MessageTypeSubmit, jobID, request)
}

// PublishProgress publishes one progress event of a job
func (c *Client) PublishProgress(jobID string, progress interface{}) error {
	return c.publish(ProgressSubject(jobID), MessageTypeProgress, jobID, progress)
}

// PublishResult publishes a job's final report
func (c *Client) PublishResult(jobID string, report interface{}) error {
	return c.publish(ResultSubject(jobID), MessageTypeResult, jobID, report)
}

// PublishCancel asks whichever worker runs jobID to stop
func (c *Client) PublishCancel(jobID string) error {
	return c.publish(CancelSubject(jobID), MessageTypeCancel, jobID, nil)
}

func (c *Client) publish(subject, msgType, jobID string, payload interface{}) error {
	env, err := NewEnvelope(msgType, jobID, payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if c.js != nil && c.coveredByStream(subject) {
		_, err = c.js.Publish(subject, msg)
	} else {
		err = c.conn.Publish(subject, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.logger.Debugf("Published to %s", subject)
	return nil
}

func (c *Client) coveredByStream(subject string) bool {
	for _, s := range c.config.Streams {
		for _, pattern := range s.Subjects {
			if SubjectMatches(pattern, subject) {
				return true
			}
		}
	}
	return false
}

// SubscribeJobs receives job requests. Workers sharing queue split the
// requests between them.
func (c *Client) SubscribeJobs(queue string, handler MessageHandler) (*Subscription, error) {
	return c.subscribe(SubmitSubject(), queue, handler)
}

// SubscribeProgress follows one job's progress; "*" follows every job
func (c *Client) SubscribeProgress(jobID string, handler MessageHandler) (*Subscription, error) {
	return c.subscribe(ProgressSubject(jobID), "", handler)
}

// SubscribeCancels receives cancellation requests for every job
func (c *Client) SubscribeCancels(handler MessageHandler) (*Subscription, error) {
	return c.subscribe(CancelSubject("*"), "", handler)
}

// subscribe creates a core NATS subscription decoding envelopes
func (c *Client) subscribe(subject, queue string, handler MessageHandler) (*Subscription, error) {
	cb := func(msg *nats.Msg) {
		env, err := ParseEnvelope(msg.Data)
		if err != nil {
			c.logger.Warnf("Dropping message on %s: %v", msg.Subject, err)
			return
		}
		if err := handler(msg.Subject, env); err != nil {
			c.logger.Errorf("Handler error for %s: %v", msg.Subject, err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = c.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.logger.Infof("Subscribed to %s", subject)

	return &Subscription{
		sub:    sub,
		logger: c.logger,
	}, nil
}

// MessageHandler processes incoming messages
type MessageHandler func(subject string, env *Envelope) error

// Subscription wraps NATS subscription
type Subscription struct {
	sub    *nats.Subscription
	logger *logrus.Entry
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	s.logger.Info("Unsubscribed")
	return nil
}
