// Package jobs runs optimization jobs in the background and owns their
// mutable status records.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/quantree/internal/monitor"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/shard"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/storage"
)

var (
	ErrNotFound    = errors.New("job not found")
	ErrDuplicateID = errors.New("job id already in use")
	ErrNotFinished = errors.New("job has not finished")
	ErrStopped     = errors.New("job manager stopped")
)

// Publisher forwards job events to other processes
type Publisher interface {
	PublishProgress(jobID string, progress interface{}) error
	PublishResult(jobID string, report interface{}) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishProgress(string, interface{}) error { return nil }
func (NopPublisher) PublishResult(string, interface{}) error   { return nil }

// Store keeps finished reports beyond the in-memory retention
type Store interface {
	Save(id string, v interface{}) error
	Load(id string, v interface{}) error
}

// Record is the externally visible state of a job
type Record struct {
	ID                string           `json:"id"`
	Status            optimizer.Status `json:"status"`
	CompletedBranches int              `json:"completed_branches"`
	TotalBranches     int              `json:"total_branches"`
	Message           string           `json:"message,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	FinishedAt        time.Time        `json:"finished_at,omitempty"`
}

// Options configure a Manager
type Options struct {
	Publisher Publisher
	Metrics   *monitor.Metrics
	// Store persists finished reports; optional
	Store Store
	// Retention keeps finished jobs this long; zero keeps them forever
	Retention time.Duration
	// PruneSchedule is a cron expression for pruning, e.g. "@every 10m"
	PruneSchedule string
	Logger        *logrus.Entry
}

type rotator interface {
	Rotate() (storage.RotationStats, error)
}

type entry struct {
	record      Record
	report      *optimizer.Report
	library     strategy.Library
	cancelled   atomic.Bool
	subscribers []chan optimizer.Progress
}

// Manager runs jobs and tracks their records
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	opts    Options
	logger  *logrus.Entry
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
	now     func() time.Time
}

// NewManager creates a manager. Start begins scheduled pruning.
func NewManager(opts Options) *Manager {
	if opts.Publisher == nil {
		opts.Publisher = NopPublisher{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.WithField("component", "job-manager")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:   make(map[string]*entry),
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Start schedules pruning of finished jobs
func (m *Manager) Start() error {
	if m.opts.Retention <= 0 || m.opts.PruneSchedule == "" {
		return nil
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.opts.PruneSchedule, func() {
		if n := m.Prune(); n > 0 {
			m.logger.Infof("Pruned %d finished jobs", n)
		}
		if r, ok := m.opts.Store.(rotator); ok {
			if stats, err := r.Rotate(); err != nil {
				m.logger.Warnf("Failed to rotate stored reports: %v", err)
			} else if stats.Removed > 0 || stats.Compressed > 0 {
				m.logger.Infof("Rotated stored reports: %d compressed, %d removed", stats.Compressed, stats.Removed)
			}
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", m.opts.PruneSchedule, err)
	}
	m.cron.Start()
	return nil
}

// Stop cancels running jobs and waits for them to wind down
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.wg.Wait()
}

// Submit starts job in the background. An empty job id gets a UUID.
func (m *Manager) Submit(job optimizer.Job) (Record, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := m.now().UTC()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return Record{}, ErrStopped
	}
	if _, exists := m.jobs[job.ID]; exists {
		m.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
	}
	e := &entry{
		record: Record{
			ID:        job.ID,
			Status:    optimizer.StatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		},
		library: job.Library,
	}
	m.jobs[job.ID] = e
	record := e.record
	m.wg.Add(1)
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.JobStarted()
	}
	m.logger.WithField("job_id", job.ID).Info("Job submitted")

	go m.run(job, e)
	return record, nil
}

func (m *Manager) run(job optimizer.Job, e *entry) {
	defer m.wg.Done()
	started := m.now()

	report, err := optimizer.Run(m.ctx, job, optimizer.Options{
		OnProgress:   func(p optimizer.Progress) { m.update(e, p) },
		ShouldCancel: e.cancelled.Load,
		Logger:       m.logger,
	})

	logger := m.logger.WithField("job_id", job.ID)
	switch {
	case err == nil:
		logger.Infof("Job completed in %s", m.now().Sub(started).Round(time.Millisecond))
	case errors.Is(err, optimizer.ErrCancelled):
		logger.Info("Job cancelled")
	default:
		logger.Errorf("Job failed: %v", err)
	}

	m.mu.Lock()
	e.report = report
	e.record.FinishedAt = m.now().UTC()
	subscribers := e.subscribers
	e.subscribers = nil
	m.mu.Unlock()

	if m.opts.Store != nil {
		if err := m.opts.Store.Save(job.ID, report); err != nil {
			logger.Warnf("Failed to store report: %v", err)
		}
	}
	for _, ch := range subscribers {
		close(ch)
	}

	if m.opts.Metrics != nil {
		m.opts.Metrics.JobFinished(string(report.Status))
		m.opts.Metrics.ObserveOperation("optimize", started, err)
		pass, fail, failed := outcomes(report)
		m.opts.Metrics.BranchesEvaluated("pass", pass)
		m.opts.Metrics.BranchesEvaluated("fail", fail)
		m.opts.Metrics.BranchesEvaluated("error", failed)
	}
	if err := m.opts.Publisher.PublishResult(job.ID, report); err != nil {
		logger.Warnf("Failed to publish result: %v", err)
	}
}

// update applies a progress event to the record. The optimizer calls it
// serially for one job.
func (m *Manager) update(e *entry, p optimizer.Progress) {
	m.mu.Lock()
	e.record.Status = p.Status
	e.record.CompletedBranches = p.CompletedBranches
	e.record.TotalBranches = p.TotalBranches
	e.record.Message = p.Message
	e.record.UpdatedAt = m.now().UTC()
	for _, ch := range e.subscribers {
		select {
		case ch <- p:
		default:
			// a slow subscriber skips intermediate events
		}
	}
	m.mu.Unlock()

	if err := m.opts.Publisher.PublishProgress(p.JobID, p); err != nil {
		m.logger.WithField("job_id", p.JobID).Warnf("Failed to publish progress: %v", err)
	}
}

func outcomes(report *Report) (pass, fail, failed int) {
	for _, r := range report.Results {
		switch {
		case r.Error != "":
			failed++
		case r.Pass:
			pass++
		default:
			fail++
		}
	}
	return pass, fail, failed
}

// Report aliases the optimizer report returned by Results
type Report = optimizer.Report

// Get returns a job's record
func (m *Manager) Get(id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.record, nil
}

// List returns every record, newest first
func (m *Manager) List() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.record)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel asks a running job to stop between branches. Cancelling a
// finished job is a no-op.
func (m *Manager) Cancel(id string) (Record, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.cancelled.Store(true)
	return m.Get(id)
}

// Results returns the report of a finished job. Pruned jobs are read back
// from the store when one is configured.
func (m *Manager) Results(id string) (*Report, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	var report *Report
	if ok {
		report = e.report
	}
	m.mu.RUnlock()

	if !ok {
		return m.stored(id)
	}
	if report == nil {
		return nil, ErrNotFinished
	}
	return report, nil
}

func (m *Manager) stored(id string) (*Report, error) {
	if m.opts.Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var report Report
	if err := m.opts.Store.Load(id, &report); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load stored report: %w", err)
	}
	return &report, nil
}

// Select picks finished branches of job id for a shard
func (m *Manager) Select(id string, branchIDs []int) ([]shard.ShardBranch, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	report, err := m.Results(id)
	if err != nil {
		return nil, err
	}
	return shard.Select(report, e.library, branchIDs)
}

// Wait blocks until job id finishes or ctx ends
func (m *Manager) Wait(ctx context.Context, id string) (*Report, error) {
	events, unsubscribe, err := m.Subscribe(id)
	if err != nil {
		return nil, err
	}
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, open := <-events:
			if !open {
				return m.Results(id)
			}
		}
	}
}

// Subscribe streams a job's progress events. The channel closes when the
// job finishes; for a finished job it is closed immediately after the final
// state. Call the returned func to stop early.
func (m *Manager) Subscribe(id string) (<-chan optimizer.Progress, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ch := make(chan optimizer.Progress, 64)
	ch <- progressOf(e.record)
	if e.report != nil {
		close(ch)
		return ch, func() {}, nil
	}
	e.subscribers = append(e.subscribers, ch)

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range e.subscribers {
			if sub == ch {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe, nil
}

func progressOf(r Record) optimizer.Progress {
	return optimizer.Progress{
		JobID:             r.ID,
		Status:            r.Status,
		CompletedBranches: r.CompletedBranches,
		TotalBranches:     r.TotalBranches,
		Message:           r.Message,
	}
}

// Prune drops finished jobs older than the retention and returns how many
// were removed
func (m *Manager) Prune() int {
	if m.opts.Retention <= 0 {
		return 0
	}
	cutoff := m.now().UTC().Add(-m.opts.Retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.jobs {
		if e.report != nil && e.record.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}
