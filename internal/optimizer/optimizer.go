// Package optimizer runs a parameter sweep over a strategy tree and scores
// every branch on in-sample and out-of-sample windows.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mExOms/quantree/internal/backtest"
	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/indicator"
	"github.com/mExOms/quantree/pkg/types"
)

// runner carries the state shared by the workers of one job
type runner struct {
	job    Job
	opts   Options
	logger *logrus.Entry
	cache  *indicator.Cache
	cut    time.Time
	years  []int

	mu       sync.Mutex
	report   *Report
	finished int
}

// Run executes job. It returns the report in every case; the error is
// non-nil for job-level failures (status error) and ErrCancelled (status
// cancelled, partial results). Failures of a single branch are recorded on
// that branch's Result.
func Run(ctx context.Context, job Job, opts Options) (*Report, error) {
	r := &runner{
		job:    job,
		opts:   opts,
		logger: opts.Logger,
		report: &Report{JobID: job.ID, Status: StatusRunning, Split: job.Split.Kind},
	}
	if r.logger == nil {
		r.logger = logrus.WithField("component", "optimizer")
	}
	r.logger = r.logger.WithField("job_id", job.ID)
	r.emit()

	branches, err := r.prepare()
	if err != nil {
		return r.fail(err)
	}
	r.report.Branches = branches
	r.report.TotalBranches = len(branches)
	r.logger.Infof("Running %d branches with %d workers", len(branches), r.workers())
	r.emit()

	results := make([]*Result, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	stopped := false
	for _, b := range branches {
		if r.cancelled(gctx) {
			stopped = true
			break
		}
		b := b
		g.Go(func() error {
			if r.cancelled(gctx) {
				return ErrCancelled
			}
			results[b.ID] = r.runBranch(b)
			r.branchDone()
			return nil
		})
	}
	waitErr := g.Wait()

	done := make([]*Result, 0, len(results))
	for _, res := range results {
		if res != nil {
			done = append(done, res)
		}
	}
	r.report.Results = done

	if stopped || waitErr != nil {
		return r.finish(StatusCancelled, "cancelled", ErrCancelled)
	}
	r.report.Rankings = Rank(done, r.rankBy(), job.TopK)
	return r.finish(StatusCompleted, "", nil)
}

func (r *runner) workers() int {
	if r.job.Workers > 0 {
		return r.job.Workers
	}
	return runtime.NumCPU()
}

func (r *runner) rankBy() []types.MetricName {
	if len(r.job.RankBy) > 0 {
		return r.job.RankBy
	}
	return []types.MetricName{types.MetricSharpe}
}

func (r *runner) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return r.opts.ShouldCancel != nil && r.opts.ShouldCancel()
}

// prepare validates the job and expands its branches
func (r *runner) prepare() ([]*branch.Branch, error) {
	job := r.job
	if job.Table == nil || job.Table.Len() == 0 {
		return nil, fmt.Errorf("job has no price data")
	}
	if job.Tree == nil {
		return nil, fmt.Errorf("job has no strategy tree")
	}
	if job.Mode != "" && !job.Mode.Valid() {
		return nil, fmt.Errorf("unknown fill mode %q", job.Mode)
	}
	for _, req := range job.Requirements {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("invalid requirement %s: %w", req, err)
		}
	}
	for _, m := range job.RankBy {
		if _, err := types.EmptyMetrics().Value(m); err != nil {
			return nil, err
		}
	}

	switch job.Split.Kind {
	case SplitChronological:
		if job.Split.Cut.IsZero() {
			return nil, fmt.Errorf("chronological split needs a cut date")
		}
		i := job.Table.SearchDate(types.Day(job.Split.Cut))
		if i == 0 || i >= job.Table.Len() {
			return nil, fmt.Errorf("cut date %s leaves an empty window", job.Split.Cut.Format(types.DateLayout))
		}
		r.cut = job.Table.Dates[i]
		r.report.Cut = r.cut
	case SplitRolling:
		r.years = job.Split.StartYears
		if len(r.years) == 0 {
			first, last := job.Table.Dates[0].Year(), job.Table.Dates[job.Table.Len()-1].Year()
			for y := first + 1; y <= last; y++ {
				r.years = append(r.years, y)
			}
		}
		if len(r.years) == 0 {
			return nil, fmt.Errorf("rolling split needs at least two calendar years of data")
		}
	default:
		return nil, fmt.Errorf("unknown split %q", job.Split.Kind)
	}

	branches, err := branch.Generate(job.Tree, job.Library, job.Ranges, branch.Options{MaxBranches: job.MaxBranches})
	if err != nil {
		return nil, fmt.Errorf("failed to generate branches: %w", err)
	}
	r.cache = indicator.NewCache(job.Table)
	return branches, nil
}

// runBranch evaluates one branch over the full table and splits the result
func (r *runner) runBranch(b *branch.Branch) *Result {
	res := &Result{
		BranchID:    b.ID,
		Label:       b.Label,
		Values:      b.Values,
		InSample:    types.EmptyMetrics(),
		OutOfSample: types.EmptyMetrics(),
	}

	full, err := backtest.Evaluate(b.Tree, r.job.Table, r.job.Mode, r.job.CostBps, backtest.Options{
		Library:   r.job.Library,
		Seed:      r.job.Seed,
		Benchmark: r.job.Benchmark,
		Cache:     r.cache,
	})
	if err == nil {
		if r.job.Split.Kind == SplitRolling {
			err = r.rolling(res, full)
		} else {
			err = r.chronological(res, full)
		}
	}
	if err != nil {
		r.logger.Debugf("Branch %d (%s) failed: %v", b.ID, b.Label, err)
		res.Error = err.Error()
	}

	applyRequirements(res, r.job.Requirements)
	return res
}

func (r *runner) chronological(res *Result, full *backtest.Result) error {
	is, err := full.Window(time.Time{}, r.cut.AddDate(0, 0, -1))
	if err != nil {
		return fmt.Errorf("failed to simulate in-sample window: %w", err)
	}
	oos, err := full.Window(r.cut, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to simulate out-of-sample window: %w", err)
	}
	res.InSample, res.OutOfSample = is.Metrics, oos.Metrics
	res.OOSStart = oos.Metrics.Start
	return nil
}

func (r *runner) rolling(res *Result, full *backtest.Result) error {
	yearly, err := full.YearlyMetrics()
	if err != nil {
		return err
	}
	res.Yearly = yearly

	years := full.Years()
	if len(years) == 0 {
		return backtest.ErrEmptyWindow
	}
	for _, start := range r.years {
		if start <= years[0] {
			continue
		}
		from, to := backtest.YearRange(years[0], start-1)
		is, err := full.Window(from, to)
		if errors.Is(err, backtest.ErrEmptyWindow) {
			continue
		}
		if err != nil {
			return err
		}
		oosFrom, _ := backtest.YearRange(start, start)
		oos, err := full.Window(oosFrom, time.Time{})
		if errors.Is(err, backtest.ErrEmptyWindow) {
			continue
		}
		if err != nil {
			return err
		}
		res.Rolling = append(res.Rolling, RollingSplit{StartYear: start, InSample: is.Metrics, OutOfSample: oos.Metrics})
	}
	if len(res.Rolling) == 0 {
		return fmt.Errorf("no start year leaves both windows populated")
	}
	first := res.Rolling[0]
	res.InSample, res.OutOfSample = first.InSample, first.OutOfSample
	res.OOSStart = first.OutOfSample.Start
	return nil
}

func (r *runner) branchDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
	r.report.CompletedBranches = r.finished
	r.emitLocked("")
}

func (r *runner) emit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked("")
}

func (r *runner) emitLocked(message string) {
	if r.opts.OnProgress == nil {
		return
	}
	r.opts.OnProgress(Progress{
		JobID:             r.job.ID,
		Status:            r.report.Status,
		CompletedBranches: r.report.CompletedBranches,
		TotalBranches:     r.report.TotalBranches,
		Message:           message,
	})
}

func (r *runner) fail(err error) (*Report, error) {
	r.logger.Errorf("Optimization failed: %v", err)
	return r.finish(StatusError, err.Error(), err)
}

func (r *runner) finish(status Status, message string, err error) (*Report, error) {
	r.mu.Lock()
	r.report.Status = status
	r.report.Message = message
	r.emitLocked(message)
	r.mu.Unlock()
	if err == nil {
		r.logger.Infof("Optimization completed: %d branches", r.report.CompletedBranches)
	}
	return r.report, err
}
