package optimizer

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

// ErrCancelled is returned with the partial report of a cancelled job
var ErrCancelled = errors.New("optimization job cancelled")

// SplitKind selects the walk-forward scheme
type SplitKind string

const (
	SplitChronological SplitKind = "chronological"
	SplitRolling       SplitKind = "rolling"
)

// Split configures the in-sample / out-of-sample windows.
// Chronological splits use Cut; rolling splits use StartYears, defaulting to
// every year after the first.
type Split struct {
	Kind       SplitKind `json:"kind"`
	Cut        time.Time `json:"cut,omitempty"`
	StartYears []int     `json:"start_years,omitempty"`
}

// Status of an optimization job
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Finished reports terminal states
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Job is everything one optimization run needs. It is read-only while the
// job runs.
type Job struct {
	ID           string
	Tree         strategy.Node
	Library      strategy.Library
	Table        *types.PriceTable
	Ranges       []branch.Range
	Split        Split
	Requirements []Requirement
	RankBy       []types.MetricName
	TopK         int
	Mode         types.FillMode
	CostBps      float64
	Benchmark    string
	Workers      int
	Seed         int64
	MaxBranches  int
}

// Progress is emitted on every status change and after every branch
type Progress struct {
	JobID             string `json:"job_id"`
	Status            Status `json:"status"`
	CompletedBranches int    `json:"completed_branches"`
	TotalBranches     int    `json:"total_branches"`
	Message           string `json:"message,omitempty"`
}

// Options are the caller's hooks into a running job
type Options struct {
	// OnProgress is called serially; it must not block for long
	OnProgress func(Progress)
	// ShouldCancel is polled between branches
	ShouldCancel func() bool
	Logger       *logrus.Entry
}

// RollingSplit holds one start year's windows of a rolling split
type RollingSplit struct {
	StartYear   int           `json:"start_year"`
	InSample    types.Metrics `json:"in_sample"`
	OutOfSample types.Metrics `json:"out_of_sample"`
}

// Result is one branch's outcome. For rolling splits InSample and
// OutOfSample mirror the first entry of Rolling.
type Result struct {
	BranchID    int                   `json:"branch_id"`
	Label       string                `json:"label"`
	Values      []branch.ParamValue   `json:"values"`
	InSample    types.Metrics         `json:"in_sample"`
	OutOfSample types.Metrics         `json:"out_of_sample"`
	OOSStart    time.Time             `json:"oos_start"`
	Yearly      map[int]types.Metrics `json:"yearly,omitempty"`
	Rolling     []RollingSplit        `json:"rolling,omitempty"`
	Pass        bool                  `json:"pass"`
	Failures    []string              `json:"failures,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Ranking lists the best branch ids for one metric
type Ranking struct {
	Metric    types.MetricName `json:"metric"`
	BranchIDs []int            `json:"branch_ids"`
}

// Report is the outcome of Run. Results are ordered by branch id; a
// cancelled job keeps only the branches that finished.
type Report struct {
	JobID             string           `json:"job_id"`
	Status            Status           `json:"status"`
	Split             SplitKind        `json:"split"`
	Cut               time.Time        `json:"cut,omitempty"`
	TotalBranches     int              `json:"total_branches"`
	CompletedBranches int              `json:"completed_branches"`
	Results           []*Result        `json:"results"`
	Rankings          []Ranking        `json:"rankings"`
	Message           string           `json:"message,omitempty"`
	Branches          []*branch.Branch `json:"-"`
}
