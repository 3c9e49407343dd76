// Package shard saves filtered sets of optimized branches and combines them
// into one composite strategy tree.
package shard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

// RootID is the id of the numbered node at the top of a combined tree
const RootID = "shard-root"

// ErrNoBranches is returned when combining an empty selection
var ErrNoBranches = errors.New("shard has no branches")

// ShardBranch is one optimized branch with its provenance. Tree is nil for
// branches of rolling jobs, which keep no tree.
type ShardBranch struct {
	JobID       string
	BranchID    int
	Label       string
	Values      []branch.ParamValue
	Tree        strategy.Node
	Library     strategy.Library
	OOSStart    time.Time
	InSample    types.Metrics
	OutOfSample types.Metrics
}

// Shard is an immutable, filtered collection of branches
type Shard struct {
	id           string
	filter       string
	createdAt    time.Time
	branches     []ShardBranch
	sourceJobIDs []string
}

// New copies branches into a new Shard. Source job ids keep the order in
// which each job first appears.
func New(branches []ShardBranch, filter string) (*Shard, error) {
	if len(branches) == 0 {
		return nil, ErrNoBranches
	}
	s := &Shard{
		id:        uuid.New().String(),
		filter:    filter,
		createdAt: time.Now().UTC(),
		branches:  copyBranches(branches),
	}
	s.sourceJobIDs = lo.Uniq(lo.Map(branches, func(b ShardBranch, _ int) string { return b.JobID }))
	return s, nil
}

func (s *Shard) ID() string           { return s.id }
func (s *Shard) Filter() string       { return s.filter }
func (s *Shard) CreatedAt() time.Time { return s.createdAt }

// Branches returns a copy of the shard's branches
func (s *Shard) Branches() []ShardBranch {
	return copyBranches(s.branches)
}

// SourceJobIDs returns the distinct jobs the branches came from
func (s *Shard) SourceJobIDs() []string {
	return append([]string(nil), s.sourceJobIDs...)
}

// Combine builds the shard's composite tree
func (s *Shard) Combine(kind optimizer.SplitKind) (strategy.Node, time.Time, error) {
	return Combine(s.branches, kind)
}

func copyBranches(in []ShardBranch) []ShardBranch {
	out := make([]ShardBranch, len(in))
	for i, b := range in {
		out[i] = b
		out[i].Values = append([]branch.ParamValue(nil), b.Values...)
		if b.Tree != nil {
			out[i].Tree = strategy.Clone(b.Tree)
		}
		if b.Library != nil {
			out[i].Library = make(strategy.Library, len(b.Library))
			for id, n := range b.Library {
				out[i].Library[id] = strategy.Clone(n)
			}
		}
	}
	return out
}

// Combine joins branches under a numbered "any" node that picks one branch
// per evaluation. Chronological branches contribute their own trees, with
// node ids prefixed b<i>/ to stay unique; rolling branches contribute a
// position placeholder named after their label. The combined out-of-sample
// start is the latest of the branches' starts.
func Combine(branches []ShardBranch, kind optimizer.SplitKind) (strategy.Node, time.Time, error) {
	if len(branches) == 0 {
		return nil, time.Time{}, ErrNoBranches
	}
	root := &strategy.NumberedNode{
		Header:     strategy.Header{ID: RootID, Name: "any of these"},
		Quantifier: strategy.QuantifierAny,
		Count:      1,
		Items:      make([]strategy.NumberedItem, 0, len(branches)),
	}

	var oosStart time.Time
	for i, b := range branches {
		if b.OOSStart.After(oosStart) {
			oosStart = b.OOSStart
		}

		var child strategy.Node
		switch kind {
		case optimizer.SplitRolling:
			child = &strategy.PositionNode{
				Header: strategy.Header{ID: fmt.Sprintf("b%d/position", i), Name: b.Label},
			}
		case optimizer.SplitChronological, "":
			if b.Tree == nil {
				return nil, time.Time{}, fmt.Errorf("branch %d of job %s has no stored tree", b.BranchID, b.JobID)
			}
			child = strategy.Prefix(b.Tree, fmt.Sprintf("b%d/", i))
		default:
			return nil, time.Time{}, fmt.Errorf("unknown job type %q", kind)
		}
		root.Items = append(root.Items, strategy.NumberedItem{Name: b.Label, Next: []strategy.Node{child}})
	}
	return root, oosStart, nil
}

// MergeLibraries joins the call-chain libraries of branches. The same chain
// id may appear more than once only with identical content.
func MergeLibraries(branches []ShardBranch) (strategy.Library, error) {
	merged := strategy.Library{}
	encoded := map[string][]byte{}
	for _, b := range branches {
		ids := lo.Keys(b.Library)
		sort.Strings(ids)
		for _, id := range ids {
			data, err := strategy.MarshalNode(b.Library[id])
			if err != nil {
				return nil, fmt.Errorf("failed to encode call chain %s: %w", id, err)
			}
			if prev, ok := encoded[id]; ok {
				if !bytes.Equal(prev, data) {
					return nil, fmt.Errorf("call chain %s differs between jobs", id)
				}
				continue
			}
			encoded[id] = data
			merged[id] = strategy.Clone(b.Library[id])
		}
	}
	return merged, nil
}

// Select picks branches out of an optimizer report. Rolling reports carry
// no trees, so their branches come back without one.
func Select(report *optimizer.Report, lib strategy.Library, ids []int) ([]ShardBranch, error) {
	results := lo.SliceToMap(report.Results, func(r *optimizer.Result) (int, *optimizer.Result) { return r.BranchID, r })
	trees := lo.SliceToMap(report.Branches, func(b *branch.Branch) (int, strategy.Node) { return b.ID, b.Tree })

	out := make([]ShardBranch, 0, len(ids))
	for _, id := range ids {
		r, ok := results[id]
		if !ok {
			return nil, fmt.Errorf("job %s has no result for branch %d", report.JobID, id)
		}
		if r.Error != "" {
			return nil, fmt.Errorf("branch %d of job %s failed: %s", id, report.JobID, r.Error)
		}
		sb := ShardBranch{
			JobID:       report.JobID,
			BranchID:    id,
			Label:       r.Label,
			Values:      r.Values,
			OOSStart:    r.OOSStart,
			InSample:    r.InSample,
			OutOfSample: r.OutOfSample,
		}
		if report.Split != optimizer.SplitRolling {
			sb.Tree = trees[id]
			sb.Library = lib
		}
		out = append(out, sb)
	}
	return copyBranches(out), nil
}

type wireShardBranch struct {
	JobID       string                     `json:"job_id"`
	BranchID    int                        `json:"branch_id"`
	Label       string                     `json:"label"`
	Values      []branch.ParamValue        `json:"values"`
	Tree        json.RawMessage            `json:"tree,omitempty"`
	Library     map[string]json.RawMessage `json:"library,omitempty"`
	OOSStart    time.Time                  `json:"oos_start"`
	InSample    types.Metrics              `json:"in_sample"`
	OutOfSample types.Metrics              `json:"out_of_sample"`
}

func (b ShardBranch) MarshalJSON() ([]byte, error) {
	w := wireShardBranch{
		JobID:       b.JobID,
		BranchID:    b.BranchID,
		Label:       b.Label,
		Values:      b.Values,
		OOSStart:    b.OOSStart,
		InSample:    b.InSample,
		OutOfSample: b.OutOfSample,
	}
	if b.Tree != nil {
		tree, err := strategy.MarshalNode(b.Tree)
		if err != nil {
			return nil, err
		}
		w.Tree = tree
	}
	if len(b.Library) > 0 {
		w.Library = make(map[string]json.RawMessage, len(b.Library))
		for id, n := range b.Library {
			data, err := strategy.MarshalNode(n)
			if err != nil {
				return nil, err
			}
			w.Library[id] = data
		}
	}
	return json.Marshal(w)
}

func (b *ShardBranch) UnmarshalJSON(data []byte) error {
	var w wireShardBranch
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = ShardBranch{
		JobID:       w.JobID,
		BranchID:    w.BranchID,
		Label:       w.Label,
		Values:      w.Values,
		OOSStart:    w.OOSStart,
		InSample:    w.InSample,
		OutOfSample: w.OutOfSample,
	}
	if len(w.Tree) > 0 {
		tree, err := strategy.UnmarshalNode(w.Tree)
		if err != nil {
			return fmt.Errorf("branch %d: %w", w.BranchID, err)
		}
		b.Tree = tree
	}
	if len(w.Library) > 0 {
		b.Library = make(strategy.Library, len(w.Library))
		for id, raw := range w.Library {
			n, err := strategy.UnmarshalNode(raw)
			if err != nil {
				return fmt.Errorf("call chain %s: %w", id, err)
			}
			b.Library[id] = n
		}
	}
	return nil
}

type wireShard struct {
	ID           string        `json:"id"`
	Filter       string        `json:"filter"`
	CreatedAt    time.Time     `json:"created_at"`
	SourceJobIDs []string      `json:"source_job_ids"`
	Branches     []ShardBranch `json:"branches"`
}

func (s *Shard) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireShard{
		ID:           s.id,
		Filter:       s.filter,
		CreatedAt:    s.createdAt,
		SourceJobIDs: s.sourceJobIDs,
		Branches:     s.branches,
	})
}
