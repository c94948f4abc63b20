package models

import (
	"fmt"
	"strings"
	"time"
)

// Aggregate is the three-way classification of a completed run.
type Aggregate int

const (
	AggregatePartial Aggregate = iota
	AggregateAllSucceeded
	AggregateAllFailed
)

func (a Aggregate) String() string {
	switch a {
	case AggregateAllSucceeded:
		return "all_succeeded"
	case AggregateAllFailed:
		return "all_failed"
	default:
		return "partial"
	}
}

// SyncResult is the aggregate outcome of one run. Counts are derived from
// Outcomes by Tally and are not meant to be edited independently.
type SyncResult struct {
	RunID        string
	ProjectID    int
	DownloadRoot string
	StartedAt    time.Time
	FinishedAt   time.Time

	Outcomes  []DownloadOutcome
	Succeeded int
	Failed    int
	Skipped   int

	// Err is set when the listing fetch failed; no items were processed.
	Err error
	// NothingToSync is set when the listing resolved to zero work items.
	NothingToSync bool
}

// Tally recomputes the counters from the outcomes.
func (r *SyncResult) Tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSucceeded:
			r.Succeeded++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
}

// Attempted is the number of items a transfer was started for.
func (r *SyncResult) Attempted() int {
	return r.Succeeded + r.Failed
}

// Completed reports whether the run reached the end of the drive loop with
// at least one item.
func (r *SyncResult) Completed() bool {
	return r.Err == nil && !r.NothingToSync
}

// Classify returns the aggregate state of a completed run. Skipped items are
// never attempted, so a run of only skipped items is partial, not failed.
func (r *SyncResult) Classify() Aggregate {
	switch {
	case r.Succeeded == 0 && r.Attempted() > 0:
		return AggregateAllFailed
	case r.Failed == 0 && r.Skipped == 0 && r.Succeeded > 0:
		return AggregateAllSucceeded
	default:
		return AggregatePartial
	}
}

// OutcomeLabel is the short machine label of the run: fetch_failed,
// nothing_to_sync or the aggregate.
func (r *SyncResult) OutcomeLabel() string {
	switch {
	case r.Err != nil:
		return "fetch_failed"
	case r.NothingToSync:
		return "nothing_to_sync"
	default:
		return r.Classify().String()
	}
}

// Headline is the one-line state shown to the user.
func (r *SyncResult) Headline() string {
	switch {
	case r.Err != nil:
		return "Download Failed"
	case r.NothingToSync:
		return "No Files Available"
	}
	switch r.Classify() {
	case AggregateAllSucceeded:
		return "Download Complete"
	case AggregateAllFailed:
		return "Download Failed"
	default:
		return "Download Partial"
	}
}

// Summary describes the counts, or the reason the run stopped early.
func (r *SyncResult) Summary() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("Failed to fetch file list from server: %v", r.Err)
	case r.NothingToSync:
		return "No discipline files found for this project."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Completed: %d successful", r.Succeeded)
	if r.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", r.Failed)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&b, ", %d missing NWC", r.Skipped)
	}
	return b.String()
}
