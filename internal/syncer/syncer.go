// Package syncer drives one discipline sync run: fetch the listing, resolve
// it into work items, then drain the items one at a time through the file
// transfer client.
package syncer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bina/bimsync/internal/events"
	"github.com/bina/bimsync/internal/listing"
	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/internal/metrics"
	"github.com/bina/bimsync/pkg/models"
	"github.com/bina/bimsync/pkg/transfer"
)

// DetailCancelled is the failure detail of items not attempted because the
// run was cancelled.
const DetailCancelled = "cancelled"

// ListingFetcher fetches the discipline listing of a project.
type ListingFetcher interface {
	FetchDisciplineListing(ctx context.Context, projectID int, accessToken string) (*listing.DisciplineListing, error)
}

// Transferer downloads one file into a directory.
type Transferer interface {
	DownloadFile(ctx context.Context, rawURL, destDir, fileName string) (string, error)
}

// Syncer runs sync passes. A Syncer holds no per-run state and may be
// reused for sequential or concurrent runs.
type Syncer struct {
	listing  ListingFetcher
	transfer Transferer
	events   *events.Broadcaster
	now      func() time.Time
	newRunID func() string
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithEvents publishes progress events to b.
func WithEvents(b *events.Broadcaster) Option {
	return func(s *Syncer) { s.events = b }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithRunIDFunc overrides run ID generation.
func WithRunIDFunc(fn func() string) Option {
	return func(s *Syncer) { s.newRunID = fn }
}

// New creates a Syncer.
func New(l ListingFetcher, t Transferer, opts ...Option) *Syncer {
	s := &Syncer{
		listing:  l,
		transfer: t,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DestinationDir is the directory an item's file is written to:
// root/discipline for flat items and root/discipline/folder otherwise.
// Each segment is reduced to a single path element so a server-supplied
// folder name cannot leave root.
func DestinationDir(root string, item models.WorkItem) string {
	if item.Folder == "" {
		return filepath.Join(root, models.PathElement(item.Discipline))
	}
	return filepath.Join(root, models.PathElement(item.Discipline), models.PathElement(item.Folder))
}

// DestinationPath is the full local path of a resolvable item. A file with
// neither a name nor a URL path is stored under a timestamped name, so only
// the directory is stable for it.
func DestinationPath(root string, item models.WorkItem) string {
	if item.File == nil {
		return DestinationDir(root, item)
	}
	return filepath.Join(DestinationDir(root, item), transfer.LocalName(item.File.FileName, item.File.FileURL, time.Now()))
}

// Run performs one sync pass. It never returns nil. A listing failure
// yields a result with Err set and no outcomes; an empty listing yields a
// result with NothingToSync set. Otherwise every work item has exactly one
// terminal outcome, in resolver order.
func (s *Syncer) Run(ctx context.Context, projectID int, accessToken, downloadRoot string) *models.SyncResult {
	result := &models.SyncResult{
		RunID:        s.newRunID(),
		ProjectID:    projectID,
		DownloadRoot: downloadRoot,
		StartedAt:    s.now(),
	}
	ctx = logging.WithRunID(ctx, result.RunID)
	log := logging.WithContext(ctx)

	log.Info("sync run started",
		logging.Int("project_id", projectID),
		logging.String("download_root", downloadRoot),
	)
	s.publish(events.Event{Type: events.EventRunStarted, RunID: result.RunID, ProjectID: projectID})

	l, err := s.listing.FetchDisciplineListing(ctx, projectID, accessToken)
	if err != nil {
		result.Err = err
		log.Error("fetch discipline listing failed", logging.Err(err))
		s.publish(events.Event{Type: events.EventListingFailed, RunID: result.RunID, ProjectID: projectID, Detail: err.Error()})
		return s.finish(ctx, result)
	}

	items := listing.Resolve(l)
	total := len(items)
	log.Info("listing resolved",
		logging.Int("items", total),
		logging.Int("files", listing.CountFiles(items)),
	)
	s.publish(events.Event{Type: events.EventResolved, RunID: result.RunID, ProjectID: projectID, Total: total})

	if total == 0 {
		result.NothingToSync = true
		return s.finish(ctx, result)
	}

	result.Outcomes = make([]models.DownloadOutcome, 0, total)
	for i, item := range items {
		outcome := s.process(ctx, i, total, result.RunID, item, downloadRoot)
		result.Outcomes = append(result.Outcomes, outcome)
		metrics.RecordSyncItem(outcome.Status.String())
	}

	result.Tally()
	return s.finish(ctx, result)
}

// process moves one item from Pending to a terminal status.
func (s *Syncer) process(ctx context.Context, index, total int, runID string, item models.WorkItem, root string) models.DownloadOutcome {
	log := logging.WithContext(ctx)
	outcome := models.DownloadOutcome{Item: item}

	switch {
	case !item.Resolvable():
		outcome.Status = models.StatusSkipped
		outcome.Detail = item.Unresolvable
		log.Warn("folder has no file linked",
			logging.String("item", item.Label()),
			logging.String("reason", item.Unresolvable),
		)

	case ctx.Err() != nil:
		outcome.Status = models.StatusFailed
		outcome.Detail = DetailCancelled

	default:
		s.publishItem(runID, index, total, item, models.StatusDownloading, "")
		path, err := s.transfer.DownloadFile(ctx, item.File.FileURL, DestinationDir(root, item),
			transfer.LocalName(item.File.FileName, item.File.FileURL, s.now()))
		if err != nil {
			outcome.Status = models.StatusFailed
			outcome.Detail = err.Error()
			log.Warn("download failed",
				logging.String("item", item.Label()),
				logging.String("file", item.DisplayName()),
				logging.Err(err),
			)
		} else {
			outcome.Status = models.StatusSucceeded
			outcome.Detail = path
			log.Info("downloaded",
				logging.String("item", item.Label()),
				logging.String("path", path),
			)
		}
	}

	s.publishItem(runID, index, total, item, outcome.Status, outcome.Detail)
	return outcome
}

func (s *Syncer) finish(ctx context.Context, result *models.SyncResult) *models.SyncResult {
	result.FinishedAt = s.now()
	outcome := result.OutcomeLabel()
	duration := result.FinishedAt.Sub(result.StartedAt)
	metrics.RecordSyncRun(outcome, duration)

	logging.WithContext(ctx).Info("sync run finished",
		logging.String("outcome", outcome),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
		logging.Duration("duration", duration),
	)
	s.publish(events.Event{
		Type:      events.EventRunFinished,
		RunID:     result.RunID,
		ProjectID: result.ProjectID,
		Total:     len(result.Outcomes),
		Status:    outcome,
		Detail:    result.Summary(),
	})
	return result
}

func (s *Syncer) publishItem(runID string, index, total int, item models.WorkItem, status models.Status, detail string) {
	it := item
	s.publish(events.Event{
		Type:     events.EventItem,
		RunID:    runID,
		Index:    index,
		Total:    total,
		Status:   status.String(),
		Label:    item.Label(),
		FileName: item.DisplayName(),
		Detail:   detail,
		Item:     &it,
	})
}

func (s *Syncer) publish(e events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(e)
}
