package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bina/bimsync/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func partialResult(runID string) *models.SyncResult {
	start := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	r := &models.SyncResult{
		RunID:        runID,
		ProjectID:    9,
		DownloadRoot: "/data/bim",
		StartedAt:    start,
		FinishedAt:   start.Add(42 * time.Second),
		Outcomes: []models.DownloadOutcome{
			{
				Item:   models.WorkItem{Discipline: "Structure", Folder: "L1", File: &models.FileRef{FileName: "a.nwc"}},
				Status: models.StatusSucceeded,
				Detail: "/data/bim/Structure/L1/a.nwc",
			},
			{
				Item:   models.WorkItem{Discipline: "Architecture", Folder: "L2", Unresolvable: "No NWC linked"},
				Status: models.StatusSkipped,
				Detail: "No NWC linked",
			},
		},
	}
	r.Tally()
	return r
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	for i := 1; i <= 3; i++ {
		if _, err := s.Record(partialResult(fmt.Sprintf("run-%d", i))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-3" || entries[1].RunID != "run-2" {
		t.Errorf("expected newest first, got %s, %s", entries[0].RunID, entries[1].RunID)
	}
	if entries[0].Seq != 3 {
		t.Errorf("expected seq 3, got %d", entries[0].Seq)
	}

	e := entries[0]
	if e.Outcome != "partial" || e.Headline != "Download Partial" {
		t.Errorf("unexpected classification %q %q", e.Outcome, e.Headline)
	}
	if e.Succeeded != 1 || e.Skipped != 1 || e.Failed != 0 {
		t.Errorf("unexpected counts %+v", e)
	}
	if len(e.Items) != 2 || e.Items[1].FileName != "(No NWC linked)" || e.Items[1].Status != "skipped" {
		t.Errorf("unexpected items %+v", e.Items)
	}

	all, err := s.Recent(0)
	if err != nil || len(all) != 3 {
		t.Errorf("expected all 3 entries, got %d (%v)", len(all), err)
	}
}

func TestGet(t *testing.T) {
	s := openTestStore(t)
	s.Record(partialResult("run-a"))
	s.Record(partialResult("run-b"))

	e, ok, err := s.Get("run-a")
	if err != nil || !ok {
		t.Fatalf("expected run-a, got ok=%v err=%v", ok, err)
	}
	if e.ProjectID != 9 || e.Root != "/data/bim" {
		t.Errorf("unexpected entry %+v", e)
	}

	if _, ok, _ := s.Get("missing"); ok {
		t.Error("expected missing run not found")
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		result *models.SyncResult
		want   string
	}{
		{&models.SyncResult{Err: errors.New("unauthorized")}, "fetch_failed"},
		{&models.SyncResult{NothingToSync: true}, "nothing_to_sync"},
		{&models.SyncResult{Succeeded: 2}, "all_succeeded"},
		{&models.SyncResult{Failed: 2}, "all_failed"},
		{&models.SyncResult{Succeeded: 1, Failed: 1}, "partial"},
	}
	for _, tt := range tests {
		if got := NewEntry(tt.result).Outcome; got != tt.want {
			t.Errorf("outcome of %+v = %q, want %q", tt.result, got, tt.want)
		}
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Record(partialResult("run-1"))
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	entries, _ := s.Recent(10)
	if len(entries) != 1 || entries[0].RunID != "run-1" {
		t.Errorf("expected persisted run, got %+v", entries)
	}
}
