package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want FlexString
	}{
		{`"v3"`, "v3"},
		{`4`, "4"},
		{`12.5`, "12.5"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f FlexString
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Errorf("%s: unexpected error %v", tt.in, err)
			continue
		}
		if f != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.in, tt.want, f)
		}
	}

	var f FlexString
	if err := json.Unmarshal([]byte(`{"a":1}`), &f); err == nil {
		t.Error("expected error for object")
	}
}

func TestWorkItemLabels(t *testing.T) {
	foldered := WorkItem{Discipline: "Structure", Folder: "L1", File: &FileRef{FileName: "a.nwc", FileURL: "u"}}
	if foldered.Label() != "Structure / L1" || foldered.DisplayName() != "a.nwc" || !foldered.Resolvable() {
		t.Errorf("unexpected foldered item rendering: %q %q", foldered.Label(), foldered.DisplayName())
	}

	flat := WorkItem{Discipline: "Electrical", File: &FileRef{FileURL: "https://x/e.nwc"}}
	if flat.Label() != "Electrical" || flat.DisplayName() != "https://x/e.nwc" {
		t.Errorf("unexpected flat item rendering: %q %q", flat.Label(), flat.DisplayName())
	}

	missing := WorkItem{Discipline: "Mechanical", Folder: "M1", Unresolvable: "no file"}
	if missing.Resolvable() || missing.DisplayName() != "(No NWC linked)" {
		t.Errorf("unexpected unresolvable rendering: %q", missing.DisplayName())
	}
}

func TestPathElement(t *testing.T) {
	tests := map[string]string{
		"L1-Beams":      "L1-Beams",
		"Level 2":       "Level 2",
		"../../escaped": "escaped",
		`..\..\escaped`: "escaped",
		"a/b/c.nwc":     "c.nwc",
		"/etc/passwd":   "passwd",
		"trailing/":     "trailing",
		"..":            "_",
		".":             "_",
		"":              "_",
		"  ":            "_",
		"/":             "_",
		"../":           "_",
	}
	for in, want := range tests {
		if got := PathElement(in); got != want {
			t.Errorf("PathElement(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusSkipped} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusDownloading} {
		if s.Terminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}

func TestParseClashCategory(t *testing.T) {
	c, err := ParseClashCategory(" structure_vs_mep ")
	if err != nil || c != ClashStructureMEP {
		t.Errorf("expected STRUCTURE_VS_MEP, got %q (%v)", c, err)
	}
	if _, err := ParseClashCategory("plumbing"); err == nil {
		t.Error("expected error for unknown category")
	}
	if ClashCategory("NOPE").Valid() {
		t.Error("NOPE should not be valid")
	}
	if len(ClashCategories()) != 5 {
		t.Errorf("expected 5 categories, got %d", len(ClashCategories()))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name                       string
		succeeded, failed, skipped int
		want                       Aggregate
	}{
		{"all succeeded", 3, 0, 0, AggregateAllSucceeded},
		{"all failed", 0, 2, 0, AggregateAllFailed},
		{"failed with skipped", 0, 1, 2, AggregateAllFailed},
		{"mixed", 2, 1, 0, AggregatePartial},
		{"succeeded with skipped", 1, 0, 1, AggregatePartial},
		{"only skipped", 0, 0, 2, AggregatePartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &SyncResult{Succeeded: tt.succeeded, Failed: tt.failed, Skipped: tt.skipped}
			if got := r.Classify(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTally(t *testing.T) {
	r := &SyncResult{Outcomes: []DownloadOutcome{
		{Status: StatusSucceeded},
		{Status: StatusFailed},
		{Status: StatusSkipped},
		{Status: StatusSucceeded},
	}}
	r.Tally()
	if r.Succeeded != 2 || r.Failed != 1 || r.Skipped != 1 || r.Attempted() != 3 {
		t.Errorf("unexpected tally %d/%d/%d", r.Succeeded, r.Failed, r.Skipped)
	}
}

func TestHeadlineAndSummary(t *testing.T) {
	tests := []struct {
		name     string
		result   SyncResult
		headline string
		summary  string
	}{
		{
			"fetch failed",
			SyncResult{Err: errors.New("unauthorized")},
			"Download Failed",
			"Failed to fetch file list from server: unauthorized",
		},
		{
			"nothing",
			SyncResult{NothingToSync: true},
			"No Files Available",
			"No discipline files found for this project.",
		},
		{
			"partial",
			SyncResult{Succeeded: 3, Failed: 1, Skipped: 2},
			"Download Partial",
			"Completed: 3 successful, 1 failed, 2 missing NWC",
		},
		{
			"complete",
			SyncResult{Succeeded: 4},
			"Download Complete",
			"Completed: 4 successful",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Headline(); got != tt.headline {
				t.Errorf("headline: expected %q, got %q", tt.headline, got)
			}
			if got := tt.result.Summary(); got != tt.summary {
				t.Errorf("summary: expected %q, got %q", tt.summary, got)
			}
		})
	}
}
