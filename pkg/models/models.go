// Package models contains the domain types shared by the sync engine, its
// clients and the command line front end.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// FlexString decodes from either a JSON string or a JSON number. The service
// is not consistent about quoting identifiers and version labels.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the plain string value.
func (f FlexString) String() string { return string(f) }

// ProjectRef identifies a sync target.
type ProjectRef struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FileRef identifies one downloadable artifact. The same folder can point to
// a different FileRef on a later fetch; the engine always takes the latest.
type FileRef struct {
	ID        FlexString `json:"id,omitempty"`
	FileName  string     `json:"fileName"`
	FileURL   string     `json:"fileUrl"`
	Version   FlexString `json:"version,omitempty"`
	FileSize  int64      `json:"fileSize,omitempty"`
	CreatedAt string     `json:"createdAt,omitempty"`
}

// WorkItem is one unit of work produced by the listing resolver. Exactly one
// of File and Unresolvable is set.
type WorkItem struct {
	Discipline   string
	Folder       string // empty for flat listings
	File         *FileRef
	Unresolvable string
}

// Resolvable reports whether the item carries a file to download.
func (w WorkItem) Resolvable() bool {
	return w.File != nil
}

// Label returns "Discipline / Folder", or just the discipline for flat items.
func (w WorkItem) Label() string {
	if w.Folder == "" {
		return w.Discipline
	}
	return w.Discipline + " / " + w.Folder
}

// PathElement reduces a server-supplied name to a single path element so
// it cannot address a parent directory. Both slash styles count as
// separators. Names with no usable element become "_".
func PathElement(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return "_"
	}
	return name
}

// DisplayName returns the file name shown for the item.
func (w WorkItem) DisplayName() string {
	if w.File == nil {
		return "(No NWC linked)"
	}
	if w.File.FileName != "" {
		return w.File.FileName
	}
	return w.File.FileURL
}

// Status is the per-item state of a sync run.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// DownloadOutcome is the per-item record of a run. Detail holds the local
// path on success, the cause on failure and the server reason when skipped.
type DownloadOutcome struct {
	Item   WorkItem
	Status Status
	Detail string
}

// ClashCategory is the closed set of report categories accepted by the
// clash-detection upload endpoint. Values are the wire tokens.
type ClashCategory string

const (
	ClashArchitectureStructure ClashCategory = "ARCHITECTURE_VS_STRUCTURE"
	ClashArchitectureMEP       ClashCategory = "ARCHITECTURE_VS_MEP"
	ClashStructureMEP          ClashCategory = "STRUCTURE_VS_MEP"
	ClashMEPMEP                ClashCategory = "MEP_VS_MEP"
	ClashGeneral               ClashCategory = "GENERAL"
)

// ClashCategoryInfo pairs a category with its display name.
type ClashCategoryInfo struct {
	Category    ClashCategory
	DisplayName string
}

var clashCategories = []ClashCategoryInfo{
	{ClashArchitectureStructure, "Architecture vs Structure"},
	{ClashArchitectureMEP, "Architecture vs MEP"},
	{ClashStructureMEP, "Structure vs MEP"},
	{ClashMEPMEP, "MEP vs MEP"},
	{ClashGeneral, "General"},
}

// ClashCategories returns every known category in display order.
func ClashCategories() []ClashCategoryInfo {
	out := make([]ClashCategoryInfo, len(clashCategories))
	copy(out, clashCategories)
	return out
}

// ParseClashCategory accepts a wire token, case-insensitively.
func ParseClashCategory(s string) (ClashCategory, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for _, info := range clashCategories {
		if string(info.Category) == want {
			return info.Category, nil
		}
	}
	return "", fmt.Errorf("unknown clash category %q", s)
}

// Valid reports whether c is one of the known categories.
func (c ClashCategory) Valid() bool {
	_, err := ParseClashCategory(string(c))
	return err == nil
}
