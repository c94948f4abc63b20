// Package listing models the discipline listing returned by the cloud
// document service and flattens it into ordered work items.
package listing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bina/bimsync/pkg/models"
)

// Canonical discipline labels.
const (
	Structure    = "Structure"
	Architecture = "Architecture"
	Mechanical   = "Mechanical"
	Electrical   = "Electrical"
)

// Order is the fixed declaration order used for resolution and display.
var Order = []string{Structure, Architecture, Mechanical, Electrical}

// keyAliases maps lower-cased wire keys to canonical labels. Servers differ
// in casing and one variant names the mechanical discipline HVAC.
var keyAliases = map[string]string{
	"structure":    Structure,
	"architecture": Architecture,
	"mechanical":   Mechanical,
	"hvac":         Mechanical,
	"electrical":   Electrical,
}

// CanonicalName returns the canonical label for a wire key.
func CanonicalName(key string) (string, bool) {
	name, ok := keyAliases[strings.ToLower(strings.TrimSpace(key))]
	return name, ok
}

// Discipline is one entry of the listing. It is either a FlatDiscipline or a
// FolderedDiscipline; each variant resolves itself.
type Discipline interface {
	WorkItems(label string) []models.WorkItem
	discipline()
}

// FlatDiscipline carries a single file for the whole discipline.
type FlatDiscipline struct {
	File models.FileRef
}

func (FlatDiscipline) discipline() {}

// WorkItems emits one item when the file has a URL.
func (d FlatDiscipline) WorkItems(label string) []models.WorkItem {
	if d.File.FileURL == "" {
		return nil
	}
	file := d.File
	return []models.WorkItem{{Discipline: label, File: &file}}
}

// Folder is one folder of a foldered discipline. Upstream populates exactly
// one of LatestFile and Error.
type Folder struct {
	ID         models.FlexString `json:"id"`
	Name       string            `json:"name"`
	LatestFile *models.FileRef   `json:"latestFile"`
	Error      string            `json:"error"`
}

// FolderedDiscipline carries an ordered list of folders.
type FolderedDiscipline struct {
	Folders []Folder
}

func (FolderedDiscipline) discipline() {}

// WorkItems emits items in folder order. An explicit error becomes an
// unresolvable item; a folder with no file URL and no error is skipped.
func (d FolderedDiscipline) WorkItems(label string) []models.WorkItem {
	var items []models.WorkItem
	for _, f := range d.Folders {
		switch {
		case f.Error != "":
			items = append(items, models.WorkItem{
				Discipline:   label,
				Folder:       f.Name,
				Unresolvable: f.Error,
			})
		case f.LatestFile != nil && f.LatestFile.FileURL != "":
			file := *f.LatestFile
			items = append(items, models.WorkItem{
				Discipline: label,
				Folder:     f.Name,
				File:       &file,
			})
		}
	}
	return items
}

// DisciplineListing maps canonical discipline labels to their entry.
// Absent disciplines have no key.
type DisciplineListing struct {
	Disciplines map[string]Discipline
}

// Get returns the entry for a canonical label.
func (l *DisciplineListing) Get(label string) (Discipline, bool) {
	if l == nil || l.Disciplines == nil {
		return nil, false
	}
	d, ok := l.Disciplines[label]
	return d, ok && d != nil
}

// UnmarshalJSON decodes the latest-shared-urls response. Keys are matched
// per discipline without regard to casing. When two keys name the same
// discipline the exact canonical key wins, then the first in sorted order.
func (l *DisciplineListing) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode discipline listing: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, _ := CanonicalName(keys[i])
		cj, _ := CanonicalName(keys[j])
		exactI, exactJ := keys[i] == ci, keys[j] == cj
		if exactI != exactJ {
			return exactI
		}
		return keys[i] < keys[j]
	})

	l.Disciplines = make(map[string]Discipline)
	for _, key := range keys {
		label, ok := CanonicalName(key)
		if !ok {
			continue
		}
		if _, taken := l.Disciplines[label]; taken {
			continue
		}
		d, err := decodeDiscipline(raw[key])
		if err != nil {
			return fmt.Errorf("decode discipline %q: %w", key, err)
		}
		if d != nil {
			l.Disciplines[label] = d
		}
	}
	return nil
}

// decodeDiscipline picks the variant from the JSON shape: an array, or an
// object with "folders", is foldered; any other object is a flat file.
func decodeDiscipline(raw json.RawMessage) (Discipline, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		folders, err := decodeFolders(raw)
		if err != nil {
			return nil, err
		}
		return FolderedDiscipline{Folders: folders}, nil
	case '{':
		var shape struct {
			Folders json.RawMessage `json:"folders"`
		}
		if err := json.Unmarshal(raw, &shape); err != nil {
			return nil, err
		}
		if len(shape.Folders) > 0 && !bytes.Equal(bytes.TrimSpace(shape.Folders), []byte("null")) {
			folders, err := decodeFolders(shape.Folders)
			if err != nil {
				return nil, err
			}
			return FolderedDiscipline{Folders: folders}, nil
		}
		var file models.FileRef
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, err
		}
		return FlatDiscipline{File: file}, nil
	default:
		return nil, fmt.Errorf("unexpected discipline value %s", truncate(raw, 40))
	}
}

// decodeFolders drops null entries and keeps listing order.
func decodeFolders(raw json.RawMessage) ([]Folder, error) {
	var ptrs []*Folder
	if err := json.Unmarshal(raw, &ptrs); err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(ptrs))
	for _, f := range ptrs {
		if f != nil {
			folders = append(folders, *f)
		}
	}
	return folders, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
