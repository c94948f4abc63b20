package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/pkg/models"
)

// MirrorKey is the object key of a downloaded item:
// prefix/project-<id>/<discipline>/<folder>/<file>. The item segments are
// single path elements, so a key never leaves its project.
func MirrorKey(prefix string, projectID int, item models.WorkItem, fileName string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, fmt.Sprintf("project-%d", projectID), models.PathElement(item.Discipline))
	if item.Folder != "" {
		parts = append(parts, models.PathElement(item.Folder))
	}
	parts = append(parts, models.PathElement(fileName))
	return path.Join(parts...)
}

// MirrorReport summarizes one publish pass.
type MirrorReport struct {
	Published int
	Failed    int
}

// Mirror replicates the succeeded files of a run to a Backend. Mirror
// failures are logged and counted; they never change the run result.
type Mirror struct {
	backend Backend
	prefix  string
}

// NewMirror creates a mirror publishing under prefix.
func NewMirror(b Backend, prefix string) *Mirror {
	return &Mirror{backend: b, prefix: prefix}
}

// Publish uploads every succeeded outcome of result. The outcome detail
// holds the local path written by the run.
func (m *Mirror) Publish(ctx context.Context, result *models.SyncResult) MirrorReport {
	var report MirrorReport
	log := logging.WithContext(ctx)

	for _, o := range result.Outcomes {
		if o.Status != models.StatusSucceeded {
			continue
		}
		if ctx.Err() != nil {
			report.Failed++
			continue
		}
		key := MirrorKey(m.prefix, result.ProjectID, o.Item, filepath.Base(o.Detail))
		if err := m.publishFile(ctx, key, o.Detail); err != nil {
			report.Failed++
			log.Warn("mirror upload failed",
				logging.String("backend", m.backend.Type()),
				logging.String("key", key),
				logging.Err(err),
			)
			continue
		}
		report.Published++
	}

	log.Info("mirror published",
		logging.String("backend", m.backend.Type()),
		logging.Int("published", report.Published),
		logging.Int("failed", report.Failed),
	)
	return report
}

func (m *Mirror) publishFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return m.backend.PutObject(ctx, key, f, info.Size())
}
