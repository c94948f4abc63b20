// Package history records finished sync runs in a local bbolt database.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/pkg/models"
)

const runsBucketName = "runs"

// Item is the stored form of one outcome.
type Item struct {
	Label    string `json:"label"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// Entry is the stored form of one run.
type Entry struct {
	Seq        uint64    `json:"-"`
	RunID      string    `json:"run_id"`
	ProjectID  int       `json:"project_id"`
	Root       string    `json:"root"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Headline   string    `json:"headline"`
	Summary    string    `json:"summary"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Items      []Item    `json:"items,omitempty"`
}

// NewEntry converts a result into its stored form.
func NewEntry(r *models.SyncResult) Entry {
	e := Entry{
		RunID:      r.RunID,
		ProjectID:  r.ProjectID,
		Root:       r.DownloadRoot,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Outcome:    r.OutcomeLabel(),
		Headline:   r.Headline(),
		Summary:    r.Summary(),
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
	}
	for _, o := range r.Outcomes {
		e.Items = append(e.Items, Item{
			Label:    o.Item.Label(),
			FileName: o.Item.DisplayName(),
			Status:   o.Status.String(),
			Detail:   o.Detail,
		})
	}
	return e
}

// Store is the run history database.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		logging.Error("failed to open history database",
			logging.String("path", path),
			logging.Err(err),
		)
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}

	logging.Debug("history database opened", logging.String("path", path))
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a finished run.
func (s *Store) Record(r *models.SyncResult) (Entry, error) {
	entry := NewEntry(r)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucketName))
		if bucket == nil {
			return bolterrors.ErrBucketNotFound
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return entry, nil
}

// Recent returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucketName))
		if bucket == nil {
			return bolterrors.ErrBucketNotFound
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			e.Seq = binary.BigEndian.Uint64(k)
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the run with the given id.
func (s *Store) Get(runID string) (Entry, bool, error) {
	var (
		found Entry
		ok    bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucketName))
		if bucket == nil {
			return bolterrors.ErrBucketNotFound
		}
		return bucket.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			if e.RunID == runID {
				e.Seq = binary.BigEndian.Uint64(k)
				found, ok = e, true
			}
			return nil
		})
	})
	return found, ok, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
