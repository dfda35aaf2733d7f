package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/lattice-hooks/internal/hook"
)

const recordTimeLayout = "20060102T150405.000000000Z"

// CompletionRecord is the audit entry written once per worker completion.
type CompletionRecord struct {
	ID        string       `json:"id"`
	Worker    string       `json:"subagent"`
	Timestamp time.Time    `json:"timestamp"`
	Result    hook.Payload `json:"result"`
}

// Recorder appends completion records to a directory, one file each.
type Recorder struct {
	dir   string
	clock func() time.Time
	newID func() string
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock overrides the timestamp source.
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRecorder writes records under dir.
func NewRecorder(dir string, opts ...RecorderOption) *Recorder {
	r := &Recorder{dir: dir, clock: time.Now, newID: func() string { return uuid.NewString() }}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Dir returns the records directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Record writes a new record for worker. Files are created exclusively, so an
// existing record is never overwritten.
func (r *Recorder) Record(worker string, result hook.Payload) (CompletionRecord, string, error) {
	if result == nil {
		result = hook.Payload{}
	}
	rec := CompletionRecord{
		ID:        r.newID(),
		Worker:    worker,
		Timestamp: r.clock().UTC(),
		Result:    result,
	}
	encoded, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return rec, "", fmt.Errorf("results: encode record: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return rec, "", fmt.Errorf("results: create dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.json", fileSafe(worker), rec.Timestamp.Format(recordTimeLayout), shortID(rec.ID))
	path := filepath.Join(r.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return rec, "", fmt.Errorf("results: create %s: %w", name, err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		file.Close()
		return rec, path, fmt.Errorf("results: write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		return rec, path, fmt.Errorf("results: close %s: %w", name, err)
	}
	return rec, path, nil
}

// Recent returns up to limit records, newest first. Unreadable files are
// skipped.
func (r *Recorder) Recent(limit int) ([]CompletionRecord, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("results: list %s: %w", r.dir, err)
	}
	var records []CompletionRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec CompletionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func fileSafe(worker string) string {
	worker = strings.TrimSpace(worker)
	if worker == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, worker)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
