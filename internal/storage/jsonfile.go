package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/pkg/types"
)

// logDocument is the on-disk layout of the JSON history log. Entries are kept
// raw so one malformed record does not prevent the rest from loading.
type logDocument struct {
	Version   string            `json:"version"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Entries   []json.RawMessage `json:"entries"`
}

// JSONFile stores the history log as one JSON document.
type JSONFile struct {
	path string
	mu   sync.Mutex // serialises writers within this process only
}

// NewJSONFile returns a JSONFile store at path. The file is created on the
// first Save.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

func (s *JSONFile) Path() string { return s.path }

func (s *JSONFile) Close() error { return nil }

func (s *JSONFile) Load(_ context.Context) ([]types.HistoryEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *JSONFile) load() ([]types.HistoryEntry, int, error) {
	var doc logDocument
	if err := ReadJSON(s.path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	entries := make([]types.HistoryEntry, 0, len(doc.Entries))
	skipped := 0
	for i, raw := range doc.Entries {
		var e types.HistoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			slog.Warn("storage: skipping undecodable history entry",
				"path", s.path, "index", i, "err", err)
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, nil
}

func (s *JSONFile) Save(_ context.Context, entries []types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(entries)
}

func (s *JSONFile) save(entries []types.HistoryEntry) error {
	doc := logDocument{
		Version:   types.EntryVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   make([]json.RawMessage, 0, len(entries)),
	}
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return &errs.StorageError{Op: "encode", Path: s.path, Err: err}
		}
		doc.Entries = append(doc.Entries, raw)
	}
	return WriteJSON(s.path, doc)
}

func (s *JSONFile) Append(_ context.Context, entry types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _, err := s.load()
	if err != nil {
		return err
	}
	return s.save(append(entries, entry))
}

// ReadJSON decodes the JSON file at path into v. A missing file is reported
// as an error wrapping fs.ErrNotExist.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &errs.StorageError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &errs.StorageError{Op: "decode", Path: path, Err: err}
	}
	return nil
}

// WriteJSON encodes v as indented JSON and atomically replaces path with it,
// creating parent directories as needed.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &errs.StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errs.StorageError{Op: "mkdir", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &errs.StorageError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errs.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &errs.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &errs.StorageError{Op: "rename", Path: path, Err: fmt.Errorf("replace: %w", err)}
	}
	return nil
}
