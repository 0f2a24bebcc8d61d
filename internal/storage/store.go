package storage

import (
	"context"
	"fmt"

	"github.com/testpulse/testpulse/pkg/types"
)

// Store is the persistence contract for the history log.
type Store interface {
	// Load returns every decodable entry in storage order. skipped counts
	// records that could not be decoded; they are dropped, not returned.
	// A missing store is not an error.
	Load(ctx context.Context) (entries []types.HistoryEntry, skipped int, err error)

	// Save replaces the stored log with entries.
	Save(ctx context.Context, entries []types.HistoryEntry) error

	// Append adds one entry to the stored log.
	Append(ctx context.Context, entry types.HistoryEntry) error

	// Path is the location of the backing file, for diagnostics.
	Path() string

	Close() error
}

// Open returns the backend named by backend ("json" or "sqlite") at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "json", "":
		return NewJSONFile(path), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
