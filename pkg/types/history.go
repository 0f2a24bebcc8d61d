package types

import "time"

// EntryVersion is written into the metadata of every stored entry.
const EntryVersion = "1.0"

// HistoryEntry is a stored NormalizedResult. ID is assigned by the history
// manager and differs from ResultID, the id the collector generated.
//
// The embedded result's own id is shadowed by ID when encoded; ResultID keeps
// it across a JSON round trip.
type HistoryEntry struct {
	NormalizedResult
	ID       string        `json:"id"`
	ResultID string        `json:"resultId"`
	Metadata EntryMetadata `json:"metadata"`
}

// EntryMetadata records when and in which format an entry was stored.
type EntryMetadata struct {
	StoredAt time.Time `json:"storedAt"`
	Version  string    `json:"version"`
}

// Status reports the index bucket for the entry: "passed" or "failed".
func (e *HistoryEntry) Status() string {
	if e.Summary.Success {
		return string(StatusPassed)
	}
	return string(StatusFailed)
}

// Day is the UTC calendar date of the entry, formatted YYYY-MM-DD.
func (e *HistoryEntry) Day() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// Valid reports whether the entry carries the fields every index and query
// relies on.
func (e *HistoryEntry) Valid() bool {
	return e.ID != "" && e.Framework != "" && !e.Timestamp.IsZero()
}
