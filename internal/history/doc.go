// Package history owns the persisted log of test runs.
//
// Manager keeps the log in memory sorted by run timestamp, maintains four
// derived indices (framework, UTC day, pass/fail status, source) that are
// rebuilt in full after every change, and writes through to a storage.Store.
// Storage failures are logged and counted, never returned to callers: the
// in-memory log stays authoritative for the life of the process.
//
// Retention removes entries older than the configured age first, then trims
// the oldest entries until at most MaxEntries remain.
package history
