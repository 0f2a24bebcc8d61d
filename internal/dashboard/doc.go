// Package dashboard composes the collector, history manager, metrics
// aggregator and push hub into the running service.
//
// New builds and loads every component; Serve binds them to listeners and
// blocks until its context is cancelled, then shuts down in order: the
// collector stops, push clients are disconnected, in-flight HTTP requests
// finish, and the final statistics and metrics log are flushed to disk.
//
// Each collected result is added to history, recorded by the aggregator and
// published to the "results" channel and to the channel named after its
// framework. A scheduler republishes the last hour's report to "stats" every
// StatsInterval and runs retention every CleanupInterval.
package dashboard
