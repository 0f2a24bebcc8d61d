// Package metrics derives AggregatedReports from a log of run metrics.
//
// The Aggregator keeps its own metrics log (one RunMetric per ingested
// result, persisted as JSON) and never touches the history log. Reports are
// memoized per time range; the cache is only invalidated by an explicit
// Refresh or a forced GetAggregatedData, so a report may lag behind Record.
//
// Health scoring lives in score.go, trend classification in trend.go and the
// advisory recommendations in recommendations.go.
package metrics
