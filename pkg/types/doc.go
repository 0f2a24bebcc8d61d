// Package types defines the canonical test-run records shared by the
// collector, the history manager, the metrics aggregator and the API.
// Every input format is normalised into a NormalizedResult before it reaches
// any other component.
package types
