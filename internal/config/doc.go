// Package config loads testpulse configuration from a YAML file.
//
// Config fields:
//   - Server.HTTPPort       : REST API, WebSocket hub and /metrics (default 8080)
//   - Server.GRPCPort       : gRPC health service (default 50051, 0 disables)
//   - Server.Auth           : "apikey" or "none"; key resolved from KeyEnv
//   - Server.StatsInterval  : stats-update broadcast period (default 30s)
//   - Server.CleanupInterval: retention sweep period (default 1h)
//   - Collector.*           : watched targets, poll interval, snapshot dir
//   - History.*             : backend (json|sqlite), retention, max entries
//   - Metrics.*             : metrics log and final-stats snapshot paths
//   - Log.Level / Log.Format: slog level and handler
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) re-runs Load whenever the file changes.
package config
