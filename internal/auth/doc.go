// Package auth provides API key authentication for the dashboard's REST,
// WebSocket and gRPC surfaces.
//
// Middleware(mode, header, key) wraps an http.Handler; APIKeyInterceptor
// returns the equivalent gRPC UnaryServerInterceptor. When mode != "apikey"
// or key == "", both pass every call through, which is the default for a
// local dashboard.
package auth
