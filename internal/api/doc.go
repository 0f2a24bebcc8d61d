// Package api implements the dashboard's HTTP surface.
//
// New(opts) returns an http.Handler that serves:
//
//	GET /api/dashboard/overview    aggregated report for ?timeRange= plus recent runs
//	GET /api/results               paginated history query
//	GET /api/results/{id}          single entry; 404 if unknown
//	GET /api/stats                 history totals overall and per framework
//	GET /api/trends                calendar-bucketed trend series
//	GET /api/coverage              latest or windowed coverage per framework
//	GET /api/failures/patterns     recurring failure signatures
//	GET /api/system/status         process and store summary
//	GET /api/system/storage        on-disk file sizes
//	GET /api/export/history        history log as JSON or CSV
//	GET /api/export/metrics        report (JSON) or run metrics (CSV)
//	GET /health                    liveness
//	GET /metrics                   Prometheus text exposition
//	    /ws                        WebSocket hub, when one is configured
//
// Every /api response is an envelope:
//
//	{"success": true, "data": ...}
//	{"success": false, "error": "validation_error", "message": "invalid limit: ..."}
//
// Non-GET methods get 405. NotFoundError maps to 404, ValidationError to 400
// and anything else to 500 with a generic message.
package api
