// Package grpcsvc runs the dashboard's gRPC listener.
//
// The listener exposes the standard grpc.health.v1 service so orchestrators
// and load balancers can probe the dashboard. The ServiceName entry reports
// NOT_SERVING until the dashboard has loaded its stores and SERVING after;
// Stop flips every entry to NOT_SERVING before draining connections.
// Authentication is enforced by the interceptors passed to New (see package
// auth).
package grpcsvc
