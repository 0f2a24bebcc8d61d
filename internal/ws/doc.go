// Package ws implements the WebSocket pub/sub hub for the dashboard.
//
// New(channels...) creates a Hub advertising the given channel names.
// Hub.ServeHTTP upgrades a connection, sends a welcome message listing the
// channels and then serves the client until it disconnects. Hub.Run blocks
// until its context is cancelled, then closes every connection.
//
// Clients opt in to channels explicitly:
//
//	{"type": "subscribe",   "channels": ["results", "unit"]}
//	{"type": "unsubscribe", "channels": ["unit"]}
//
// and receive an acknowledgement listing their current subscriptions:
//
//	{"type": "subscribed", "channels": ["results", "unit"], "timestamp": "..."}
//
// Hub.Publish sends one message to every subscriber of a channel:
//
//	{"type": "result-update", "channel": "results", "data": {...}, "timestamp": "..."}
//
// Delivery never blocks the publisher. A client whose outgoing buffer is full
// is disconnected.
package ws
