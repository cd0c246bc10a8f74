// Package progress fans job record transitions out to pluggable sinks. A Hub
// buffers events on a background goroutine so the job runner never blocks on
// logging, metrics, notifications or live subscribers.
package progress
