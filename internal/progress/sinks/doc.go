// Package sinks implements progress consumers: structured logging, Prometheus
// job metrics, completion notifications and per-job live subscriptions.
package sinks
