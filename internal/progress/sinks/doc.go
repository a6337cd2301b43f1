// Package sinks implements progress consumers for structured logs and
// Prometheus counters.
package sinks
