// Package sinks implements concrete consumers of coordinator transition
// events: Prometheus collectors, session persistence, and structured logging.
// Each sink satisfies progress.Sink and is safe for repeated Consume/Close
// cycles.
package sinks
