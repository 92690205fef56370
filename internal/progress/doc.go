// Package progress provides the transition event primitives, the non-blocking
// hub, and the emitter interface the coordinator uses to report what the
// indicator is doing. The hub batches events on a background goroutine and
// fans them out to pluggable sinks such as Prometheus metrics, structured logs
// or the session store.
package progress
