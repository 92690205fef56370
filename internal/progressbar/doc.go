// Package progressbar holds the progress state coordinator: the state machine
// that decides whether a progress indicator is visible, which mode it renders
// in and what value it shows.
//
// Three independent sources drive it:
//   - manual control (Start, Set, Inc, Complete, Reset),
//   - HTTP batching (StartHTTP/CompleteHTTP, one pair per request),
//   - navigation (StartNavigation/CompleteNavigation, one pair per route change).
//
// Ownership of the display follows navigation > manual > HTTP. HTTP requests keep
// being counted underneath a navigation so the counter stays consistent, while
// manual mode suspends HTTP tracking entirely. Hides are debounced: an HTTP batch
// stays visible for at least Options.MinDisplayTime and then lingers for
// Options.HideDelay so bursts of requests render as one continuous bar.
//
// A Coordinator is built once per application and handed explicitly to its
// collaborators (the interceptor transport, the navigation router and any
// renderer). Renderers read the DisplayState through State().
package progressbar
