package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/progress-coordinator/internal/progress"
)

// PrometheusSink exports indicator activity: display sessions by source,
// whether the bar is visible, tracked HTTP traffic, and per-stage counts.
type PrometheusSink struct {
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec
	visible           prometheus.Gauge

	httpRequests prometheus.Counter
	httpInFlight prometheus.Gauge
	events       *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_sessions_started_total",
			Help: "Display sessions opened, partitioned by the source that showed the bar.",
		}, []string{"source"}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_sessions_completed_total",
			Help: "Display sessions closed, partitioned by the source that showed the bar.",
		}, []string{"source"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_session_duration_seconds",
			Help:    "How long the bar stayed visible per session.",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progress_visible",
			Help: "1 while the bar is visible, 0 otherwise.",
		}),
		httpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progress_http_requests_total",
			Help: "HTTP requests tracked by the coordinator.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progress_http_in_flight",
			Help: "HTTP requests currently counted by the coordinator.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_events_total",
			Help: "Coordinator transitions partitioned by stage.",
		}, []string{"stage"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.sessionDuration,
		s.visible,
		s.httpRequests,
		s.httpInFlight,
		s.events,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent
// use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.events.WithLabelValues(string(evt.Stage)).Inc()
	switch evt.Stage {
	case progress.StageShow:
		if s.tracker.start(evt.SessionID) {
			s.sessionsStarted.WithLabelValues(sourceLabel(evt.Source)).Inc()
		}
		s.visible.Set(1)
	case progress.StageHide:
		if s.tracker.complete(evt.SessionID) {
			source := sourceLabel(evt.Source)
			s.sessionsCompleted.WithLabelValues(source).Inc()
			if evt.Dur > 0 {
				s.sessionDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
			}
		}
		s.visible.Set(0)
	case progress.StageHTTPStart:
		s.httpRequests.Inc()
		s.httpInFlight.Set(float64(evt.Active))
	case progress.StageHTTPDone, progress.StageReset, progress.StageManual:
		s.httpInFlight.Set(float64(evt.Active))
	}
}

func sourceLabel(src progress.Source) string {
	if src == "" {
		return string(progress.SourceNone)
	}
	return string(src)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu   sync.Mutex
	open map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{open: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[id]; ok {
		return false
	}
	t.open[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[id]; !ok {
		return false
	}
	delete(t.open, id)
	return true
}
