// Package navigation provides a minimal router whose lifecycle events drive
// the progress coordinator's navigation source.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/clock"
	"github.com/JakeFAU/progress-coordinator/internal/clock/system"
)

// EventType enumerates navigation lifecycle events.
type EventType string

// Lifecycle events. Every Start is followed by exactly one of End, Cancel or
// Error for the same navigation ID.
const (
	NavigationStart  EventType = "start"
	NavigationEnd    EventType = "end"
	NavigationCancel EventType = "cancel"
	NavigationError  EventType = "error"
)

// Event describes one lifecycle step of a navigation.
type Event struct {
	Type EventType
	ID   uint64
	Path string
	At   time.Time
	Err  error
}

// Resolver loads whatever a route needs before it becomes current. It must
// return promptly once ctx is cancelled.
type Resolver func(ctx context.Context, path string) error

var (
	// ErrRouteNotFound is returned when navigating to an unregistered path.
	ErrRouteNotFound = errors.New("route not found")
	// ErrSuperseded is returned when a newer navigation replaced this one.
	ErrSuperseded = errors.New("navigation superseded")
)

// Router resolves paths one navigation at a time. Starting a navigation while
// another is in flight cancels the older one, and its Cancel event is
// published before the newer Start.
type Router struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.Logger

	routes  map[string]Resolver
	current string

	seq        uint64
	activeID   uint64
	activePath string
	cancel     context.CancelFunc

	nextSub uint64
	subs    map[uint64]func(Event)
	order   []uint64
}

// NewRouter builds an empty Router. Nil arguments select the system clock and
// a no-op logger.
func NewRouter(clk clock.Clock, logger *zap.Logger) *Router {
	if clk == nil {
		clk = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		clock:  clk,
		logger: logger,
		routes: make(map[string]Resolver),
		subs:   make(map[uint64]func(Event)),
	}
}

// Handle registers resolver for path, replacing any previous registration.
// A nil resolver resolves immediately.
func (r *Router) Handle(path string, resolver Resolver) {
	if resolver == nil {
		resolver = func(context.Context, string) error { return nil }
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[path] = resolver
}

// Routes lists the registered paths in lexical order.
func (r *Router) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.routes))
	for path := range r.routes {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

// Current returns the path of the last successful navigation.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe registers fn for lifecycle events and returns a func that removes
// it. fn runs with the router locked and must not call back into the Router.
func (r *Router) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
			r.order = slices.DeleteFunc(r.order, func(candidate uint64) bool { return candidate == id })
		})
	}
}

// Navigate resolves path and makes it current. It blocks until the resolver
// returns, ctx is cancelled, or a newer navigation supersedes it.
func (r *Router) Navigate(ctx context.Context, path string) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.publish(Event{Type: NavigationCancel, ID: r.activeID, Path: r.activePath, Err: ErrSuperseded})
	}
	r.seq++
	id := r.seq
	navCtx, cancel := context.WithCancel(ctx)
	r.activeID = id
	r.activePath = path
	r.cancel = cancel
	r.publish(Event{Type: NavigationStart, ID: id, Path: path})
	resolver, ok := r.routes[path]
	r.mu.Unlock()

	var err error
	if ok {
		err = resolver(navCtx, path)
	} else {
		err = fmt.Errorf("%w: %s", ErrRouteNotFound, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cancel()
	if r.activeID != id {
		return fmt.Errorf("navigate to %s: %w", path, ErrSuperseded)
	}
	r.activeID = 0
	r.activePath = ""
	r.cancel = nil

	switch {
	case err == nil:
		r.current = path
		r.publish(Event{Type: NavigationEnd, ID: id, Path: path})
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		r.publish(Event{Type: NavigationCancel, ID: id, Path: path, Err: err})
		return fmt.Errorf("navigate to %s: %w", path, err)
	default:
		r.publish(Event{Type: NavigationError, ID: id, Path: path, Err: err})
		return fmt.Errorf("navigate to %s: %w", path, err)
	}
}

func (r *Router) publish(evt Event) {
	evt.At = r.clock.Now()
	r.logger.Debug("navigation event",
		zap.String("type", string(evt.Type)),
		zap.Uint64("id", evt.ID),
		zap.String("path", evt.Path),
		zap.Error(evt.Err),
	)
	for _, id := range r.order {
		r.subs[id](evt)
	}
}

// Tracker receives navigation lifecycle notifications.
// progressbar.Coordinator satisfies it.
type Tracker interface {
	StartNavigation()
	CompleteNavigation()
}

// Track forwards router events to tracker: Start begins a navigation and
// every terminal event completes it. The returned func stops forwarding.
func Track(r *Router, tracker Tracker) func() {
	return r.Subscribe(func(evt Event) {
		switch evt.Type {
		case NavigationStart:
			tracker.StartNavigation()
		case NavigationEnd, NavigationCancel, NavigationError:
			tracker.CompleteNavigation()
		}
	})
}
