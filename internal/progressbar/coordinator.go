package progressbar

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/clock"
	"github.com/JakeFAU/progress-coordinator/internal/clock/system"
	"github.com/JakeFAU/progress-coordinator/internal/observable"
	"github.com/JakeFAU/progress-coordinator/internal/progress"
)

// Config wires a Coordinator to its collaborators.
//   - Options: initial tunables (nil selects DefaultOptions()).
//   - Color: initial color theme (defaults to ColorPrimary).
//   - Clock: time source and timer factory (defaults to the system clock).
//   - Logger: destination for debug logs (defaults to a no-op logger).
//   - Emitter: receives transition events (defaults to progress.Discard).
type Config struct {
	Options *Options
	Color   Color
	Clock   clock.Clock
	Logger  *zap.Logger
	Emitter progress.Emitter
}

// Coordinator arbitrates the manual, HTTP and navigation progress sources over
// one shared DisplayState. All methods are safe for concurrent use and return
// immediately; deferred hides run on the clock's timers.
type Coordinator struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  *zap.Logger
	emitter progress.Emitter

	display DisplayState
	state   *observable.Value[DisplayState]
	opts    Options

	activeRequests int
	manual         bool
	navigating     bool
	saved          *DisplayState
	batchStart     time.Time

	// hide debounces the end of an HTTP batch, finish ends a manual
	// completion and settle resets everything after a navigation.
	hide   timerSlot
	finish timerSlot
	settle timerSlot

	session       [16]byte
	sessionSource Owner
	shownAt       time.Time
}

type timerSlot struct {
	timer clock.Timer
	gen   uint64
}

// New builds an idle Coordinator.
func New(cfg Config) *Coordinator {
	opts := DefaultOptions()
	if cfg.Options != nil {
		opts = OptionsUpdate{
			HideDelay:      &cfg.Options.HideDelay,
			MinDisplayTime: &cfg.Options.MinDisplayTime,
			SmartBatching:  &cfg.Options.SmartBatching,
			DebugLogs:      &cfg.Options.DebugLogs,
		}.apply(opts)
	}
	color := cfg.Color
	if !color.Valid() {
		color = ColorPrimary
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = progress.Discard
	}
	initial := DisplayState{Mode: ModeIndeterminate, Color: color}
	return &Coordinator{
		clock:   clk,
		logger:  logger,
		emitter: emitter,
		display: initial,
		state:   observable.New(initial),
		opts:    opts,
	}
}

// State exposes the display for subscription. Subscribers are called while
// the coordinator is mid-transition and must not call back into it.
func (c *Coordinator) State() observable.Source[DisplayState] {
	return c.state
}

// Start hands the display to manual control in indeterminate mode. Any HTTP
// requests being counted are forgotten.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enterManual()
	c.cancel(&c.finish)
	if c.navigating {
		c.debug("manual start recorded, navigation keeps the display")
		c.emit(progress.StageManual, "start")
		return
	}
	c.update(DisplayPatch{Visible: ptr(true), Mode: ptr(ModeIndeterminate)})
	c.emit(progress.StageManual, "start")
	c.debug("manual progress started")
}

// Set shows a determinate bar at v (clamped to [0,100]), entering manual mode
// if needed.
func (c *Coordinator) Set(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(v)
}

// Inc moves the manual value by delta.
func (c *Coordinator) Inc(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(c.display.Value + delta)
}

// Tick moves the manual value by DefaultIncrement.
func (c *Coordinator) Tick() {
	c.Inc(DefaultIncrement)
}

func (c *Coordinator) set(v float64) {
	if !c.manual {
		c.enterManual()
	}
	c.cancel(&c.finish)
	v = Clamp(v)
	if c.navigating {
		c.debug("manual value recorded, navigation keeps the display", zap.Float64("value", v))
		c.emit(progress.StageManual, "set")
		return
	}
	c.update(DisplayPatch{Visible: ptr(true), Mode: ptr(ModeDeterminate), Value: ptr(v)})
	c.emit(progress.StageManual, "set")
}

// Complete flashes 100% and hides the bar after AnimationDelay. It does
// nothing outside manual mode; calling it again while the hide is pending
// restarts the same hide rather than adding another.
func (c *Coordinator) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.manual {
		c.debug("complete ignored outside manual mode")
		return
	}
	if !c.navigating {
		c.update(DisplayPatch{Mode: ptr(ModeDeterminate), Value: ptr(100.0)})
		c.emitFlash("manual")
	}
	c.schedule(&c.finish, AnimationDelay, func() {
		c.manual = false
		if c.navigating {
			return
		}
		c.update(DisplayPatch{Visible: ptr(false), Value: ptr(0.0)})
		c.debug("manual progress finished")
	})
}

// Reset hides the bar immediately and drops manual and HTTP state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel(&c.hide)
	c.cancel(&c.finish)
	c.activeRequests = 0
	c.manual = false
	c.batchStart = time.Time{}
	c.update(DisplayPatch{Visible: ptr(false), Value: ptr(0.0), Mode: ptr(ModeIndeterminate)})
	c.emit(progress.StageReset, "reset")
	c.debug("progress reset")
}

// StartHTTP records one outgoing request. The first request of a batch shows
// an indeterminate bar; later ones join it. Ignored in manual mode.
func (c *Coordinator) StartHTTP() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manual {
		c.debug("request ignored, manual mode owns the display")
		return
	}
	c.cancel(&c.hide)
	wasIdle := c.activeRequests == 0
	c.activeRequests++
	if wasIdle || !c.opts.SmartBatching {
		c.batchStart = c.clock.Now()
		if !c.navigating {
			c.update(DisplayPatch{Visible: ptr(true), Mode: ptr(ModeIndeterminate)})
		}
		c.debug("HTTP batch started", zap.Int("active", c.activeRequests))
	} else {
		c.debug("request joined active batch", zap.Int("active", c.activeRequests))
	}
	c.emit(progress.StageHTTPStart, "")
}

// CompleteHTTP records one settled request. When the last request of a batch
// settles the bar flashes 100% and hides once the minimum display time and
// the hide delay have passed, unless new work arrives first. Ignored in
// manual mode and when no request is outstanding.
func (c *Coordinator) CompleteHTTP() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manual {
		return
	}
	if c.activeRequests == 0 {
		c.debug("request completion without matching start ignored")
		return
	}
	c.activeRequests--
	c.emit(progress.StageHTTPDone, "")
	if c.activeRequests > 0 {
		c.debug("request completed", zap.Int("remaining", c.activeRequests))
		return
	}
	if c.navigating {
		c.debug("batch drained during navigation, navigation completes the bar")
		return
	}

	var elapsed time.Duration
	if !c.batchStart.IsZero() {
		elapsed = c.clock.Now().Sub(c.batchStart)
	}
	remaining := max(0, c.opts.MinDisplayTime-elapsed)
	delay := remaining + c.opts.HideDelay

	c.update(DisplayPatch{Mode: ptr(ModeDeterminate), Value: ptr(100.0)})
	c.emitFlash("http")
	c.schedule(&c.hide, delay, func() {
		if c.activeRequests != 0 || c.navigating || c.manual {
			return
		}
		c.batchStart = time.Time{}
		c.update(DisplayPatch{Visible: ptr(false), Value: ptr(0.0), Mode: ptr(ModeIndeterminate)})
		c.debug("HTTP batch hidden after debounce")
	})
	c.debug("HTTP batch drained", zap.Duration("hide_in", delay))
}

// StartNavigation takes over the display for a route change. If something
// else was showing, its state is kept in the saved snapshot.
func (c *Coordinator) StartNavigation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.display.Visible && !c.navigating {
		snapshot := c.display
		c.saved = &snapshot
		c.debug("navigation preempted visible progress", zap.Any("saved", snapshot))
	}
	c.cancel(&c.hide)
	c.cancel(&c.finish)
	c.cancel(&c.settle)
	c.navigating = true
	c.update(DisplayPatch{Visible: ptr(true), Mode: ptr(ModeIndeterminate)})
	c.emit(progress.StageNavStart, "")
}

// CompleteNavigation flashes 100% and, after AnimationDelay, resets the whole
// coordinator: a settled navigation is a fresh page and nothing from before it
// is restored.
func (c *Coordinator) CompleteNavigation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.navigating = false
	c.cancel(&c.hide)
	c.update(DisplayPatch{Mode: ptr(ModeDeterminate), Value: ptr(100.0)})
	c.emit(progress.StageNavDone, "")
	c.emitFlash("navigation")
	c.schedule(&c.settle, AnimationDelay, func() {
		c.cancel(&c.hide)
		c.cancel(&c.finish)
		c.manual = false
		c.activeRequests = 0
		c.saved = nil
		c.batchStart = time.Time{}
		c.update(DisplayPatch{Visible: ptr(false), Value: ptr(0.0), Mode: ptr(ModeIndeterminate)})
		c.emit(progress.StageReset, "navigation settled")
		c.debug("navigation settled, progress state reset")
	})
}

// Configure applies a partial options update. Durations are floored at zero.
// Timers already running keep the delay they were scheduled with.
func (c *Coordinator) Configure(u OptionsUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = u.apply(c.opts)
	c.debug("options updated", zap.Any("options", c.opts))
}

// Options returns the current tunables.
func (c *Coordinator) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// UpdateDisplay patches the display directly, outside the ownership rules.
// It is meant for cosmetic changes such as the color theme.
func (c *Coordinator) UpdateDisplay(p DisplayPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.update(p)
}

// SetColor changes the color theme.
func (c *Coordinator) SetColor(color Color) {
	c.UpdateDisplay(DisplayPatch{Color: &color})
}

// Display returns the current display state.
func (c *Coordinator) Display() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// ActiveRequests returns the number of tracked in-flight requests.
func (c *Coordinator) ActiveRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRequests
}

// Loading reports whether any source currently claims the display.
func (c *Coordinator) Loading() bool {
	return c.Owner() != OwnerNone
}

// Visible reports whether the indicator should render.
func (c *Coordinator) Visible() bool {
	return c.Display().Visible
}

// Navigating reports whether a navigation is in progress.
func (c *Coordinator) Navigating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigating
}

// ManualMode reports whether manual control owns the display.
func (c *Coordinator) ManualMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manual
}

// Owner returns the highest-precedence active source.
func (c *Coordinator) Owner() Owner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner()
}

// Debug returns a snapshot of the internal state.
func (c *Coordinator) Debug() DebugState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds := DebugState{
		Display:        c.display,
		ActiveRequests: c.activeRequests,
		ManualMode:     c.manual,
		Navigating:     c.navigating,
		Owner:          c.owner(),
		PendingHide:    c.hide.timer != nil,
		Options:        c.opts,
	}
	ds.Loading = ds.Owner != OwnerNone
	if c.saved != nil {
		saved := *c.saved
		ds.SavedState = &saved
	}
	if !c.batchStart.IsZero() {
		ds.BatchStartedAt = ptr(c.batchStart)
	}
	return ds
}

func (c *Coordinator) owner() Owner {
	switch {
	case c.navigating:
		return OwnerNavigation
	case c.manual:
		return OwnerManual
	case c.activeRequests > 0:
		return OwnerHTTP
	default:
		return OwnerNone
	}
}

func (c *Coordinator) enterManual() {
	c.cancel(&c.hide)
	c.manual = true
	c.activeRequests = 0
	c.batchStart = time.Time{}
}

// update applies p, opens or closes the display session on visibility
// changes, and publishes the result. Callers hold c.mu.
func (c *Coordinator) update(p DisplayPatch) {
	prev := c.display
	next := p.apply(prev)
	c.display = next
	switch {
	case !prev.Visible && next.Visible:
		c.openSession()
	case prev.Visible && !next.Visible:
		c.closeSession()
	}
	c.state.Set(next)
}

func (c *Coordinator) openSession() {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	c.session = progress.UUIDToBytes(id)
	c.sessionSource = c.owner()
	c.shownAt = c.clock.Now()
	c.emit(progress.StageShow, "")
}

func (c *Coordinator) closeSession() {
	now := c.clock.Now()
	c.emitter.Emit(progress.Event{
		SessionID: c.session,
		TS:        now,
		Stage:     progress.StageHide,
		Source:    c.sessionSource,
		Active:    c.activeRequests,
		Value:     c.display.Value,
		Dur:       max(0, now.Sub(c.shownAt)),
	})
	c.session = [16]byte{}
	c.sessionSource = OwnerNone
	c.shownAt = time.Time{}
}

func (c *Coordinator) emit(stage progress.Stage, note string) {
	c.emitter.Emit(progress.Event{
		SessionID: c.session,
		TS:        c.clock.Now(),
		Stage:     stage,
		Source:    c.owner(),
		Active:    c.activeRequests,
		Value:     c.display.Value,
		Note:      note,
	})
}

// emitFlash reports a 100% completion flash; a flash on a hidden bar is not
// an observable transition and is skipped.
func (c *Coordinator) emitFlash(note string) {
	if !c.display.Visible {
		return
	}
	c.emit(progress.StageFlash, note)
}

// schedule arms fn in slot after d, replacing whatever the slot held. fn runs
// with c.mu held and is skipped if the slot was cancelled or rescheduled after
// this call, even when the underlying timer could no longer be stopped.
func (c *Coordinator) schedule(slot *timerSlot, d time.Duration, fn func()) {
	c.cancel(slot)
	gen := slot.gen
	slot.timer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if slot.gen != gen || slot.timer == nil {
			return
		}
		slot.timer = nil
		fn()
	})
}

func (c *Coordinator) cancel(slot *timerSlot) {
	slot.gen++
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
}

func (c *Coordinator) debug(msg string, fields ...zap.Field) {
	if !c.opts.DebugLogs {
		return
	}
	c.logger.Debug(msg, fields...)
}
