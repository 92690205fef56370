package progressbar

import (
	"encoding/json"
	"math"
	"time"

	"github.com/JakeFAU/progress-coordinator/internal/progress"
)

// Mode is the rendering mode of the indicator.
type Mode string

// Supported rendering modes.
const (
	ModeIndeterminate Mode = "indeterminate"
	ModeDeterminate   Mode = "determinate"
	ModeBuffer        Mode = "buffer"
	ModeQuery         Mode = "query"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeIndeterminate, ModeDeterminate, ModeBuffer, ModeQuery:
		return true
	default:
		return false
	}
}

// Color is the cosmetic color theme of the indicator.
type Color string

// Supported color themes.
const (
	ColorPrimary Color = "primary"
	ColorAccent  Color = "accent"
	ColorWarn    Color = "warn"
)

// Valid reports whether c is a known color theme.
func (c Color) Valid() bool {
	switch c {
	case ColorPrimary, ColorAccent, ColorWarn:
		return true
	default:
		return false
	}
}

// Owner names the source that currently controls visibility.
type Owner = progress.Source

// Owners, from lowest to highest precedence.
const (
	OwnerNone       = progress.SourceNone
	OwnerHTTP       = progress.SourceHTTP
	OwnerManual     = progress.SourceManual
	OwnerNavigation = progress.SourceNavigation
)

// DisplayState is everything a renderer needs to draw the indicator.
type DisplayState struct {
	Visible     bool    `json:"visible"`
	Mode        Mode    `json:"mode"`
	Value       float64 `json:"value"`
	BufferValue float64 `json:"buffer_value"`
	Color       Color   `json:"color"`
}

// DisplayPatch is a partial update of a DisplayState. Nil fields are left alone.
type DisplayPatch struct {
	Visible     *bool    `json:"visible,omitempty"`
	Mode        *Mode    `json:"mode,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	BufferValue *float64 `json:"buffer_value,omitempty"`
	Color       *Color   `json:"color,omitempty"`
}

// apply returns s with p merged in. Percentages are clamped and unknown
// modes or colors are ignored.
func (p DisplayPatch) apply(s DisplayState) DisplayState {
	if p.Visible != nil {
		s.Visible = *p.Visible
	}
	if p.Mode != nil && p.Mode.Valid() {
		s.Mode = *p.Mode
	}
	if p.Value != nil {
		s.Value = Clamp(*p.Value)
	}
	if p.BufferValue != nil {
		s.BufferValue = Clamp(*p.BufferValue)
	}
	if p.Color != nil && p.Color.Valid() {
		s.Color = *p.Color
	}
	return s
}

// Options are the operator-tunable timings and toggles.
type Options struct {
	// HideDelay is how long the bar lingers after an HTTP batch completes.
	HideDelay time.Duration
	// MinDisplayTime is the minimum time an HTTP batch stays visible.
	MinDisplayTime time.Duration
	// SmartBatching coalesces overlapping requests into one visible batch.
	SmartBatching bool
	// DebugLogs enables per-transition debug logging.
	DebugLogs bool
}

// MarshalJSON renders durations as whole milliseconds.
func (o Options) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		HideDelayMS      int64 `json:"hide_delay_ms"`
		MinDisplayTimeMS int64 `json:"min_display_time_ms"`
		SmartBatching    bool  `json:"enable_smart_batching"`
		DebugLogs        bool  `json:"enable_debug_logs"`
	}{
		HideDelayMS:      o.HideDelay.Milliseconds(),
		MinDisplayTimeMS: o.MinDisplayTime.Milliseconds(),
		SmartBatching:    o.SmartBatching,
		DebugLogs:        o.DebugLogs,
	})
}

// Default option values.
const (
	DefaultHideDelay      = 300 * time.Millisecond
	DefaultMinDisplayTime = 200 * time.Millisecond
	// DefaultIncrement is the step used by Tick.
	DefaultIncrement = 5.0
	// AnimationDelay is how long the 100% flash is shown before manual or
	// navigation completion hides the bar.
	AnimationDelay = 300 * time.Millisecond
)

// DefaultOptions returns the stock tunables.
func DefaultOptions() Options {
	return Options{
		HideDelay:      DefaultHideDelay,
		MinDisplayTime: DefaultMinDisplayTime,
		SmartBatching:  true,
	}
}

// OptionsUpdate is a partial Options change. Nil fields keep their value.
type OptionsUpdate struct {
	HideDelay      *time.Duration
	MinDisplayTime *time.Duration
	SmartBatching  *bool
	DebugLogs      *bool
}

func (u OptionsUpdate) apply(o Options) Options {
	if u.HideDelay != nil {
		o.HideDelay = max(0, *u.HideDelay)
	}
	if u.MinDisplayTime != nil {
		o.MinDisplayTime = max(0, *u.MinDisplayTime)
	}
	if u.SmartBatching != nil {
		o.SmartBatching = *u.SmartBatching
	}
	if u.DebugLogs != nil {
		o.DebugLogs = *u.DebugLogs
	}
	return o
}

// DebugState is a snapshot of every field the coordinator tracks.
type DebugState struct {
	Display        DisplayState  `json:"display"`
	ActiveRequests int           `json:"active_requests"`
	ManualMode     bool          `json:"manual_mode"`
	Navigating     bool          `json:"navigating"`
	SavedState     *DisplayState `json:"saved_state,omitempty"`
	Owner          Owner         `json:"owner"`
	Loading        bool          `json:"loading"`
	BatchStartedAt *time.Time    `json:"batch_started_at,omitempty"`
	PendingHide    bool          `json:"pending_hide"`
	Options        Options       `json:"options"`
}

// Clamp bounds v to [0,100]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func ptr[T any](v T) *T {
	return &v
}
