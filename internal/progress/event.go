package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of transition represented by an Event.
type Stage string

// Supported transition stages.
const (
	StageShow      Stage = "SHOW"
	StageHide      Stage = "HIDE"
	StageFlash     Stage = "FLASH"
	StageManual    Stage = "MANUAL"
	StageHTTPStart Stage = "HTTP_START"
	StageHTTPDone  Stage = "HTTP_DONE"
	StageNavStart  Stage = "NAV_START"
	StageNavDone   Stage = "NAV_DONE"
	StageReset     Stage = "RESET"
)

// Source names the progress source that owned the display when the event was
// recorded.
type Source string

// Known sources, listed from lowest to highest precedence.
const (
	SourceNone       Source = "none"
	SourceHTTP       Source = "http"
	SourceManual     Source = "manual"
	SourceNavigation Source = "navigation"
)

// Event captures a single coordinator transition.
type Event struct {
	// SessionID identifies the visible period the event belongs to. It is zero
	// when the indicator was hidden and the event did not show it.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which transition occurred.
	Stage Stage
	// Source is the owner of the display after the transition. HIDE carries
	// the owner that opened the session instead.
	Source Source
	// Active is the number of in-flight HTTP requests after the transition.
	Active int
	// Value is the displayed percentage after the transition.
	Value float64
	// Dur is the visible duration of the session, set on HIDE.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageShow, StageHide, StageFlash:
		if e.SessionID == [16]byte{} {
			return fmt.Errorf("%s requires session id", e.Stage)
		}
	case StageManual, StageHTTPStart, StageHTTPDone, StageNavStart, StageNavDone, StageReset:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Active < 0 {
		return errors.New("active requests must be >= 0")
	}
	if e.Value < 0 || e.Value > 100 {
		return errors.New("value must be within [0,100]")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID for repositories.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
