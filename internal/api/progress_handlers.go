package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
)

const (
	streamBuffer       = 16
	streamPingInterval = 15 * time.Second
)

// getProgress handles GET /api/progress and returns the coordinator's full
// debug snapshot.
func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Debug())
}

// startProgress handles POST /api/progress/start.
func (s *Server) startProgress(w http.ResponseWriter, _ *http.Request) {
	s.coord.Start()
	writeJSON(w, http.StatusOK, s.coord.Debug())
}

type setRequest struct {
	Value *float64 `json:"value"`
}

// setProgress handles POST /api/progress/set with {"value": n}. Values are
// clamped to [0,100].
func (s *Server) setProgress(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value required")
		return
	}
	s.coord.Set(*req.Value)
	writeJSON(w, http.StatusOK, s.coord.Debug())
}

type incRequest struct {
	Delta *float64 `json:"delta"`
}

// incProgress handles POST /api/progress/inc. Without a delta it advances
// by the default tick.
func (s *Server) incProgress(w http.ResponseWriter, r *http.Request) {
	var req incRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Delta == nil {
		s.coord.Tick()
	} else {
		s.coord.Inc(*req.Delta)
	}
	writeJSON(w, http.StatusOK, s.coord.Debug())
}

// completeProgress handles POST /api/progress/complete.
func (s *Server) completeProgress(w http.ResponseWriter, _ *http.Request) {
	s.coord.Complete()
	writeJSON(w, http.StatusOK, s.coord.Debug())
}

// resetProgress handles POST /api/progress/reset.
func (s *Server) resetProgress(w http.ResponseWriter, _ *http.Request) {
	s.coord.Reset()
	writeJSON(w, http.StatusOK, s.coord.Debug())
}

// patchDisplay handles PATCH /api/progress/display with a partial
// DisplayState. Unknown modes or colors are rejected with 400.
func (s *Server) patchDisplay(w http.ResponseWriter, r *http.Request) {
	var patch progressbar.DisplayPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.Mode != nil && !patch.Mode.Valid() {
		writeError(w, http.StatusBadRequest, "invalid mode")
		return
	}
	if patch.Color != nil && !patch.Color.Valid() {
		writeError(w, http.StatusBadRequest, "invalid color")
		return
	}
	s.coord.UpdateDisplay(patch)
	writeJSON(w, http.StatusOK, s.coord.Debug())
}

// getOptions handles GET /api/progress/options.
func (s *Server) getOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Options())
}

type optionsRequest struct {
	HideDelayMS      *int64 `json:"hide_delay_ms"`
	MinDisplayTimeMS *int64 `json:"min_display_time_ms"`
	SmartBatching    *bool  `json:"enable_smart_batching"`
	DebugLogs        *bool  `json:"enable_debug_logs"`
}

func (req optionsRequest) toUpdate() (progressbar.OptionsUpdate, error) {
	var u progressbar.OptionsUpdate
	if req.HideDelayMS != nil {
		if *req.HideDelayMS < 0 {
			return u, errors.New("hide_delay_ms must not be negative")
		}
		d := time.Duration(*req.HideDelayMS) * time.Millisecond
		u.HideDelay = &d
	}
	if req.MinDisplayTimeMS != nil {
		if *req.MinDisplayTimeMS < 0 {
			return u, errors.New("min_display_time_ms must not be negative")
		}
		d := time.Duration(*req.MinDisplayTimeMS) * time.Millisecond
		u.MinDisplayTime = &d
	}
	u.SmartBatching = req.SmartBatching
	u.DebugLogs = req.DebugLogs
	return u, nil
}

// putOptions handles PUT /api/progress/options. Omitted fields keep their
// current value; the merged options are returned.
func (s *Server) putOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.coord.Configure(update)
	writeJSON(w, http.StatusOK, s.coord.Options())
}

// streamProgress handles GET /api/progress/stream. It writes the current
// DisplayState as a server-sent "state" event, then one event per change
// until the client disconnects. Slow clients skip intermediate states.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates := make(chan progressbar.DisplayState, streamBuffer)
	unsubscribe := s.coord.State().Subscribe(func(d progressbar.DisplayState) {
		offerLatest(updates, d)
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeStateEvent(w, s.coord.State().Get()); err != nil {
		s.logger.Debug("progress stream closed", zap.Error(err))
		return
	}
	flusher.Flush()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case d := <-updates:
			if err := writeStateEvent(w, d); err != nil {
				s.logger.Debug("progress stream closed", zap.Error(err))
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// offerLatest enqueues d without blocking, evicting the oldest queued state
// when ch is full. Subscribers run under the coordinator lock so this must
// never wait on the reader.
func offerLatest(ch chan progressbar.DisplayState, d progressbar.DisplayState) {
	for {
		select {
		case ch <- d:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func writeStateEvent(w http.ResponseWriter, d progressbar.DisplayState) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
