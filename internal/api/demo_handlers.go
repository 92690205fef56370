package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/demo"
	"github.com/JakeFAU/progress-coordinator/internal/navigation"
)

const (
	defaultBurst = 3
	maxBurst     = 50
)

// listPages handles GET /api/pages.
func (s *Server) listPages(w http.ResponseWriter, _ *http.Request) {
	current := ""
	if s.nav != nil {
		current = s.nav.Current()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages":   demo.Pages,
		"current": current,
	})
}

type navigateRequest struct {
	Path string `json:"path"`
	// Preempt starts manual progress at 50% before navigating.
	Preempt bool `json:"preempt"`
}

// navigate handles POST /api/navigate with {"path": "/about"}. It blocks until
// the navigation settles and returns 200 with the new page, 404 for unknown
// paths, 409 when a newer navigation superseded it, or 503 when the router is
// missing.
func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	if s.nav == nil {
		writeError(w, http.StatusServiceUnavailable, "router unavailable")
		return
	}
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}

	var err error
	if req.Preempt && s.sim != nil {
		err = s.sim.PreemptWithNavigation(r.Context(), s.nav, req.Path)
	} else {
		err = s.nav.Navigate(r.Context(), req.Path)
	}
	switch {
	case err == nil:
	case errors.Is(err, navigation.ErrRouteNotFound):
		writeError(w, http.StatusNotFound, "page not found")
		return
	case errors.Is(err, navigation.ErrSuperseded):
		writeError(w, http.StatusConflict, "navigation superseded")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "navigation cancelled")
		return
	default:
		s.logger.Error("navigation failed", zap.String("path", req.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "navigation failed")
		return
	}
	page, _ := demo.FindPage(req.Path)
	writeJSON(w, http.StatusOK, map[string]any{
		"current": s.nav.Current(),
		"page":    page,
	})
}

// simulateWork handles POST /api/simulate/work. The scripted manual run
// continues in the background; 202 means it started and 409 that one is
// already running.
func (s *Server) simulateWork(w http.ResponseWriter, _ *http.Request) {
	if s.sim == nil {
		writeError(w, http.StatusServiceUnavailable, "simulator unavailable")
		return
	}
	done, err := s.sim.StartWork(s.bg)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	go func() {
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("work simulation failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type simulateHTTPRequest struct {
	Count *int `json:"count"`
	// Skip marks every request so the interceptor ignores it.
	Skip bool `json:"skip"`
	// Slow applies the long hide delay first and fires a single request.
	Slow bool `json:"slow"`
	// Wait answers only after the burst finished.
	Wait bool `json:"wait"`
}

// simulateHTTP handles POST /api/simulate/http. Without "wait" the burst runs
// in the background and the handler answers 202.
func (s *Server) simulateHTTP(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeError(w, http.StatusServiceUnavailable, "simulator unavailable")
		return
	}
	var req simulateHTTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	count := s.burst
	if req.Count != nil {
		count = *req.Count
	}
	if count <= 0 || count > maxBurst {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 50")
		return
	}

	run := func(ctx context.Context) error {
		if req.Slow {
			return s.sim.SlowConfiguration(ctx)
		}
		return s.sim.Fetch(ctx, count, req.Skip)
	}
	if req.Wait {
		if err := run(r.Context()); err != nil {
			s.logger.Warn("http simulation failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "simulated requests failed")
			return
		}
		writeJSON(w, http.StatusOK, s.coord.Debug())
		return
	}
	go func() {
		if err := run(s.bg); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("http simulation failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
