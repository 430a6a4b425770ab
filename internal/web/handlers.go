package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/progress"
	"github.com/conorfennell/recall/internal/scheduler"
	"github.com/conorfennell/recall/internal/sm2"
)

// handleHealth reports liveness.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleSchedule orders a card batch for a session.
func (s *Server) handleSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduleRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		now := s.now()
		if req.Now != "" {
			// Already validated as RFC 3339.
			now, _ = time.Parse(time.RFC3339Nano, req.Now)
		}

		res, err := s.scheduler.Schedule(r.Context(), scheduler.Request{
			SessionID: req.SessionID,
			PlanID:    req.PlanID,
			Cards:     req.Items,
			Prior:     req.Prior,
			Now:       now,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := scheduleResponse{
			SessionID: res.SessionID,
			PlanID:    res.PlanID,
			Order:     res.Order,
			Due:       domain.FormatTime(res.Due),
			Meta:      metaResponse{Algo: res.Meta.Algo, Version: res.Meta.Version},
		}
		if err := s.validate.Struct(resp); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: schedule: %v", errInvalidOutput, err))
			return
		}
		noStore(w)
		writeJSON(s.logger, w, http.StatusOK, resp)
	}
}

// handlePostProgress applies one review event.
func (s *Server) handlePostProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req progressRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		at, _ := time.Parse(time.RFC3339Nano, req.At)
		var grade *int
		if req.Grade != nil {
			q := sm2.ClampGradeFloat(*req.Grade)
			grade = &q
		}

		_, _, err := s.processor.Apply(r.Context(), progress.Event{
			SessionID: req.SessionID,
			CardID:    req.CardID,
			Action:    progress.Action(req.Action),
			Grade:     grade,
			At:        at,
			Result:    req.Result,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		noStore(w)
		writeJSON(s.logger, w, http.StatusOK, okResponse{OK: true})
	}
}

// handleGetProgress returns the snapshot of the session named by ?sid=.
func (s *Server) handleGetProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := strings.TrimSpace(r.URL.Query().Get("sid"))
		if sid == "" {
			s.writeError(w, r, badRequest("sid required"))
			return
		}

		snap, err := s.processor.Snapshot(r.Context(), sid)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, it := range snap.Items {
			if err := it.Validate(); err != nil {
				s.writeError(w, r, fmt.Errorf("%w: snapshot: %v", errInvalidOutput, err))
				return
			}
		}
		noStore(w)
		writeJSON(s.logger, w, http.StatusOK, snap)
	}
}
