package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

type runRequest struct {
	Firm         string   `json:"firm"`
	DelaySeconds *float64 `json:"delay_seconds"`
}

func (s *Server) apiListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context(), strings.TrimSpace(r.URL.Query().Get("firm")))
	if err != nil {
		s.logger.Error("list profiles failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

func (s *Server) apiAddProfile(w http.ResponseWriter, r *http.Request) {
	var req tracker.NewProfile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := s.store.AddProfile(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("add profile failed", zap.Error(err))
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) apiProfileHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	entries, err := s.store.ListHistory(r.Context(), id)
	if err != nil {
		s.logger.Error("list history failed", zap.Int64("profile_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"profile": p, "history": entries})
}

func (s *Server) apiRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	delay := s.DefaultDelay()
	if req.DelaySeconds != nil {
		d, err := tracker.DelayFromSeconds(*req.DelaySeconds)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		delay = d
		s.setDefaultDelay(delay)
	}

	summary, err := s.runner.Run(r.Context(), tracker.RunOptions{Firm: strings.TrimSpace(req.Firm), Delay: delay})
	if err != nil {
		status := statusFor(err)
		if !errors.Is(err, tracker.ErrRunInProgress) {
			s.logger.Error("run failed", zap.Error(err))
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}
