package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/jordanhubbard/momentum/internal/clarity"
	"github.com/jordanhubbard/momentum/internal/emotion"
	"github.com/jordanhubbard/momentum/internal/nudge"
	"github.com/jordanhubbard/momentum/internal/preferences"
	"github.com/jordanhubbard/momentum/internal/session"
)

// sessionFrom resolves the request's bearer token. Missing or invalid tokens
// yield an anonymous session; the API answers with empty/default state
// rather than rejecting.
func (s *Server) sessionFrom(r *http.Request) *session.Session {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return session.Anonymous()
	}
	sess, err := s.sessions.Verify(token)
	if err != nil {
		return session.Anonymous()
	}
	return sess
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// LoginRequest is the request body for authentication
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.sessions.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, preferences.Default())
		return
	}
	writeJSON(w, http.StatusOK, rt.prefs.Current())
}

func (s *Server) handleSetFrequency(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, preferences.Default())
		return
	}

	var req struct {
		Frequency int `json:"frequency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rt.prefs.SetFrequency(req.Frequency); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rt.prefs.Current())
}

func (s *Server) handleToggleChannel(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, preferences.Default())
		return
	}

	var req struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rt.prefs.ToggleChannel(req.Channel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rt.prefs.Current())
}

func (s *Server) handleSetQuietHours(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, preferences.Default())
		return
	}

	var req struct {
		Start   string `json:"start"`
		End     string `json:"end"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rt.prefs.SetQuietHours(req.Start, req.End, req.Enabled); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rt.prefs.Current())
}

func (s *Server) handleToggleIntegration(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, preferences.Default())
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rt.prefs.ToggleIntegration(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rt.prefs.Current())
}

// nudgeState is the engine view handed to the dashboard
type nudgeState struct {
	Active *nudge.Nudge `json:"active"`
	Muted  bool         `json:"muted"`
	Queued int          `json:"queued"`
}

func (s *Server) handleActiveNudge(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, nudgeState{})
		return
	}
	writeJSON(w, http.StatusOK, nudgeState{
		Active: rt.engine.Active(),
		Muted:  rt.engine.Muted(),
		Queued: rt.engine.QueueLength(),
	})
}

func (s *Server) handleTriggerNudge(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, nudgeState{})
		return
	}

	n, err := rt.engine.TriggerNudge(r.Context())
	if errors.Is(err, nudge.ErrNoNudge) {
		// Soft decline: a user-visible notice, not a failure
		writeJSON(w, http.StatusOK, map[string]string{
			"notice": "Could not generate a nudge right now. Try again in a bit.",
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "nudge generation failed")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleAcceptNudge(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt != nil {
		rt.engine.Accept()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDismissNudge(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt != nil {
		rt.engine.Dismiss()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnoozeNudge(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt != nil {
		rt.engine.Snooze()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, nudgeState{})
		return
	}

	var req struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rt.engine.SetMuted(req.Muted)
	writeJSON(w, http.StatusOK, nudgeState{
		Active: rt.engine.Active(),
		Muted:  rt.engine.Muted(),
		Queued: rt.engine.QueueLength(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, []*nudge.HistoryEntry{})
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := rt.engine.History(nudge.HistoryFilter{
		Response: q.Get("response"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClarity(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(r)
	rt := s.runtimeFor(sess)
	if rt == nil {
		writeJSON(w, http.StatusOK, &clarity.Metrics{Trend: clarity.TrendStable})
		return
	}

	cacheKey := "clarity:" + rt.userID
	if entry, hit := s.metrics.Get(r.Context(), cacheKey); hit {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(entry.Value)
		return
	}

	m, err := rt.agg.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch clarity metrics")
		return
	}

	if data, err := json.Marshal(m); err == nil {
		if err := s.metrics.Set(r.Context(), cacheKey, data, 0); err != nil {
			log.Printf("[API] Failed to cache clarity metrics for user %s: %v", rt.userID, err)
		}
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleClarityRefresh(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, &clarity.Metrics{Trend: clarity.TrendStable})
		return
	}

	m, err := rt.agg.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to refresh clarity metrics")
		return
	}
	s.metrics.Delete(r.Context(), "clarity:"+rt.userID)
	writeJSON(w, http.StatusOK, m)
}

// emotionView bundles the live snapshot with its charting history
type emotionView struct {
	Current emotion.Snapshot   `json:"current"`
	History []emotion.Snapshot `json:"history"`
}

func (s *Server) handleEmotion(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeJSON(w, http.StatusOK, emotionView{})
		return
	}
	writeJSON(w, http.StatusOK, emotionView{
		Current: rt.sim.Current(),
		History: rt.sim.History(),
	})
}
