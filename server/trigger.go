package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// handleTrigger runs one full poll-and-notify tick. The external scheduler
// hits this endpoint; nothing else in the process initiates ticks.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorizeTrigger(r) {
		s.logger.Warn("Unauthorized trigger request", "ip", clientIP(r))
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	s.logger.Info("Trigger endpoint invoked", "ip", clientIP(r))

	summary, err := s.ticker.Tick(r.Context())
	if err != nil {
		s.logger.Error("Tick failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Tick failed"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    summary.Message,
		"emailsSent": summary.RecipientCount,
	})
}

// authorizeTrigger validates the scheduler's shared-secret bearer token with
// a constant-time comparison. An empty configured secret disables the check;
// main refuses that combination outside local development mode.
func (s *Server) authorizeTrigger(r *http.Request) bool {
	if s.cronSecret == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}
