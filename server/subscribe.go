package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"dodgerswin-notifier/storage"
)

type subscribeResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// subscribeEmail extracts the email from a JSON body or form field.
func subscribeEmail(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return ""
		}
		return strings.TrimSpace(body.Email)
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return strings.TrimSpace(r.FormValue("email"))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Rate limiting by IP
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		s.writeJSON(w, http.StatusTooManyRequests, subscribeResponse{
			Message: "Too many requests. Please try again later.",
		})
		return
	}

	email := strings.ToLower(subscribeEmail(r))
	if !isValidEmail(email) {
		s.writeJSON(w, http.StatusBadRequest, subscribeResponse{
			Message: "Please enter a valid email address",
		})
		return
	}

	outcome, err := s.store.AddSubscriber(r.Context(), email)
	if err != nil {
		s.logger.Error("Failed to add subscriber", "email", email, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, subscribeResponse{
			Message: "Failed to subscribe. Please try again.",
		})
		return
	}

	switch outcome {
	case storage.AlreadySubscribed:
		s.writeJSON(w, http.StatusOK, subscribeResponse{
			Message: "Email already subscribed",
		})
	case storage.Reactivated:
		s.logger.Info("Subscription reactivated", "email", email, "ip", ip)
		s.writeJSON(w, http.StatusOK, subscribeResponse{
			Success: true,
			Message: "Successfully reactivated subscription!",
		})
	default:
		s.logger.Info("Subscription created", "email", email, "ip", ip)
		s.writeJSON(w, http.StatusOK, subscribeResponse{
			Success: true,
			Message: fmt.Sprintf("Successfully subscribed! You'll get notified when the %s win at home.", s.teamName),
		})
	}
}

// handleUnsubscribe deactivates a subscriber. GET supports the one-click
// links embedded in notification emails; POST takes a form or JSON body.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	// Rate limiting by IP to prevent enumeration
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		s.writeJSON(w, http.StatusTooManyRequests, subscribeResponse{
			Message: "Too many requests. Please try again later.",
		})
		return
	}

	var email string
	switch r.Method {
	case http.MethodGet:
		email = strings.TrimSpace(r.URL.Query().Get("email"))
	case http.MethodPost:
		email = subscribeEmail(r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email = strings.ToLower(email)
	if !isValidEmail(email) {
		s.writeJSON(w, http.StatusBadRequest, subscribeResponse{
			Message: "Please enter a valid email address",
		})
		return
	}

	if err := s.store.DeactivateSubscriber(r.Context(), email); err != nil {
		s.logger.Error("Failed to deactivate subscriber", "email", email, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, subscribeResponse{
			Message: "Failed to unsubscribe",
		})
		return
	}

	s.logger.Info("Subscriber unsubscribed", "email", email, "ip", ip)
	s.writeJSON(w, http.StatusOK, subscribeResponse{
		Success: true,
		Message: "Successfully unsubscribed",
	})
}

// clientIP extracts the caller's address, preferring the proxy-set header
// the hosting platform injects.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx > 0 {
		host = host[:idx]
	}
	return host
}
