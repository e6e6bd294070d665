// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"time"

	"dodgerswin-notifier/pkg/notifier"
	"dodgerswin-notifier/storage"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// Templates.
	templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))
)

// Store interface for game record and subscriber management.
type Store interface {
	LatestGame(ctx context.Context) (*notifier.GameRecord, error)
	AddSubscriber(ctx context.Context, email string) (storage.SubscribeOutcome, error)
	DeactivateSubscriber(ctx context.Context, email string) error
}

// Ticker interface for triggering one poll-and-notify pass.
type Ticker interface {
	Tick(ctx context.Context) (*notifier.TickSummary, error)
}

// Server handles HTTP requests.
type Server struct {
	store      Store
	ticker     Ticker
	logger     *slog.Logger
	limiter    *ipRateLimiter
	cronSecret string
	teamName   string
}

// Config holds server configuration.
type Config struct {
	Store      Store
	Ticker     Ticker
	Logger     *slog.Logger
	CronSecret string
	TeamName   string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		store:      cfg.Store,
		ticker:     cfg.Ticker,
		logger:     cfg.Logger,
		limiter:    newIPRateLimiter(),
		cronSecret: cfg.CronSecret,
		teamName:   cfg.TeamName,
	}
}

// ServeHTTP sets up all routes and starts the server.
func (s *Server) ServeHTTP(port string) error {
	http.HandleFunc("/", s.handleRoot)
	http.HandleFunc("/health", s.handleHealth)
	http.HandleFunc("/pollz", s.handleTrigger)
	http.HandleFunc("/api/game-data", s.handleGameData)
	http.HandleFunc("/subscribe", s.handleSubscribe)
	http.HandleFunc("/unsubscribe", s.handleUnsubscribe)

	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second, // A tick blocks on upstream + mail sends
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'; img-src 'self' data:")

	data := map[string]string{
		"TeamName": s.teamName,
	}

	if err := templates.ExecuteTemplate(w, "index.tmpl", data); err != nil {
		s.logger.Error("Failed to render template", "template", "index.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// gameDataResponse is the public status payload. Field names match the
// status page contract.
type gameDataResponse struct {
	DidWin      bool   `json:"didWin"`
	GameInfo    string `json:"gameInfo"`
	LastUpdated string `json:"lastUpdated"`
	LastHomeWin string `json:"lastHomeWin,omitempty"`
	EmailSent   bool   `json:"emailSent"`
	EmailsSent  int    `json:"emailsSent"`
	Error       string `json:"error,omitempty"`
}

// handleGameData serves the current game record as JSON. "No data yet" is a
// well-formed 200 payload, never an error status: the status page must always
// have something deterministic to render.
func (s *Server) handleGameData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec, err := s.store.LatestGame(r.Context())
	switch {
	case err == nil:
		resp := gameDataResponse{
			DidWin:      rec.WonHomeGame,
			GameInfo:    rec.Summary,
			LastUpdated: rec.LastUpdated.UTC().Format(time.RFC3339),
			EmailSent:   rec.NotificationSent,
			EmailsSent:  rec.NotificationsSentCount,
		}
		if rec.LastHomeWinAt != nil {
			resp.LastHomeWin = rec.LastHomeWinAt.UTC().Format(time.RFC3339)
		}
		s.writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, storage.ErrNotFound):
		s.writeJSON(w, http.StatusOK, gameDataResponse{
			GameInfo:    "No recent game data available",
			LastUpdated: time.Now().UTC().Format(time.RFC3339),
			Error:       "No game data found",
		})
	default:
		s.logger.Error("Failed to load game record", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, gameDataResponse{
			GameInfo:    "Error loading game data",
			LastUpdated: time.Now().UTC().Format(time.RFC3339),
			Error:       "Failed to fetch game data",
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write JSON response", "error", err)
	}
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	// Use mail.ParseAddress for robust validation
	_, err := mail.ParseAddress(email)
	return err == nil && emailRegex.MatchString(email)
}
