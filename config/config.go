// Package config provides centralized configuration loaded from environment
// variables, with optional .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults track the Los Angeles Dodgers. Any MLB team can be monitored by
// overriding TEAM_ID / TEAM_TAG / HOME_VENUE.
const (
	DefaultTeamID    = "19"
	DefaultTeamTag   = "LAD"
	DefaultTeamName  = "Dodgers"
	DefaultHomeVenue = "Dodger Stadium"
	DefaultFeedBase  = "https://site.api.espn.com/apis/site/v2/sports/baseball/mlb"
	DefaultTimezone  = "America/Los_Angeles"
)

// Config is populated from environment variables.
type Config struct {
	// Tracked team
	TeamID    string
	TeamTag   string
	TeamName  string
	HomeVenue string
	FeedBase  string
	Timezone  string

	// Persistence: DatabaseURL selects Postgres, StorageBucket selects GCS,
	// otherwise LocalStorage (defaulted) selects the local file store.
	DatabaseURL  string
	StorageBucket string
	LocalStorage string

	// HTTP
	Port       string
	BaseURL    string
	CronSecret string

	// Email
	ResendAPIKey string
	FromAddr     string
	FromName     string

	// Per-external-call timeout
	RequestTimeout time.Duration
}

// Load reads configuration from the environment. A .env file, if present,
// is loaded first but never overrides real environment variables.
func Load() (*Config, error) {
	// Ignore the error: a missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		TeamID:    envOr("TEAM_ID", DefaultTeamID),
		TeamTag:   envOr("TEAM_TAG", DefaultTeamTag),
		TeamName:  envOr("TEAM_NAME", DefaultTeamName),
		HomeVenue: envOr("HOME_VENUE", DefaultHomeVenue),
		FeedBase:  envOr("FEED_BASE_URL", DefaultFeedBase),
		Timezone:  envOr("TEAM_TIMEZONE", DefaultTimezone),

		DatabaseURL:   envOr("DATABASE_URL", envOr("SUPABASE_DB_URL", "")),
		StorageBucket: envOr("STORAGE_BUCKET", ""),
		LocalStorage:  envOr("LOCAL_STORAGE", ""),

		Port:       envOr("PORT", "8080"),
		BaseURL:    envOr("BASE_URL", ""),
		CronSecret: envOr("CRON_SECRET", ""),

		ResendAPIKey: envOr("RESEND_API_KEY", ""),
		FromAddr:     envOr("EMAIL_FROM_ADDR", "onboarding@resend.dev"),
		FromName:     envOr("EMAIL_FROM_NAME", "Dodgers Win Alert"),

		RequestTimeout: envDurationOr("REQUEST_TIMEOUT", 10*time.Second),
	}

	if cfg.TeamTag == "" {
		return nil, fmt.Errorf("TEAM_TAG must not be empty")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TEAM_TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

// Location returns the tracked team's timezone, used for localized game
// dates in summaries. Load validates it, so failure here cannot happen.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
