// Package main implements a Cloud Run service that watches a baseball team's
// schedule feed and emails subscribers whenever the team wins a home game.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"dodgerswin-notifier/config"
	"dodgerswin-notifier/email"
	"dodgerswin-notifier/espn"
	"dodgerswin-notifier/pkg/notifier"
	"dodgerswin-notifier/poll"
	"dodgerswin-notifier/server"
	"dodgerswin-notifier/storage"
)

// dataStore is the union of the persistence methods the service wires up.
// Both backends implement it.
type dataStore interface {
	LatestGame(ctx context.Context) (*notifier.GameRecord, error)
	CreateGame(ctx context.Context, rec *notifier.GameRecord) error
	UpdateGame(ctx context.Context, rec *notifier.GameRecord) error
	ActiveSubscribers(ctx context.Context) ([]string, error)
	AddSubscriber(ctx context.Context, email string) (storage.SubscribeOutcome, error)
	DeactivateSubscriber(ctx context.Context, email string) error
	LogEmail(ctx context.Context, entry *notifier.EmailLog) error
	Close()
}

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Local development mode: no Postgres URL and no GCS bucket configured.
	localMode := cfg.DatabaseURL == "" && cfg.StorageBucket == ""
	if localMode {
		if cfg.LocalStorage == "" {
			cfg.LocalStorage = "./data"
		}
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:" + cfg.Port
		}
	} else {
		if cfg.BaseURL == "" {
			logger.Error("BASE_URL environment variable required (e.g., https://your-service.run.app)")
			os.Exit(1)
		}
		if cfg.CronSecret == "" {
			logger.Error("CRON_SECRET environment variable required")
			os.Exit(1)
		}
	}

	store, err := initStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	provider := initProvider(ctx, cfg, localMode, logger)

	poller := espn.New(&espn.Config{
		Logger:    logger,
		Location:  cfg.Location(),
		FeedBase:  cfg.FeedBase,
		TeamID:    cfg.TeamID,
		TeamTag:   cfg.TeamTag,
		HomeVenue: cfg.HomeVenue,
		Timeout:   cfg.RequestTimeout,
	})

	sender := email.New(provider, store, logger, cfg.BaseURL, cfg.TeamName)
	monitor := poll.New(poller, store, sender, logger)

	srv := server.New(&server.Config{
		Store:      store,
		Ticker:     monitor,
		Logger:     logger,
		CronSecret: cfg.CronSecret,
		TeamName:   cfg.TeamName,
	})

	if err := srv.ServeHTTP(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// initStore picks a backend: Postgres when DATABASE_URL is set, GCS when
// STORAGE_BUCKET is set, otherwise a local directory.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dataStore, error) {
	if cfg.DatabaseURL != "" {
		logger.Info("Using Postgres storage")
		return storage.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	}

	if cfg.StorageBucket != "" {
		logger.Info("Using object storage", "bucket", cfg.StorageBucket)
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewObjectStore(client, cfg.StorageBucket, "", logger), nil
	}

	if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
		return nil, err
	}
	return storage.NewObjectStore(nil, "", cfg.LocalStorage, logger), nil
}

// initProvider picks an email provider: Resend when an API key is set, then
// Gmail when credentials are available, otherwise mock delivery. Production
// mode refuses to run without a real provider.
func initProvider(ctx context.Context, cfg *config.Config, localMode bool, logger *slog.Logger) email.Provider {
	if cfg.ResendAPIKey != "" {
		logger.Info("Using Resend email provider", "from", cfg.FromAddr)
		return email.NewResendProvider(cfg.ResendAPIKey, cfg.FromAddr, cfg.FromName, logger)
	}

	svc, err := initGmailService(ctx)
	if err == nil {
		logger.Info("Using Gmail email provider")
		return email.NewGmailProvider(svc, logger)
	}

	if !localMode {
		logger.Error("No email provider configured (set RESEND_API_KEY or Gmail credentials)", "error", err)
		os.Exit(1)
	}

	logger.Info("Mock email mode enabled", "error", err)
	return email.NewMockProvider(logger)
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	// Try explicit credentials first (for local development or specific use cases)
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// If running in Cloud Run, use Application Default Credentials (ADC).
	// The service account needs Gmail API access (gmail.send scope).
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
