package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dodgerswin-notifier/pkg/notifier"
)

// PostgresStore persists to a hosted Postgres database (Supabase in
// production). This is the only backend whose CreateGame claims the game id
// atomically, which closes the overlapping-tick race.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Schema is created on startup when absent. The service owns these three
// tables outright, so there is no separate migration step to coordinate.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS game_data (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	game_id TEXT NOT NULL UNIQUE,
	did_win BOOLEAN NOT NULL,
	game_info TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL,
	last_home_win TIMESTAMPTZ,
	email_sent BOOLEAN NOT NULL DEFAULT FALSE,
	emails_sent INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS subscribers (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	subscribed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS email_logs (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	game_id TEXT NOT NULL,
	subscriber_email TEXT NOT NULL,
	sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	status TEXT NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_email_logs_game_id ON email_logs (game_id);
`

// NewPostgresStore connects, verifies the connection, and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("Connected to Postgres", "max_conns", poolCfg.MaxConns)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// LatestGame returns the most recently created game record.
func (s *PostgresStore) LatestGame(ctx context.Context) (*notifier.GameRecord, error) {
	const q = `
		SELECT game_id, did_win, game_info, last_updated, last_home_win, email_sent, emails_sent, created_at
		FROM game_data ORDER BY created_at DESC LIMIT 1`

	var rec notifier.GameRecord
	err := s.pool.QueryRow(ctx, q).Scan(
		&rec.GameID, &rec.WonHomeGame, &rec.Summary, &rec.LastUpdated,
		&rec.LastHomeWinAt, &rec.NotificationSent, &rec.NotificationsSentCount, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest game: %w", err)
	}
	return &rec, nil
}

// CreateGame inserts a new game record, claiming its game id. A conflict on
// game_id means another tick already processed this game.
func (s *PostgresStore) CreateGame(ctx context.Context, rec *notifier.GameRecord) error {
	const q = `
		INSERT INTO game_data (game_id, did_win, game_info, last_updated, last_home_win, email_sent, emails_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		rec.GameID, rec.WonHomeGame, rec.Summary, rec.LastUpdated,
		rec.LastHomeWinAt, rec.NotificationSent, rec.NotificationsSentCount)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateGame
	}
	s.logger.Info("Game record created", "game_id", rec.GameID)
	return nil
}

// UpdateGame upserts delivery state onto an existing game record.
func (s *PostgresStore) UpdateGame(ctx context.Context, rec *notifier.GameRecord) error {
	const q = `
		INSERT INTO game_data (game_id, did_win, game_info, last_updated, last_home_win, email_sent, emails_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id) DO UPDATE SET
			did_win = EXCLUDED.did_win,
			game_info = EXCLUDED.game_info,
			last_updated = EXCLUDED.last_updated,
			last_home_win = EXCLUDED.last_home_win,
			email_sent = EXCLUDED.email_sent,
			emails_sent = EXCLUDED.emails_sent`

	if _, err := s.pool.Exec(ctx, q,
		rec.GameID, rec.WonHomeGame, rec.Summary, rec.LastUpdated,
		rec.LastHomeWinAt, rec.NotificationSent, rec.NotificationsSentCount); err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	s.logger.Info("Game record updated",
		"game_id", rec.GameID,
		"email_sent", rec.NotificationSent,
		"emails_sent", rec.NotificationsSentCount)
	return nil
}

// ActiveSubscribers returns the emails of every active subscriber.
func (s *PostgresStore) ActiveSubscribers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT email FROM subscribers WHERE active = TRUE ORDER BY subscribed_at`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// AddSubscriber creates or reactivates a subscriber.
func (s *PostgresStore) AddSubscriber(ctx context.Context, email string) (SubscribeOutcome, error) {
	email = NormalizeEmail(email)

	var active bool
	err := s.pool.QueryRow(ctx, `SELECT active FROM subscribers WHERE email = $1`, email).Scan(&active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO subscribers (email, subscribed_at, active) VALUES ($1, NOW(), TRUE)
			 ON CONFLICT (email) DO UPDATE SET active = TRUE, subscribed_at = NOW()`, email); err != nil {
			return 0, fmt.Errorf("insert subscriber: %w", err)
		}
		s.logger.Info("Subscriber added", "email", email)
		return Subscribed, nil
	case err != nil:
		return 0, fmt.Errorf("check subscriber: %w", err)
	case active:
		return AlreadySubscribed, nil
	default:
		if _, err := s.pool.Exec(ctx,
			`UPDATE subscribers SET active = TRUE, subscribed_at = NOW() WHERE email = $1`, email); err != nil {
			return 0, fmt.Errorf("reactivate subscriber: %w", err)
		}
		s.logger.Info("Subscriber reactivated", "email", email)
		return Reactivated, nil
	}
}

// DeactivateSubscriber soft-deletes a subscriber; unknown emails are a no-op.
func (s *PostgresStore) DeactivateSubscriber(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if _, err := s.pool.Exec(ctx, `UPDATE subscribers SET active = FALSE WHERE email = $1`, email); err != nil {
		return fmt.Errorf("deactivate subscriber: %w", err)
	}
	s.logger.Info("Subscriber deactivated", "email", email)
	return nil
}

// LogEmail appends one delivery attempt to the audit trail.
func (s *PostgresStore) LogEmail(ctx context.Context, entry *notifier.EmailLog) error {
	var errMsg *string
	if entry.ErrorMessage != "" {
		errMsg = &entry.ErrorMessage
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO email_logs (game_id, subscriber_email, sent_at, status, error_message)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.GameID, entry.SubscriberEmail, entry.SentAt, entry.Status, errMsg); err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// EmailLogsForGame lists delivery attempts for a game, newest first.
func (s *PostgresStore) EmailLogsForGame(ctx context.Context, gameID string) ([]*notifier.EmailLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT game_id, subscriber_email, sent_at, status, COALESCE(error_message, '')
		 FROM email_logs WHERE game_id = $1 ORDER BY sent_at DESC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query email logs: %w", err)
	}
	defer rows.Close()

	var logs []*notifier.EmailLog
	for rows.Next() {
		var entry notifier.EmailLog
		if err := rows.Scan(&entry.GameID, &entry.SubscriberEmail, &entry.SentAt, &entry.Status, &entry.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}
