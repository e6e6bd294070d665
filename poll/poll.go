// Package poll coordinates one poll-and-notify tick: dedup the observation
// against the persisted record, persist before sending, fan out the
// notification, then record delivery counts.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dodgerswin-notifier/pkg/notifier"
	"dodgerswin-notifier/storage"
)

// Poller interface for deriving the latest home-game observation.
type Poller interface {
	Poll(ctx context.Context) (*notifier.Observation, error)
}

// Store interface for game record and subscriber persistence.
type Store interface {
	LatestGame(ctx context.Context) (*notifier.GameRecord, error)
	CreateGame(ctx context.Context, rec *notifier.GameRecord) error
	UpdateGame(ctx context.Context, rec *notifier.GameRecord) error
	ActiveSubscribers(ctx context.Context) ([]string, error)
}

// Emailer interface for notifying the mailing list.
type Emailer interface {
	SendWinToAll(ctx context.Context, recipients []string, rec *notifier.GameRecord) *notifier.DeliveryResult
}

// Monitor runs the tick logic.
type Monitor struct {
	poller  Poller
	store   Store
	emailer Emailer
	logger  *slog.Logger
}

// New creates a tick monitor.
func New(poller Poller, store Store, emailer Emailer, logger *slog.Logger) *Monitor {
	return &Monitor{
		poller:  poller,
		store:   store,
		emailer: emailer,
		logger:  logger,
	}
}

// Tick runs one full poll-and-notify pass.
//
// A notification goes out at most once per game id. The new record is
// persisted with NotificationSent=false BEFORE any delivery attempt, so an
// overlapping tick reads the claim and skips; sending before a durable write
// would let a crash re-trigger delivery on the next tick.
//
// Upstream failures are not tick failures: state is untouched and the
// summary says so. Persistence failures before delivery abort the tick.
func (m *Monitor) Tick(ctx context.Context) (*notifier.TickSummary, error) {
	obs, err := m.poller.Poll(ctx)
	if err != nil {
		m.logger.Warn("Upstream poll failed, treating as no observation", "error", err)
		return &notifier.TickSummary{Message: "upstream fetch failed, no observation"}, nil
	}
	if obs == nil {
		return &notifier.TickSummary{Message: "no completed home games found"}, nil
	}

	current, err := m.store.LatestGame(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load current game record: %w", err)
	}

	if !obs.WonHomeGame {
		m.logger.Info("Last home game was not a win", "game_id", obs.GameID)
		return &notifier.TickSummary{Message: "last home game was not a win", GameID: obs.GameID}, nil
	}

	if current != nil && current.GameID == obs.GameID {
		m.logger.Info("Home win already processed", "game_id", obs.GameID)
		return &notifier.TickSummary{Message: "already processed this win", GameID: obs.GameID}, nil
	}

	m.logger.Info("New home win detected", "game_id", obs.GameID, "summary", obs.Summary)

	winAt := obs.ObservedAt
	rec := &notifier.GameRecord{
		GameID:        obs.GameID,
		WonHomeGame:   true,
		Summary:       obs.Summary,
		LastUpdated:   obs.ObservedAt,
		LastHomeWinAt: &winAt,
		CreatedAt:     obs.ObservedAt,
	}

	// Write-before-send: the dedup key must be durable before any email
	// leaves the building.
	if err := m.store.CreateGame(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateGame) {
			m.logger.Info("Game already claimed by another tick", "game_id", obs.GameID)
			return &notifier.TickSummary{Message: "already processed this win", GameID: obs.GameID}, nil
		}
		return nil, fmt.Errorf("persist game record: %w", err)
	}

	recipients, err := m.store.ActiveSubscribers(ctx)
	if err != nil {
		// The claim is durable; the next tick will not resend. Delivery for
		// this game is lost, which is the documented trade-off.
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	if len(recipients) == 0 {
		m.logger.Info("No active subscribers to notify", "game_id", obs.GameID)
		return &notifier.TickSummary{
			Processed: true,
			Message:   "new home win recorded, no subscribers to notify",
			GameID:    obs.GameID,
		}, nil
	}

	result := m.emailer.SendWinToAll(ctx, recipients, rec)

	rec.NotificationSent = result.Successful > 0
	rec.NotificationsSentCount = result.Successful
	rec.LastUpdated = time.Now().UTC()

	if err := m.store.UpdateGame(ctx, rec); err != nil {
		// Delivery already happened and the dedup key is durable; losing the
		// count update is not worth failing the tick over.
		m.logger.Error("Failed to record delivery counts", "game_id", rec.GameID, "error", err)
	}

	m.logger.Info("Tick completed",
		"game_id", rec.GameID,
		"recipients", len(recipients),
		"sent", result.Successful,
		"failed", result.Failed)

	return &notifier.TickSummary{
		Processed:      true,
		Notified:       rec.NotificationSent,
		RecipientCount: result.Successful,
		Message:        fmt.Sprintf("Sent %d emails, %d failed", result.Successful, result.Failed),
		GameID:         rec.GameID,
	}, nil
}
