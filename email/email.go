// Package email handles sending win notification emails via multiple providers.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dodgerswin-notifier/pkg/notifier"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogStore records per-recipient delivery attempts for auditing.
type LogStore interface {
	LogEmail(ctx context.Context, entry *notifier.EmailLog) error
}

// Sender fans notification emails out to the mailing list using a pluggable
// provider.
type Sender struct {
	provider Provider
	logs     LogStore
	logger   *slog.Logger
	baseURL  string // For links in emails
	teamName string
}

// New creates a new email sender with the given provider.
func New(provider Provider, logs LogStore, logger *slog.Logger, baseURL, teamName string) *Sender {
	return &Sender{
		provider: provider,
		logs:     logs,
		logger:   logger,
		baseURL:  baseURL,
		teamName: teamName,
	}
}

// SendWinToAll delivers the win notification to every recipient. Deliveries
// are independent: they run concurrently, one failure never blocks another,
// and every attempt is final once issued. Each attempt is appended to the
// audit log keyed by (game id, recipient).
func (s *Sender) SendWinToAll(ctx context.Context, recipients []string, rec *notifier.GameRecord) *notifier.DeliveryResult {
	subject := fmt.Sprintf("The %s won at home!", s.teamName)

	s.logger.Info("Sending win notifications",
		"game_id", rec.GameID,
		"recipients", len(recipients),
		"subject", subject)

	results := make([]notifier.RecipientResult, len(recipients))
	var wg sync.WaitGroup
	for i, to := range recipients {
		wg.Add(1)
		go func(i int, to string) {
			defer wg.Done()

			body := s.formatWinBody(to, rec)
			err := s.provider.Send(ctx, to, subject, body)
			results[i] = notifier.RecipientResult{Email: to, Err: err}

			entry := &notifier.EmailLog{
				GameID:          rec.GameID,
				SubscriberEmail: to,
				SentAt:          time.Now().UTC(),
				Status:          notifier.StatusSent,
			}
			if err != nil {
				entry.Status = notifier.StatusFailed
				entry.ErrorMessage = err.Error()
				s.logger.Warn("Delivery failed", "game_id", rec.GameID, "to", to, "error", err)
			}
			if logErr := s.logs.LogEmail(ctx, entry); logErr != nil {
				s.logger.Warn("Failed to record email log", "game_id", rec.GameID, "to", to, "error", logErr)
			}
		}(i, to)
	}
	wg.Wait()

	agg := &notifier.DeliveryResult{PerRecipient: results}
	for _, r := range results {
		if r.Err == nil {
			agg.Successful++
		} else {
			agg.Failed++
		}
	}

	s.logger.Info("Win notifications completed",
		"game_id", rec.GameID,
		"successful", agg.Successful,
		"failed", agg.Failed)

	return agg
}
