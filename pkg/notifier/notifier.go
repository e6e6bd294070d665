// Package notifier contains the core domain types for the home-win notification service.
package notifier

import "time"

// Observation is the poller's derived result for the most recent completed
// home game of the tracked team.
type Observation struct {
	ObservedAt  time.Time `json:"observed_at"`
	GameID      string    `json:"game_id"` // Namespaced upstream event id, e.g. "LAD-401568932"
	Summary     string    `json:"summary"` // "on <date> against the <opponent>"
	Opponent    string    `json:"opponent"`
	WonHomeGame bool      `json:"won_home_game"`
}

// GameRecord is the persisted "last processed outcome" entity. The store
// keeps a history of records; the most recently created row is authoritative.
type GameRecord struct {
	LastUpdated            time.Time  `json:"last_updated"`
	LastHomeWinAt          *time.Time `json:"last_home_win,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	GameID                 string     `json:"game_id"` // Deduplication key
	Summary                string     `json:"game_info"`
	WonHomeGame            bool       `json:"did_win"`
	NotificationSent       bool       `json:"email_sent"`
	NotificationsSentCount int        `json:"emails_sent"`
}

// Subscriber is a mailing-list member. Opt-out flips Active to false; rows
// are never deleted so email logs keep a valid reference.
type Subscriber struct {
	SubscribedAt time.Time `json:"subscribed_at"`
	Email        string    `json:"email"`
	Active       bool      `json:"active"`
}

// EmailLog records one delivery attempt for one (game, subscriber) pair.
// Append-only audit trail.
type EmailLog struct {
	SentAt          time.Time `json:"sent_at"`
	GameID          string    `json:"game_id"`
	SubscriberEmail string    `json:"subscriber_email"`
	Status          string    `json:"status"` // "sent" or "failed"
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Delivery statuses recorded in EmailLog.Status.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// RecipientResult is the outcome of a single delivery attempt.
type RecipientResult struct {
	Email string `json:"email"`
	Err   error  `json:"-"`
}

// DeliveryResult aggregates a fan-out to the mailing list.
type DeliveryResult struct {
	PerRecipient []RecipientResult `json:"per_recipient"`
	Successful   int               `json:"successful"`
	Failed       int               `json:"failed"`
}

// Total returns the number of recipients attempted.
func (d *DeliveryResult) Total() int {
	return d.Successful + d.Failed
}

// TickSummary reports what a single poll-and-notify tick did.
type TickSummary struct {
	Message        string `json:"message"`
	GameID         string `json:"game_id,omitempty"`
	RecipientCount int    `json:"recipient_count"`
	Processed      bool   `json:"processed"`
	Notified       bool   `json:"notified"`
}
