// Package storage handles persistence of game records, subscribers, and the
// email delivery audit trail. Two implementations exist: ObjectStore (Google
// Cloud Storage, or a local directory for development) and PostgresStore.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates no game record has been persisted yet.
var ErrNotFound = errors.New("storage: record not found")

// ErrDuplicateGame indicates a game record with the same game id already
// exists. The coordinator treats this as "another tick claimed this game".
var ErrDuplicateGame = errors.New("storage: duplicate game id")

// SubscribeOutcome describes what AddSubscriber did.
type SubscribeOutcome int

const (
	// Subscribed means a new subscriber row was created.
	Subscribed SubscribeOutcome = iota
	// Reactivated means a previously opted-out subscriber was re-enabled.
	Reactivated
	// AlreadySubscribed means the email is already active.
	AlreadySubscribed
)

// NormalizeEmail lowercases and trims an address; all stores key subscribers
// by the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// subscriberKey derives a stable, path-safe object name from an email.
func subscriberKey(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return fmt.Sprintf("sub-%s.json", hex.EncodeToString(sum[:]))
}

// gameKey is the per-game history object; currentGameKey is the single
// authoritative "most recent" pointer.
func gameKey(gameID string) string {
	return fmt.Sprintf("game-%s.json", sanitizeID(gameID))
}

const currentGameKey = "game-current.json"

// logKeyPrefix groups delivery logs by game for listing.
func logKeyPrefix(gameID string) string {
	return fmt.Sprintf("log-%s-", sanitizeID(gameID))
}

// sanitizeID keeps object names path-safe; game ids are expected to be
// "TAG-digits" but upstream input is never trusted.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
