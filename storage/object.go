package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"dodgerswin-notifier/pkg/notifier"
)

// ObjectStore persists records as JSON objects, either in a Cloud Storage
// bucket or in a local directory for development.
type ObjectStore struct {
	client    *storage.Client
	logger    *slog.Logger
	bucket    string
	localPath string
}

// NewObjectStore creates a store backed by the given bucket, or by localPath
// when it is non-empty.
func NewObjectStore(client *storage.Client, bucket, localPath string, logger *slog.Logger) *ObjectStore {
	return &ObjectStore{
		client:    client,
		logger:    logger,
		bucket:    bucket,
		localPath: localPath,
	}
}

// Close releases the underlying client, if any.
func (s *ObjectStore) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Failed to close storage client", "error", err)
	}
}

// LatestGame returns the authoritative most-recent game record.
func (s *ObjectStore) LatestGame(ctx context.Context) (*notifier.GameRecord, error) {
	data, err := s.read(ctx, currentGameKey)
	if err != nil {
		return nil, err
	}
	var rec notifier.GameRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal game record: %w", err)
	}
	return &rec, nil
}

// CreateGame persists a new game record before any notification is sent.
// The existence check is best-effort only: unlike the Postgres backend,
// object writes cannot claim the game id atomically.
func (s *ObjectStore) CreateGame(ctx context.Context, rec *notifier.GameRecord) error {
	key := gameKey(rec.GameID)
	exists, err := s.exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check game existence: %w", err)
	}
	if exists {
		return ErrDuplicateGame
	}
	if err := s.writeGame(ctx, rec); err != nil {
		return err
	}
	s.logger.Info("Game record created", "game_id", rec.GameID, "key", key)
	return nil
}

// UpdateGame overwrites an existing game record (delivery counts after send).
func (s *ObjectStore) UpdateGame(ctx context.Context, rec *notifier.GameRecord) error {
	if err := s.writeGame(ctx, rec); err != nil {
		return err
	}
	s.logger.Info("Game record updated",
		"game_id", rec.GameID,
		"email_sent", rec.NotificationSent,
		"emails_sent", rec.NotificationsSentCount)
	return nil
}

func (s *ObjectStore) writeGame(ctx context.Context, rec *notifier.GameRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal game record: %w", err)
	}
	// History object first, then the authoritative current pointer.
	if err := s.write(ctx, gameKey(rec.GameID), data); err != nil {
		return err
	}
	return s.write(ctx, currentGameKey, data)
}

// ActiveSubscribers returns the emails of every active subscriber.
func (s *ObjectStore) ActiveSubscribers(ctx context.Context) ([]string, error) {
	keys, err := s.list(ctx, "sub-")
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	var emails []string
	for _, key := range keys {
		sub, err := s.loadSubscriber(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load subscriber", "key", key, "error", err)
			continue
		}
		if sub.Active {
			emails = append(emails, sub.Email)
		}
	}
	return emails, nil
}

// AddSubscriber creates or reactivates a subscriber.
func (s *ObjectStore) AddSubscriber(ctx context.Context, email string) (SubscribeOutcome, error) {
	email = NormalizeEmail(email)
	key := subscriberKey(email)

	existing, err := s.loadSubscriber(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		sub := &notifier.Subscriber{Email: email, SubscribedAt: time.Now().UTC(), Active: true}
		if err := s.saveSubscriber(ctx, key, sub); err != nil {
			return 0, err
		}
		s.logger.Info("Subscriber added", "email", email)
		return Subscribed, nil
	case err != nil:
		return 0, err
	case existing.Active:
		return AlreadySubscribed, nil
	default:
		existing.Active = true
		existing.SubscribedAt = time.Now().UTC()
		if err := s.saveSubscriber(ctx, key, existing); err != nil {
			return 0, err
		}
		s.logger.Info("Subscriber reactivated", "email", email)
		return Reactivated, nil
	}
}

// DeactivateSubscriber soft-deletes a subscriber. Missing subscribers are
// not an error: unsubscribing is idempotent.
func (s *ObjectStore) DeactivateSubscriber(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	key := subscriberKey(email)

	sub, err := s.loadSubscriber(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !sub.Active {
		return nil
	}
	sub.Active = false
	if err := s.saveSubscriber(ctx, key, sub); err != nil {
		return err
	}
	s.logger.Info("Subscriber deactivated", "email", email)
	return nil
}

// LogEmail appends one delivery attempt to the audit trail.
func (s *ObjectStore) LogEmail(ctx context.Context, entry *notifier.EmailLog) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal email log: %w", err)
	}
	key := fmt.Sprintf("%s%d.json", logKeyPrefix(entry.GameID), time.Now().UnixNano())
	return s.write(ctx, key, data)
}

// EmailLogsForGame lists every delivery attempt recorded for a game.
func (s *ObjectStore) EmailLogsForGame(ctx context.Context, gameID string) ([]*notifier.EmailLog, error) {
	keys, err := s.list(ctx, logKeyPrefix(gameID))
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}

	var logs []*notifier.EmailLog
	for _, key := range keys {
		data, err := s.read(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load email log", "key", key, "error", err)
			continue
		}
		var entry notifier.EmailLog
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warn("Failed to parse email log", "key", key, "error", err)
			continue
		}
		logs = append(logs, &entry)
	}
	return logs, nil
}

func (s *ObjectStore) loadSubscriber(ctx context.Context, key string) (*notifier.Subscriber, error) {
	data, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	var sub notifier.Subscriber
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscriber: %w", err)
	}
	return &sub, nil
}

func (s *ObjectStore) saveSubscriber(ctx context.Context, key string, sub *notifier.Subscriber) error {
	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}
	return s.write(ctx, key, data)
}

// read loads one object, from disk or the bucket.
func (s *ObjectStore) read(ctx context.Context, key string) ([]byte, error) {
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// write stores one object, to disk or the bucket.
func (s *ObjectStore) write(ctx context.Context, key string, data []byte) error {
	if s.localPath != "" {
		if err := os.WriteFile(filepath.Join(s.localPath, key), data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

// exists reports whether an object is present without reading its contents.
func (s *ObjectStore) exists(ctx context.Context, key string) (bool, error) {
	if s.localPath != "" {
		_, err := os.Stat(filepath.Join(s.localPath, key))
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat local object: %w", err)
	}

	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("object attrs: %w", err)
}

// list returns object keys with the given prefix.
func (s *ObjectStore) list(ctx context.Context, prefix string) ([]string, error) {
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		var keys []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, entry.Name())
		}
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
