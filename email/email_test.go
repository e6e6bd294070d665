package email

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"dodgerswin-notifier/pkg/notifier"
)

type fakeProvider struct {
	mu    sync.Mutex
	fail  map[string]bool
	sent  map[string]int
	calls int
}

func newFakeProvider(failing ...string) *fakeProvider {
	fail := make(map[string]bool)
	for _, addr := range failing {
		fail[addr] = true
	}
	return &fakeProvider{fail: fail, sent: make(map[string]int)}
}

func (f *fakeProvider) Send(_ context.Context, to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent[to]++
	if f.fail[to] {
		return errors.New("smtp 550 rejected")
	}
	return nil
}

type fakeLogStore struct {
	mu      sync.Mutex
	entries []*notifier.EmailLog
}

func (f *fakeLogStore) LogEmail(_ context.Context, entry *notifier.EmailLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func winRecord() *notifier.GameRecord {
	winAt := time.Date(2025, 6, 10, 5, 0, 0, 0, time.UTC)
	return &notifier.GameRecord{
		GameID:        "LAD-401568932",
		Summary:       "on June 9, 2025 against the San Diego Padres",
		WonHomeGame:   true,
		CreatedAt:     winAt,
		LastUpdated:   winAt,
		LastHomeWinAt: &winAt,
	}
}

func TestSendWinToAllAccounting(t *testing.T) {
	provider := newFakeProvider("bad@example.com")
	logs := &fakeLogStore{}
	sender := New(provider, logs, testLogger(), "https://didthedodgerswin.example", "Dodgers")

	recipients := []string{"a@example.com", "bad@example.com", "c@example.com"}
	result := sender.SendWinToAll(context.Background(), recipients, winRecord())

	if result.Successful != 2 || result.Failed != 1 {
		t.Errorf("Successful=%d Failed=%d, want 2/1", result.Successful, result.Failed)
	}
	if result.Total() != 3 {
		t.Errorf("Total() = %d, want 3", result.Total())
	}

	// One attempt per recipient, no retries at this layer.
	if provider.calls != 3 {
		t.Errorf("provider called %d times, want 3", provider.calls)
	}
	for _, to := range recipients {
		if provider.sent[to] != 1 {
			t.Errorf("recipient %s attempted %d times, want 1", to, provider.sent[to])
		}
	}

	byEmail := make(map[string]notifier.RecipientResult)
	for _, r := range result.PerRecipient {
		byEmail[r.Email] = r
	}
	if byEmail["bad@example.com"].Err == nil {
		t.Error("failed recipient missing error in per-recipient result")
	}
	if byEmail["a@example.com"].Err != nil {
		t.Errorf("a@example.com err = %v, want nil", byEmail["a@example.com"].Err)
	}
}

func TestSendWinToAllAuditLog(t *testing.T) {
	provider := newFakeProvider("bad@example.com")
	logs := &fakeLogStore{}
	sender := New(provider, logs, testLogger(), "https://didthedodgerswin.example", "Dodgers")

	sender.SendWinToAll(context.Background(), []string{"a@example.com", "bad@example.com"}, winRecord())

	if len(logs.entries) != 2 {
		t.Fatalf("logged %d entries, want 2", len(logs.entries))
	}

	statuses := make(map[string]*notifier.EmailLog)
	for _, e := range logs.entries {
		statuses[e.SubscriberEmail] = e
	}

	sent := statuses["a@example.com"]
	if sent == nil || sent.Status != notifier.StatusSent || sent.ErrorMessage != "" {
		t.Errorf("a@example.com log = %+v, want status %q", sent, notifier.StatusSent)
	}
	failed := statuses["bad@example.com"]
	if failed == nil || failed.Status != notifier.StatusFailed || failed.ErrorMessage == "" {
		t.Errorf("bad@example.com log = %+v, want status %q with message", failed, notifier.StatusFailed)
	}
	for _, e := range logs.entries {
		if e.GameID != "LAD-401568932" {
			t.Errorf("log entry game id = %q", e.GameID)
		}
	}
}

func TestSendWinToAllEmptyList(t *testing.T) {
	provider := newFakeProvider()
	logs := &fakeLogStore{}
	sender := New(provider, logs, testLogger(), "", "Dodgers")

	result := sender.SendWinToAll(context.Background(), nil, winRecord())
	if result.Total() != 0 {
		t.Errorf("Total() = %d, want 0", result.Total())
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times, want 0", provider.calls)
	}
}

func TestFormatWinBody(t *testing.T) {
	sender := New(newFakeProvider(), &fakeLogStore{}, testLogger(), "https://didthedodgerswin.example", "Dodgers")
	rec := winRecord()

	body := sender.formatWinBody("fan+alerts@example.com", rec)

	if !strings.Contains(body, "The Dodgers won on June 9, 2025 against the San Diego Padres!") {
		t.Error("body missing win summary")
	}
	if !strings.Contains(body, "https://didthedodgerswin.example/unsubscribe?email=fan%2Balerts%40example.com") {
		t.Error("body missing personal unsubscribe link")
	}
	if !strings.Contains(body, "View the latest result") {
		t.Error("body missing status page link")
	}
}

func TestFormatWinBodyEscapesSummary(t *testing.T) {
	sender := New(newFakeProvider(), &fakeLogStore{}, testLogger(), "", "Dodgers")
	rec := winRecord()
	rec.Summary = `on June 9 against the <b>"Padres"</b>`

	body := sender.formatWinBody("fan@example.com", rec)

	if strings.Contains(body, "<b>") {
		t.Error("summary HTML not escaped")
	}
	if !strings.Contains(body, "&lt;b&gt;&quot;Padres&quot;&lt;/b&gt;") {
		t.Error("escaped summary missing from body")
	}
}
