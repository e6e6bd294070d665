// Package espn polls the public ESPN schedule feed for one team and derives
// the outcome of its most recent completed home game.
package espn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"dodgerswin-notifier/pkg/notifier"
)

// Client fetches and interprets the schedule feed for a single team.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	loc        *time.Location
	feedBase   string
	teamID     string
	teamTag    string
	homeVenue  string
}

// Config holds the poller settings.
type Config struct {
	Logger    *slog.Logger
	Location  *time.Location
	FeedBase  string // e.g. https://site.api.espn.com/apis/site/v2/sports/baseball/mlb
	TeamID    string // upstream team id, e.g. "19"
	TeamTag   string // game id namespace prefix, e.g. "LAD"
	HomeVenue string // venue fullName identifying home games
	Timeout   time.Duration
}

// New creates a schedule feed client.
func New(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
		loc:        loc,
		feedBase:   cfg.FeedBase,
		teamID:     cfg.TeamID,
		teamTag:    cfg.TeamTag,
		homeVenue:  cfg.HomeVenue,
	}
}

// Schedule feed shapes, reduced to the fields this service reads.
type scheduleResponse struct {
	Events []scheduleEvent `json:"events"`
}

type scheduleEvent struct {
	ID           string        `json:"id"`
	Date         string        `json:"date"`
	Competitions []competition `json:"competitions"`
}

type competition struct {
	Status      competitionStatus `json:"status"`
	Venue       competitionVenue  `json:"venue"`
	Competitors []competitor      `json:"competitors"`
}

type competitionStatus struct {
	Type struct {
		Completed bool `json:"completed"`
	} `json:"type"`
}

type competitionVenue struct {
	FullName string `json:"fullName"`
}

type competitor struct {
	Team struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"team"`
	HomeAway string `json:"homeAway"`
	Winner   bool   `json:"winner"`
}

// Poll fetches the schedule feed and derives an observation for the most
// recent completed home game. It returns (nil, nil) when no such game exists
// or the tracked team is missing from the payload; callers treat both the
// same as "nothing to report". A non-nil error means the fetch itself failed
// after retries.
func (c *Client) Poll(ctx context.Context) (*notifier.Observation, error) {
	sched, err := c.fetchSchedule(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}

	ev, comp := c.latestCompletedHomeGame(sched)
	if ev == nil {
		c.logger.Info("No completed home games in feed", "events", len(sched.Events), "venue", c.homeVenue)
		return nil, nil
	}

	var tracked, opponent *competitor
	for i := range comp.Competitors {
		if comp.Competitors[i].Team.ID == c.teamID {
			tracked = &comp.Competitors[i]
		} else {
			opponent = &comp.Competitors[i]
		}
	}
	if tracked == nil {
		// Malformed upstream payload; nothing sane to derive from it.
		c.logger.Warn("Tracked team missing from competitors", "event_id", ev.ID, "team_id", c.teamID)
		return nil, nil
	}

	opponentName := "opponent"
	if opponent != nil && opponent.Team.DisplayName != "" {
		opponentName = opponent.Team.DisplayName
	}

	now := time.Now().UTC()
	obs := &notifier.Observation{
		ObservedAt:  now,
		GameID:      c.gameID(ev, now),
		Summary:     fmt.Sprintf("on %s against the %s", c.localDate(ev.Date), opponentName),
		Opponent:    opponentName,
		WonHomeGame: tracked.Winner,
	}

	c.logger.Info("Observation derived",
		"game_id", obs.GameID,
		"won_home_game", obs.WonHomeGame,
		"summary", obs.Summary)

	return obs, nil
}

// latestCompletedHomeGame filters to finished games at the home venue and
// returns the most recent by event date.
func (c *Client) latestCompletedHomeGame(sched *scheduleResponse) (*scheduleEvent, *competition) {
	type candidate struct {
		ev   *scheduleEvent
		comp *competition
		date time.Time
	}
	var candidates []candidate

	for i := range sched.Events {
		ev := &sched.Events[i]
		if len(ev.Competitions) == 0 {
			continue
		}
		comp := &ev.Competitions[0]
		if !comp.Status.Type.Completed || comp.Venue.FullName != c.homeVenue {
			continue
		}
		candidates = append(candidates, candidate{ev: ev, comp: comp, date: parseEventDate(ev.Date)})
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].date.After(candidates[j].date)
	})

	return candidates[0].ev, candidates[0].comp
}

// gameID namespaces the upstream event id with the team tag. When the feed
// omits the id, a timestamp-based id is synthesized; it cannot dedup across
// ticks, so log it loudly.
func (c *Client) gameID(ev *scheduleEvent, now time.Time) string {
	if ev.ID != "" {
		return fmt.Sprintf("%s-%s", c.teamTag, ev.ID)
	}
	c.logger.Warn("Upstream event id missing, synthesizing game id", "date", ev.Date)
	return fmt.Sprintf("%s-%d-%d", c.teamTag, now.Year(), now.Unix())
}

// localDate renders the event date in the team's timezone, "June 9, 2025".
func (c *Client) localDate(raw string) string {
	t := parseEventDate(raw)
	if t.IsZero() {
		return raw
	}
	return t.In(c.loc).Format("January 2, 2006")
}

// parseEventDate handles both RFC3339 and the feed's minute-precision
// variant ("2006-01-02T15:04Z").
func parseEventDate(raw string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (c *Client) scheduleURL() string {
	return fmt.Sprintf("%s/teams/%s/schedule", c.feedBase, c.teamID)
}

func (c *Client) fetchSchedule(ctx context.Context) (*scheduleResponse, error) {
	feedURL := c.scheduleURL()
	var sched *scheduleResponse

	err := retry.Do(
		func() error {
			c.logger.Info("HTTP request starting",
				"method", "GET",
				"url", feedURL,
				"purpose", "fetch_schedule")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Accept", "application/json")

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("HTTP request failed, will retry",
					"url", feedURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("HTTP request completed",
				"url", feedURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", resp.ContentLength)

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			var decoded scheduleResponse
			if err := json.Unmarshal(body, &decoded); err != nil {
				c.logger.Warn("Failed to parse schedule JSON, will retry", "error", err)
				return fmt.Errorf("parse schedule: %w", err)
			}

			sched = &decoded
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying schedule fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return sched, nil
}
