package espn

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const scheduleFixture = `{
  "events": [
    {
      "id": "401568900",
      "date": "2025-06-08T02:10Z",
      "competitions": [{
        "status": {"type": {"completed": true}},
        "venue": {"fullName": "Dodger Stadium"},
        "competitors": [
          {"team": {"id": "19", "displayName": "Los Angeles Dodgers"}, "homeAway": "home", "winner": false},
          {"team": {"id": "25", "displayName": "San Francisco Giants"}, "homeAway": "away", "winner": true}
        ]
      }]
    },
    {
      "id": "401568932",
      "date": "2025-06-10T02:10Z",
      "competitions": [{
        "status": {"type": {"completed": true}},
        "venue": {"fullName": "Dodger Stadium"},
        "competitors": [
          {"team": {"id": "19", "displayName": "Los Angeles Dodgers"}, "homeAway": "home", "winner": true},
          {"team": {"id": "20", "displayName": "San Diego Padres"}, "homeAway": "away", "winner": false}
        ]
      }]
    },
    {
      "id": "401568999",
      "date": "2025-06-12T02:10Z",
      "competitions": [{
        "status": {"type": {"completed": false}},
        "venue": {"fullName": "Dodger Stadium"},
        "competitors": [
          {"team": {"id": "19", "displayName": "Los Angeles Dodgers"}, "homeAway": "home"},
          {"team": {"id": "21", "displayName": "Arizona Diamondbacks"}, "homeAway": "away"}
        ]
      }]
    },
    {
      "id": "401568950",
      "date": "2025-06-11T02:10Z",
      "competitions": [{
        "status": {"type": {"completed": true}},
        "venue": {"fullName": "Petco Park"},
        "competitors": [
          {"team": {"id": "20", "displayName": "San Diego Padres"}, "homeAway": "home", "winner": true},
          {"team": {"id": "19", "displayName": "Los Angeles Dodgers"}, "homeAway": "away", "winner": false}
        ]
      }]
    }
  ]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestClient(t *testing.T, payload string) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/teams/19/schedule") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(payload)); err != nil {
			t.Errorf("write fixture: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	return New(&Config{
		Logger:    testLogger(),
		Location:  loc,
		FeedBase:  srv.URL,
		TeamID:    "19",
		TeamTag:   "LAD",
		HomeVenue: "Dodger Stadium",
		Timeout:   5 * time.Second,
	})
}

func TestPollPicksLatestCompletedHomeGame(t *testing.T) {
	client := newTestClient(t, scheduleFixture)

	obs, err := client.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if obs == nil {
		t.Fatal("Poll() = nil, want observation")
	}

	// The in-progress home game and the completed away game must lose to the
	// June 10 completed home game.
	if obs.GameID != "LAD-401568932" {
		t.Errorf("GameID = %q, want LAD-401568932", obs.GameID)
	}
	if !obs.WonHomeGame {
		t.Error("WonHomeGame = false, want true")
	}
	if obs.Opponent != "San Diego Padres" {
		t.Errorf("Opponent = %q", obs.Opponent)
	}
	// 2025-06-10T02:10Z is the evening of June 9 in Los Angeles.
	if obs.Summary != "on June 9, 2025 against the San Diego Padres" {
		t.Errorf("Summary = %q", obs.Summary)
	}
}

func TestPollNoCompletedHomeGames(t *testing.T) {
	payload := `{
	  "events": [{
	    "id": "401568950",
	    "date": "2025-06-11T02:10Z",
	    "competitions": [{
	      "status": {"type": {"completed": true}},
	      "venue": {"fullName": "Petco Park"},
	      "competitors": [
	        {"team": {"id": "20", "displayName": "San Diego Padres"}, "homeAway": "home", "winner": true},
	        {"team": {"id": "19", "displayName": "Los Angeles Dodgers"}, "homeAway": "away", "winner": false}
	      ]
	    }]
	  }]
	}`
	client := newTestClient(t, payload)

	obs, err := client.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if obs != nil {
		t.Errorf("Poll() = %+v, want nil for away-only schedule", obs)
	}
}

func TestPollEmptySchedule(t *testing.T) {
	client := newTestClient(t, `{"events": []}`)

	obs, err := client.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if obs != nil {
		t.Errorf("Poll() = %+v, want nil for empty schedule", obs)
	}
}

func TestPollTrackedTeamMissing(t *testing.T) {
	payload := `{
	  "events": [{
	    "id": "401568932",
	    "date": "2025-06-10T02:10Z",
	    "competitions": [{
	      "status": {"type": {"completed": true}},
	      "venue": {"fullName": "Dodger Stadium"},
	      "competitors": [
	        {"team": {"id": "20", "displayName": "San Diego Padres"}, "homeAway": "away", "winner": false},
	        {"team": {"id": "21", "displayName": "Arizona Diamondbacks"}, "homeAway": "home", "winner": true}
	      ]
	    }]
	  }]
	}`
	client := newTestClient(t, payload)

	obs, err := client.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if obs != nil {
		t.Errorf("Poll() = %+v, want nil when the tracked team is absent", obs)
	}
}

func TestPollSynthesizesGameIDWhenEventIDMissing(t *testing.T) {
	payload := `{
	  "events": [{
	    "id": "",
	    "date": "2025-06-10T02:10Z",
	    "competitions": [{
	      "status": {"type": {"completed": true}},
	      "venue": {"fullName": "Dodger Stadium"},
	      "competitors": [
	        {"team": {"id": "19", "displayName": "Los Angeles Dodgers"}, "homeAway": "home", "winner": true},
	        {"team": {"id": "20", "displayName": "San Diego Padres"}, "homeAway": "away", "winner": false}
	      ]
	    }]
	  }]
	}`
	client := newTestClient(t, payload)

	obs, err := client.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if obs == nil {
		t.Fatal("Poll() = nil, want observation")
	}
	if !strings.HasPrefix(obs.GameID, "LAD-2") {
		t.Errorf("GameID = %q, want synthesized LAD-<year>-<unix> id", obs.GameID)
	}
	if obs.GameID == "LAD-" {
		t.Error("GameID missing synthesized suffix")
	}
}

func TestPollUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := New(&Config{
		Logger:    testLogger(),
		FeedBase:  srv.URL,
		TeamID:    "19",
		TeamTag:   "LAD",
		HomeVenue: "Dodger Stadium",
		Timeout:   5 * time.Second,
	})

	if _, err := client.Poll(context.Background()); err == nil {
		t.Fatal("Poll() expected error for persistent upstream failure")
	}
}

func TestParseEventDate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{
			name: "minute precision",
			raw:  "2025-06-10T02:10Z",
			want: time.Date(2025, 6, 10, 2, 10, 0, 0, time.UTC),
		},
		{
			name: "rfc3339",
			raw:  "2025-06-10T02:10:00Z",
			want: time.Date(2025, 6, 10, 2, 10, 0, 0, time.UTC),
		},
		{
			name: "garbage",
			raw:  "next tuesday",
			want: time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEventDate(tt.raw)
			if !got.Equal(tt.want) {
				t.Errorf("parseEventDate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
