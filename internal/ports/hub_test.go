package ports_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/ports"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, current domain.Snapshot) (*ports.SnapshotHub, string) {
	t.Helper()

	allowedOrigins, err := ports.NewDomainSuffixes("example.com")
	require.NoError(t, err)

	hub := ports.NewSnapshotHub(allowedOrigins, func() domain.Snapshot { return current }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func readSnapshot(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(message, &decoded))
	return decoded
}

func TestSnapshotHub(t *testing.T) {
	t.Parallel()

	current := domain.Snapshot{
		Status: domain.SessionReady,
		Stats:  domain.NewStats(),
	}

	t.Run("sends the current snapshot on connect, then broadcasts", func(t *testing.T) {
		t.Parallel()

		hub, url := newTestHub(t, current)

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.Equal(t, "ready", readSnapshot(t, conn)["status"])

		require.Eventually(t, func() bool {
			return hub.ClientCount() == 1
		}, 5*time.Second, 10*time.Millisecond)

		require.True(t, hub.Broadcast(domain.Snapshot{Status: domain.SessionLoading, Stats: domain.NewStats()}))
		require.Equal(t, "loading", readSnapshot(t, conn)["status"])
	})

	t.Run("foreign origins are rejected", func(t *testing.T) {
		t.Parallel()

		_, url := newTestHub(t, current)

		header := http.Header{}
		header.Set("Origin", "https://evil.com")
		_, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("allowed origins are accepted", func(t *testing.T) {
		t.Parallel()

		_, url := newTestHub(t, current)

		header := http.Header{}
		header.Set("Origin", "https://overlay.example.com")
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer conn.Close()

		require.Equal(t, "ready", readSnapshot(t, conn)["status"])
	})

	t.Run("stopped hub", func(t *testing.T) {
		t.Parallel()

		hub, url := newTestHub(t, current)
		hub.Stop()

		require.Eventually(t, hub.IsStopped, 5*time.Second, 10*time.Millisecond)
		require.False(t, hub.Broadcast(current))

		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("disconnects are unregistered", func(t *testing.T) {
		t.Parallel()

		hub, url := newTestHub(t, current)

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		readSnapshot(t, conn)
		require.Eventually(t, func() bool {
			return hub.ClientCount() == 1
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool {
			return hub.ClientCount() == 0
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestSnapshotToJSON(t *testing.T) {
	t.Parallel()

	rank := 3
	total := 40
	score := 7.5
	end := time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

	snapshot := domain.Snapshot{
		Status:              domain.SessionReady,
		LastError:           "lichess timed out",
		SecondsUntilRefresh: 4,
		Config: domain.WidgetConfig{
			Platform:       domain.PlatformLichess,
			Username:       "Somebody",
			RatingCategory: domain.CategoryBlitz,
		},
		Stats: domain.Stats{
			Rating:         1712,
			RatingCategory: domain.CategoryBullet,
			Wins:           3,
			Losses:         1,
			Draws:          1,
			Score:          3.5,
			TotalGames:     5,
			Last10:         []domain.Result{domain.ResultWin, domain.ResultDraw},
			CurrentStreak:  1,
			StreakType:     domain.ResultWin,
			Tournament: &domain.TournamentContext{
				Platform:     domain.PlatformLichess,
				ID:           "arena1",
				Name:         "Hourly Bullet Arena",
				Category:     domain.CategoryBullet,
				Status:       domain.TournamentLive,
				TotalPlayers: &total,
				PlayerRank:   &rank,
				PlayerScore:  &score,
				EndTime:      &end,
			},
			LastUpdated: updated,
			Adjustments: domain.Adjustments{Wins: 1},
		},
		RatingChange: -8,
	}

	data, err := ports.SnapshotToJSON(snapshot)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"status": "ready",
		"lastError": "lichess timed out",
		"paused": false,
		"secondsUntilRefresh": 4,
		"showSponsor": false,
		"config": {"platform": "lichess", "username": "Somebody", "ratingCategory": "blitz", "showSponsor": false},
		"stats": {
			"rating": 1712,
			"ratingCategory": "bullet",
			"ratingChange": -8,
			"wins": 3,
			"losses": 1,
			"draws": 1,
			"score": 3.5,
			"totalGames": 5,
			"last10": ["win", "draw"],
			"currentStreak": 1,
			"streakType": "win",
			"tournament": {
				"platform": "lichess",
				"id": "arena1",
				"name": "Hourly Bullet Arena",
				"category": "bullet",
				"status": "Live",
				"totalPlayers": 40,
				"playerRank": 3,
				"playerScore": 7.5,
				"startTime": null,
				"endTime": "2024-05-01T19:00:00Z"
			},
			"adjustments": {"wins": 1, "losses": 0, "draws": 0},
			"lastUpdated": "2024-05-01T18:00:00Z"
		}
	}`, string(data))
}
