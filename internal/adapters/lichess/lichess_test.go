package lichess_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Amund211/chessoverlay/internal/adapters/lichess"
	"github.com/Amund211/chessoverlay/internal/constants"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/stretchr/testify/require"
)

type mockedResponse struct {
	statusCode int
	body       string
}

type mockedHttpClient struct {
	t         *testing.T
	responses map[string]mockedResponse

	mu        sync.Mutex
	requested []string
}

func (m *mockedHttpClient) Do(req *http.Request) (*http.Response, error) {
	m.t.Helper()

	require.Equal(m.t, constants.USER_AGENT, req.Header.Get("User-Agent"))

	url := req.URL.String()
	m.mu.Lock()
	m.requested = append(m.requested, url)
	m.mu.Unlock()

	resp, ok := m.responses[url]
	if !ok {
		return nil, fmt.Errorf("unexpected request to %s", url)
	}

	return &http.Response{
		StatusCode: resp.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.body)),
	}, nil
}

func newLichess(t *testing.T, now time.Time, responses map[string]mockedResponse) (*lichess.Lichess, *mockedHttpClient) {
	t.Helper()

	client := &mockedHttpClient{t: t, responses: responses}
	l, err := lichess.NewLichess(client, func() time.Time { return now })
	require.NoError(t, err)
	return l, client
}

func TestLichess(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour).UnixMilli()

	t.Run("FetchRatings", func(t *testing.T) {
		t.Parallel()

		l, _ := newLichess(t, now, map[string]mockedResponse{
			"https://lichess.org/api/user/somebody": {200, `{"id":"somebody","username":"Somebody","perfs":{"blitz":{"rating":1834}}}`},
		})

		ratings, err := l.FetchRatings(t.Context(), "somebody")
		require.NoError(t, err)
		require.Equal(t, 1834, ratings.Snapshot(domain.CategoryBlitz).Value)
		require.Equal(t, 1500, ratings.Snapshot(domain.CategoryRapid).Value)
	})

	t.Run("FetchRatings unknown user", func(t *testing.T) {
		t.Parallel()

		l, _ := newLichess(t, now, map[string]mockedResponse{
			"https://lichess.org/api/user/nobody": {404, `{"error":"Not found"}`},
		})

		_, err := l.FetchRatings(t.Context(), "nobody")
		require.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("FetchRatings transport failure is temporary", func(t *testing.T) {
		t.Parallel()

		l, _ := newLichess(t, now, map[string]mockedResponse{})

		_, err := l.FetchRatings(t.Context(), "offline")
		require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
		require.NotErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("FetchRecentGames", func(t *testing.T) {
		t.Parallel()

		url := fmt.Sprintf("https://lichess.org/api/games/user/somebody?max=50&rated=true&since=%d&sort=dateDesc", since)
		l, _ := newLichess(t, now, map[string]mockedResponse{
			url: {200, `{"id":"g1","lastMoveAt":1714586400000,"status":"resign","winner":"black","players":{"white":{"user":{"id":"other","name":"Other"}},"black":{"user":{"id":"somebody","name":"Somebody"}}}}`},
		})

		games, err := l.FetchRecentGames(t.Context(), "somebody")
		require.NoError(t, err)
		require.Len(t, games, 1)
		require.Equal(t, domain.ColorBlack, games[0].Winner)
	})

	t.Run("FetchTournamentGames falls back to recent games after the start", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
		recentURL := fmt.Sprintf("https://lichess.org/api/games/user/somebody?max=50&rated=true&since=%d&sort=dateDesc", since)
		l, client := newLichess(t, now, map[string]mockedResponse{
			"https://lichess.org/api/tournament/arena1/games?player=somebody": {404, ``},
			recentURL: {200, fmt.Sprintf(
				"%s\n%s\n",
				fmt.Sprintf(`{"id":"during","lastMoveAt":%d,"players":{"white":{"user":{"id":"somebody"}},"black":{"user":{"id":"x"}}},"winner":"white"}`, start.Add(10*time.Minute).UnixMilli()),
				fmt.Sprintf(`{"id":"before","lastMoveAt":%d,"players":{"white":{"user":{"id":"somebody"}},"black":{"user":{"id":"x"}}},"winner":"white"}`, start.Add(-10*time.Minute).UnixMilli()),
			)},
		})

		games, err := l.FetchTournamentGames(t.Context(), "somebody", domain.TournamentContext{
			Platform:  domain.PlatformLichess,
			ID:        "arena1",
			StartTime: start,
		})
		require.NoError(t, err)
		require.Len(t, games, 1)
		require.Equal(t, "during", games[0].ID)
		require.Len(t, client.requested, 2)
	})

	t.Run("FetchRecentGameTournaments", func(t *testing.T) {
		t.Parallel()

		l, _ := newLichess(t, now, map[string]mockedResponse{
			"https://lichess.org/api/games/user/somebody?max=20&rated=true": {200, fmt.Sprintf(
				"%s\n%s\n%s\n%s\n",
				`{"id":"a","createdAt":1714586200000,"lastMoveAt":1714586500000,"tournament":"t1"}`,
				`{"id":"b","createdAt":1714586100000,"lastMoveAt":1714586400000,"tournament":"t1"}`,
				`{"id":"c","lastMoveAt":1714586300000}`,
				`{"id":"d","lastMoveAt":1714586000000,"tournament":"t2"}`,
			)},
		})

		refs, err := l.FetchRecentGameTournaments(t.Context(), "somebody")
		require.NoError(t, err)
		require.Equal(t, []lichess.TournamentRef{
			{ID: "t1", At: time.UnixMilli(1714586200000).UTC()},
			{ID: "t2", At: time.UnixMilli(1714586000000).UTC()},
		}, refs)
	})

	t.Run("GetStandings", func(t *testing.T) {
		t.Parallel()

		l, _ := newLichess(t, now, map[string]mockedResponse{
			"https://lichess.org/api/tournament/arena1/results?nb=200": {200, "{\"rank\":1,\"score\":9,\"username\":\"A\"}\n{\"rank\":2,\"score\":7,\"username\":\"somebody\"}\n"},
		})

		standings, err := l.GetStandings(t.Context(), "arena1")
		require.NoError(t, err)
		require.JSONEq(t, `[{"rank":1,"score":9,"username":"A"},{"rank":2,"score":7,"username":"somebody"}]`, string(standings))
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()

		l, _ := newLichess(t, now, map[string]mockedResponse{})

		_, err := l.GetTournament(t.Context(), "missing")
		require.ErrorIs(t, err, domain.ErrTournamentDetailUnavailable)
	})
}
