package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Amund211/chessoverlay/internal/adapters/staterepository"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type manualTimers struct {
	mu      sync.Mutex
	pending map[time.Duration][]chan time.Time
	created map[time.Duration]int
}

func newManualTimers() *manualTimers {
	return &manualTimers{
		pending: map[time.Duration][]chan time.Time{},
		created: map[time.Duration]int{},
	}
}

func (m *manualTimers) after(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	m.pending[d] = append(m.pending[d], ch)
	m.created[d]++
	return ch
}

// fire triggers the most recently created timer for d
func (m *manualTimers) fire(t *testing.T, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.pending[d]
	require.NotEmpty(t, pending)
	pending[len(pending)-1] <- time.Time{}
	m.pending[d] = pending[:len(pending)-1]
}

func (m *manualTimers) count(d time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.created[d]
}

type refreshCall struct {
	config   domain.WidgetConfig
	previous *domain.TournamentContext
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []refreshCall

	respond func(call int, previous *domain.TournamentContext) (RefreshResult, error)
}

func (f *fakeRefresher) refresh(ctx context.Context, cfg domain.WidgetConfig, previous *domain.TournamentContext) (RefreshResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, refreshCall{config: cfg, previous: cloneTournament(previous)})
	call := len(f.calls)
	respond := f.respond
	f.mu.Unlock()

	return respond(call, previous)
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func ratingResult(rating int, reduction domain.Reduction) RefreshResult {
	return RefreshResult{
		Rating:    domain.RatingSnapshot{Value: rating, Category: domain.CategoryBlitz},
		Reduction: reduction,
	}
}

var testConfig = domain.WidgetConfig{
	Platform:       domain.PlatformLichess,
	Username:       USERNAME,
	RatingCategory: domain.CategoryBlitz,
}

const (
	testRefreshInterval   = 10 * time.Second
	testCountdownInterval = time.Second
)

type sessionHarness struct {
	session   *Session
	refresher *fakeRefresher
	repo      *memoryStateRepository
	clock     *fakeClock
	timers    *manualTimers
}

func newSessionHarness(t *testing.T, defaultConfig domain.WidgetConfig, repo *memoryStateRepository) *sessionHarness {
	t.Helper()

	if repo == nil {
		repo = newMemoryStateRepository()
	}
	h := &sessionHarness{
		refresher: &fakeRefresher{
			respond: func(int, *domain.TournamentContext) (RefreshResult, error) {
				return ratingResult(1500, domain.Reduction{Last10: []domain.Result{}}), nil
			},
		},
		repo:   repo,
		clock:  &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		timers: newManualTimers(),
	}
	h.session = NewSession(
		h.refresher.refresh,
		repo,
		time.UTC,
		defaultConfig,
		h.clock.Now,
		h.timers.after,
		SessionTimings{RefreshInterval: testRefreshInterval, CountdownInterval: testCountdownInterval},
	)
	t.Cleanup(h.session.Close)
	return h
}

func TestSessionStart(t *testing.T) {
	t.Parallel()

	t.Run("without a configured player", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, domain.WidgetConfig{}, nil)
		require.NoError(t, h.session.Start(t.Context()))

		snapshot := h.session.Snapshot()
		require.Equal(t, domain.SessionIdle, snapshot.Status)
		require.Zero(t, h.refresher.callCount())
		require.ErrorIs(t, h.session.RefreshNow(t.Context(), true), domain.ErrInvalidConfig)
		require.ErrorIs(t, h.session.Pause(), ErrNotTracking)
	})

	t.Run("foreground refresh on start", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		h.refresher.respond = func(int, *domain.TournamentContext) (RefreshResult, error) {
			return ratingResult(1712, Reduce(syntheticGames(domain.PlatformLichess, h.clock.Now().Add(-time.Hour), repeatResults(2, 1, 1)), domain.PlatformLichess, USERNAME)), nil
		}
		require.NoError(t, h.session.Start(t.Context()))

		snapshot := h.session.Snapshot()
		require.Equal(t, domain.SessionReady, snapshot.Status)
		require.Equal(t, 1712, snapshot.Stats.Rating)
		require.Equal(t, 0, snapshot.RatingChange)
		require.Equal(t, 2, snapshot.Stats.Wins)
		require.Equal(t, 4, snapshot.Stats.TotalGames)
		require.Equal(t, 2.5, snapshot.Stats.Score)
		require.Equal(t, h.clock.Now(), snapshot.Stats.LastUpdated)
		require.Equal(t, testConfig, snapshot.Config)
	})

	t.Run("persisted config wins over the default", func(t *testing.T) {
		t.Parallel()

		repo := newMemoryStateRepository()
		repo.values[staterepository.KEY_CONFIG] = []byte(`{"platform":"chesscom","username":"other","ratingCategory":"rapid","showSponsor":true}`)

		h := newSessionHarness(t, testConfig, repo)
		require.NoError(t, h.session.Start(t.Context()))

		require.Equal(t, domain.WidgetConfig{
			Platform:       domain.PlatformChessCom,
			Username:       "other",
			RatingCategory: domain.CategoryRapid,
			ShowSponsor:    true,
		}, h.session.Config())
		require.Equal(t, "other", h.refresher.calls[0].config.Username)
	})

	t.Run("repository failure", func(t *testing.T) {
		t.Parallel()

		repo := newMemoryStateRepository()
		repo.getErr = errors.New("database is locked")

		h := newSessionHarness(t, testConfig, repo)
		require.Error(t, h.session.Start(t.Context()))
	})
}

func TestSessionRefresh(t *testing.T) {
	t.Parallel()

	t.Run("stale generation is dropped", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))

		release := make(chan struct{})
		started := make(chan struct{})
		h.refresher.mu.Lock()
		h.refresher.respond = func(call int, _ *domain.TournamentContext) (RefreshResult, error) {
			if call == 2 {
				close(started)
				<-release
				return ratingResult(1111, domain.Reduction{Last10: []domain.Result{}}), nil
			}
			return ratingResult(2222, domain.Reduction{Last10: []domain.Result{}}), nil
		}
		h.refresher.mu.Unlock()

		slowDone := make(chan error)
		go func() {
			slowDone <- h.session.RefreshNow(t.Context(), false)
		}()
		<-started

		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Equal(t, 2222, h.session.Snapshot().Stats.Rating)

		close(release)
		require.NoError(t, <-slowDone)
		require.Equal(t, 2222, h.session.Snapshot().Stats.Rating)
	})

	t.Run("refresh from before a stop is dropped", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))

		release := make(chan struct{})
		started := make(chan struct{})
		h.refresher.mu.Lock()
		h.refresher.respond = func(int, *domain.TournamentContext) (RefreshResult, error) {
			close(started)
			<-release
			return ratingResult(1234, domain.Reduction{Last10: []domain.Result{}}), nil
		}
		h.refresher.mu.Unlock()

		done := make(chan error)
		go func() {
			done <- h.session.RefreshNow(t.Context(), false)
		}()
		<-started

		h.session.Stop()
		close(release)
		require.NoError(t, <-done)

		snapshot := h.session.Snapshot()
		require.Equal(t, domain.SessionIdle, snapshot.Status)
		require.Equal(t, 1500, snapshot.Stats.Rating)
	})

	t.Run("foreground failure shows an error", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		h.refresher.respond = func(int, *domain.TournamentContext) (RefreshResult, error) {
			return RefreshResult{}, fmt.Errorf("%w: nobody", domain.ErrUserNotFound)
		}

		err := h.session.Start(t.Context())
		require.ErrorIs(t, err, domain.ErrUserNotFound)

		snapshot := h.session.Snapshot()
		require.Equal(t, domain.SessionError, snapshot.Status)
		require.Contains(t, snapshot.Error, "user not found")
	})

	t.Run("background failure keeps the stats", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))
		before := h.session.Snapshot()

		h.refresher.mu.Lock()
		h.refresher.respond = func(int, *domain.TournamentContext) (RefreshResult, error) {
			return RefreshResult{}, fmt.Errorf("%w: 503", domain.ErrTemporarilyUnavailable)
		}
		h.refresher.mu.Unlock()

		require.ErrorIs(t, h.session.RefreshNow(t.Context(), false), domain.ErrTemporarilyUnavailable)

		after := h.session.Snapshot()
		require.Equal(t, domain.SessionReady, after.Status)
		require.Empty(t, after.Error)
		require.Contains(t, after.LastError, "temporarily unavailable")
		require.Equal(t, before.Stats, after.Stats)

		h.refresher.mu.Lock()
		h.refresher.respond = func(int, *domain.TournamentContext) (RefreshResult, error) {
			return ratingResult(1500, domain.Reduction{Last10: []domain.Result{}}), nil
		}
		h.refresher.mu.Unlock()

		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Empty(t, h.session.Snapshot().LastError)
	})

	t.Run("previous tournament is passed to the next refresh", func(t *testing.T) {
		t.Parallel()

		tournament := &domain.TournamentContext{
			Platform: domain.PlatformLichess,
			ID:       "arena1",
			Status:   domain.TournamentLive,
		}
		h := newSessionHarness(t, testConfig, nil)
		h.refresher.respond = func(call int, previous *domain.TournamentContext) (RefreshResult, error) {
			result := ratingResult(1500, domain.Reduction{Last10: []domain.Result{}})
			switch call {
			case 1:
				result.Tournament = tournament
			case 2:
				// Detection failed, previous kept
				result.Tournament = previous
			}
			return result, nil
		}

		require.NoError(t, h.session.Start(t.Context()))
		require.Equal(t, "arena1", h.session.Snapshot().Stats.Tournament.ID)

		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Equal(t, "arena1", h.session.Snapshot().Stats.Tournament.ID)
		require.Equal(t, tournament, h.refresher.calls[1].previous)

		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Nil(t, h.session.Snapshot().Stats.Tournament)
	})

	t.Run("rating change is measured from the first refresh", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		h.refresher.respond = func(call int, _ *domain.TournamentContext) (RefreshResult, error) {
			return ratingResult(1500+10*(call-1), domain.Reduction{Last10: []domain.Result{}}), nil
		}

		require.NoError(t, h.session.Start(t.Context()))
		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Equal(t, 20, h.session.Snapshot().RatingChange)

		_, err := h.session.Reset(t.Context())
		require.NoError(t, err)
		require.Equal(t, 0, h.session.Snapshot().RatingChange)

		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Equal(t, 10, h.session.Snapshot().RatingChange)
	})
}

func TestSessionTimers(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, testConfig, nil)
	require.NoError(t, h.session.Start(t.Context()))
	require.Eventually(t, func() bool {
		return h.timers.count(testRefreshInterval) == 1 && h.timers.count(testCountdownInterval) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, h.refresher.callCount())

	// Countdown
	h.clock.Advance(3 * time.Second)
	h.timers.fire(t, testCountdownInterval)
	require.Eventually(t, func() bool {
		return h.session.Snapshot().SecondsUntilRefresh == 7
	}, time.Second, time.Millisecond)

	// Background refresh
	h.timers.fire(t, testRefreshInterval)
	require.Eventually(t, func() bool {
		return h.refresher.callCount() == 2 && h.timers.count(testRefreshInterval) == 2
	}, time.Second, time.Millisecond)

	// Paused sessions keep counting down but skip refreshes
	require.NoError(t, h.session.Pause())
	require.True(t, h.session.Snapshot().Paused)
	h.clock.Advance(2 * time.Second)
	h.timers.fire(t, testCountdownInterval)
	h.timers.fire(t, testRefreshInterval)
	require.Eventually(t, func() bool {
		return h.timers.count(testRefreshInterval) == 3 && h.timers.count(testCountdownInterval) == 3
	}, time.Second, time.Millisecond)
	require.Equal(t, 2, h.refresher.callCount())
	require.True(t, h.session.Snapshot().Paused)

	// Resume restarts the refresh timer
	require.NoError(t, h.session.Resume())
	require.Eventually(t, func() bool {
		return h.timers.count(testRefreshInterval) == 4
	}, time.Second, time.Millisecond)
	require.False(t, h.session.Snapshot().Paused)
	require.Equal(t, 10, h.session.Snapshot().SecondsUntilRefresh)

	h.timers.fire(t, testRefreshInterval)
	require.Eventually(t, func() bool {
		return h.refresher.callCount() == 3
	}, time.Second, time.Millisecond)

	// Stop clears both timers
	h.session.Stop()
	require.Equal(t, domain.SessionIdle, h.session.Snapshot().Status)
	require.ErrorIs(t, h.session.Resume(), ErrNotTracking)
}

func TestSessionAdjustments(t *testing.T) {
	t.Parallel()

	t.Run("adjustments survive a refresh and a restart on the same day", func(t *testing.T) {
		t.Parallel()

		repo := newMemoryStateRepository()
		reduction := Reduce(syntheticGames(domain.PlatformLichess, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), repeatResults(1, 1, 0)), domain.PlatformLichess, USERNAME)

		h := newSessionHarness(t, testConfig, repo)
		h.refresher.respond = func(int, *domain.TournamentContext) (RefreshResult, error) {
			return ratingResult(1500, reduction), nil
		}
		require.NoError(t, h.session.Start(t.Context()))

		snapshot, err := h.session.Adjust(t.Context(), domain.AdjustWins, domain.ActionIncrease)
		require.NoError(t, err)
		require.Equal(t, 2, snapshot.Stats.Wins)
		require.Equal(t, domain.ResultWin, snapshot.Stats.Last10[0])

		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Equal(t, 2, h.session.Snapshot().Stats.Wins)

		restarted := newSessionHarness(t, testConfig, repo)
		restarted.clock.Advance(6 * time.Hour)
		restarted.refresher.respond = h.refresher.respond
		require.NoError(t, restarted.session.Start(t.Context()))
		require.Equal(t, 2, restarted.session.Snapshot().Stats.Wins)
		require.Equal(t, 1, restarted.session.Snapshot().Stats.Adjustments.Wins)
	})

	t.Run("adjustments expire at midnight", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))

		_, err := h.session.Adjust(t.Context(), domain.AdjustLosses, domain.ActionIncrease)
		require.NoError(t, err)
		require.Equal(t, 1, h.session.Snapshot().Stats.Losses)

		h.clock.Advance(12 * time.Hour)
		require.NoError(t, h.session.RefreshNow(t.Context(), false))
		require.Equal(t, 0, h.session.Snapshot().Stats.Losses)

		snapshot, err := h.session.Adjust(t.Context(), domain.AdjustLosses, domain.ActionDecrease)
		require.NoError(t, err)
		require.Equal(t, 0, snapshot.Stats.Losses)
	})

	t.Run("decrease below zero is ignored", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))

		published := 0
		unsubscribe := h.session.Subscribe(func(domain.Snapshot) { published++ })
		defer unsubscribe()

		snapshot, err := h.session.Adjust(t.Context(), domain.AdjustDraws, domain.ActionDecrease)
		require.NoError(t, err)
		require.Equal(t, 0, snapshot.Stats.Draws)
		require.Zero(t, published)
		require.NotContains(t, h.repo.snapshot(), staterepository.KEY_ADJUSTMENTS)
	})

	t.Run("reset clears the persisted ledger", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))

		_, err := h.session.Adjust(t.Context(), domain.AdjustWins, domain.ActionIncrease)
		require.NoError(t, err)
		require.Contains(t, h.repo.snapshot(), staterepository.KEY_ADJUSTMENTS)

		snapshot, err := h.session.Reset(t.Context())
		require.NoError(t, err)
		require.Equal(t, 0, snapshot.Stats.TotalGames)
		require.Empty(t, snapshot.Stats.Last10)
		require.NotContains(t, h.repo.snapshot(), staterepository.KEY_ADJUSTMENTS)
	})

	t.Run("persistence failure is returned", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))
		h.repo.mu.Lock()
		h.repo.storeErr = errors.New("disk full")
		h.repo.mu.Unlock()

		snapshot, err := h.session.Adjust(t.Context(), domain.AdjustWins, domain.ActionIncrease)
		require.Error(t, err)
		require.Equal(t, 1, snapshot.Stats.Wins)
	})
}

func TestSessionUpdateConfig(t *testing.T) {
	t.Parallel()

	t.Run("saves and starts tracking", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, domain.WidgetConfig{}, nil)
		require.NoError(t, h.session.Start(t.Context()))

		cfg := domain.WidgetConfig{
			Platform:       domain.PlatformChessCom,
			Username:       "  " + USERNAME + " ",
			RatingCategory: domain.CategoryBest,
		}
		require.NoError(t, h.session.UpdateConfig(t.Context(), cfg))

		snapshot := h.session.Snapshot()
		require.Equal(t, domain.SessionReady, snapshot.Status)
		require.Equal(t, USERNAME, snapshot.Config.Username)
		require.Equal(t, USERNAME, h.refresher.calls[0].config.Username)
		require.JSONEq(t,
			`{"platform":"chesscom","username":"Somebody","ratingCategory":"best","showSponsor":false}`,
			string(h.repo.snapshot()[staterepository.KEY_CONFIG]),
		)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))

		err := h.session.UpdateConfig(t.Context(), domain.WidgetConfig{
			Platform:       domain.PlatformChessCom,
			Username:       USERNAME,
			RatingCategory: domain.CategoryClassical,
		})
		require.ErrorIs(t, err, domain.ErrInvalidConfig)
		require.Equal(t, testConfig, h.session.Config())
	})

	t.Run("new player resets the rating anchor", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		h.refresher.respond = func(call int, _ *domain.TournamentContext) (RefreshResult, error) {
			return ratingResult(1000*call, domain.Reduction{Last10: []domain.Result{}}), nil
		}
		require.NoError(t, h.session.Start(t.Context()))

		other := testConfig
		other.Username = "other"
		require.NoError(t, h.session.UpdateConfig(t.Context(), other))
		require.Equal(t, 2000, h.session.Snapshot().Stats.Rating)
		require.Equal(t, 0, h.session.Snapshot().RatingChange)
	})
}

func TestSessionSponsor(t *testing.T) {
	t.Parallel()

	const validSponsor = "data:image/png;base64,iVBORw0KGgo="

	t.Run("set and clear", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig
		cfg.ShowSponsor = true
		h := newSessionHarness(t, cfg, nil)
		require.NoError(t, h.session.Start(t.Context()))
		require.False(t, h.session.Snapshot().ShowSponsor)

		require.NoError(t, h.session.SetSponsor(t.Context(), validSponsor))
		require.True(t, h.session.Snapshot().ShowSponsor)
		sponsor, ok := h.session.Sponsor()
		require.True(t, ok)
		require.Equal(t, validSponsor, sponsor)

		restarted := newSessionHarness(t, cfg, h.repo)
		require.NoError(t, restarted.session.Start(t.Context()))
		require.True(t, restarted.session.Snapshot().ShowSponsor)

		require.NoError(t, h.session.ClearSponsor(t.Context()))
		require.False(t, h.session.Snapshot().ShowSponsor)
		_, ok = h.session.Sponsor()
		require.False(t, ok)
	})

	t.Run("hidden unless enabled in the config", func(t *testing.T) {
		t.Parallel()

		h := newSessionHarness(t, testConfig, nil)
		require.NoError(t, h.session.Start(t.Context()))
		require.NoError(t, h.session.SetSponsor(t.Context(), validSponsor))
		require.False(t, h.session.Snapshot().ShowSponsor)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		oversized := "data:image/png;base64," + string(make([]byte, maxSponsorSize))
		for _, dataURL := range []string{
			"",
			"https://example.com/logo.png",
			"data:text/plain;base64,aGVsbG8=",
			"data:image/png,rawbytes",
			"data:image/;base64,aGVsbG8=",
			"data:image/png;base64,not base64!",
			oversized,
		} {
			require.ErrorIs(t, validateSponsor(dataURL), domain.ErrInvalidSponsor, dataURL[:min(len(dataURL), 40)])
		}
		require.NoError(t, validateSponsor(validSponsor))
		require.NoError(t, validateSponsor("data:image/svg+xml;base64,PHN2Zy8+"))
	})
}

func TestSessionSubscribe(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, testConfig, nil)

	var mu sync.Mutex
	statuses := []domain.SessionStatus{}
	unsubscribe := h.session.Subscribe(func(snapshot domain.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, snapshot.Status)
	})

	require.NoError(t, h.session.Start(t.Context()))

	mu.Lock()
	require.Contains(t, statuses, domain.SessionLoading)
	require.Equal(t, domain.SessionReady, statuses[len(statuses)-1])
	seen := len(statuses)
	mu.Unlock()

	unsubscribe()
	_, err := h.session.Adjust(t.Context(), domain.AdjustWins, domain.ActionIncrease)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, statuses, seen)
}
