package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Amund211/chessoverlay/internal/adapters/staterepository"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
)

const maxSponsorSize = 2 * 1024 * 1024

var (
	ErrNotTracking    = errors.New("session is not tracking")
	ErrConfigNotSaved = errors.New("config not saved")
)

type SessionTimings struct {
	RefreshInterval   time.Duration
	CountdownInterval time.Duration
}

func DefaultSessionTimings() SessionTimings {
	return SessionTimings{
		RefreshInterval:   10 * time.Second,
		CountdownInterval: time.Second,
	}
}

type sessionState struct {
	config domain.WidgetConfig

	status    domain.SessionStatus
	errMsg    string
	lastError string

	tracking      bool
	paused        bool
	nextRefreshAt time.Time
	secondsLeft   int

	stats     domain.Stats
	reduction domain.Reduction
	ledger    domain.Ledger

	initialRating *int
	sponsor       string
}

// Session owns the overlay state for a single tracked player.
//
// All mutations go through update, which publishes the resulting snapshot to subscribers.
// Subscribers are called synchronously and must not call back into the session.
type Session struct {
	refresh   RefreshStats
	repo      stateRepository
	ledger    *LedgerStore
	location  *time.Location
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time
	timings   SessionTimings

	defaultConfig domain.WidgetConfig

	// Serializes update + notify so subscribers see snapshots in order
	publishMu sync.Mutex

	mu    sync.Mutex
	state sessionState

	// Refresh results are applied only for the current epoch and in generation order
	epoch             uint64
	generation        uint64
	appliedGeneration uint64

	baseCtx    context.Context
	stopLoop   context.CancelFunc
	resumeLoop chan struct{}
	wg         sync.WaitGroup

	subscribers      map[int]func(domain.Snapshot)
	nextSubscriberID int
}

func NewSession(
	refresh RefreshStats,
	repo stateRepository,
	location *time.Location,
	defaultConfig domain.WidgetConfig,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
	timings SessionTimings,
) *Session {
	ledger := NewLedgerStore(repo, location)
	return &Session{
		refresh:       refresh,
		repo:          repo,
		ledger:        ledger,
		location:      ledger.location,
		nowFunc:       nowFunc,
		afterFunc:     afterFunc,
		timings:       timings,
		defaultConfig: defaultConfig,
		state: sessionState{
			status: domain.SessionIdle,
			stats:  domain.NewStats(),
		},
		baseCtx:     context.Background(),
		subscribers: map[int]func(domain.Snapshot){},
	}
}

func (s *Session) snapshotLocked() domain.Snapshot {
	ratingChange := 0
	if s.state.initialRating != nil {
		ratingChange = s.state.stats.Rating - *s.state.initialRating
	}

	return domain.Snapshot{
		Status:              s.state.status,
		Error:               s.state.errMsg,
		LastError:           s.state.lastError,
		Paused:              s.state.paused,
		SecondsUntilRefresh: s.state.secondsLeft,
		Config:              s.state.config,
		Stats:               s.state.stats.Clone(),
		RatingChange:        ratingChange,
		ShowSponsor:         s.state.config.ShowSponsor && s.state.sponsor != "",
	}
}

// update applies change under the session lock and publishes the result if change reports a modification
func (s *Session) update(change func(state *sessionState) bool) domain.Snapshot {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	changed := change(&s.state)
	snapshot := s.snapshotLocked()
	subscribers := slices.Collect(maps.Values(s.subscribers))
	s.mu.Unlock()

	if changed {
		for _, subscriber := range subscribers {
			subscriber(snapshot)
		}
	}
	return snapshot
}

func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Session) Config() domain.WidgetConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.config
}

func (s *Session) Sponsor() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.sponsor, s.state.sponsor != ""
}

// Subscribe registers fn to receive every published snapshot
func (s *Session) Subscribe(fn func(domain.Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubscriberID
	s.nextSubscriberID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.subscribers, id)
	}
}

// Start restores the persisted config, adjustments and sponsor, and starts tracking when a player is configured
func (s *Session) Start(ctx context.Context) error {
	cfg := s.defaultConfig
	document, ok, err := loadDocument[configDocument](ctx, s.repo, staterepository.KEY_CONFIG)
	if err != nil {
		return err
	}
	if ok {
		cfg = document.toDomain()
	}

	now := s.nowFunc()
	adjustments, err := s.ledger.Load(ctx, now)
	if err != nil {
		return err
	}

	sponsor, ok, err := loadDocument[sponsorDocument](ctx, s.repo, staterepository.KEY_SPONSOR)
	if err != nil {
		return err
	}
	if ok && validateSponsor(sponsor.DataURL) != nil {
		logging.FromContext(ctx).WarnContext(ctx, "Ignoring invalid persisted sponsor")
		sponsor = sponsorDocument{}
	}

	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.update(func(state *sessionState) bool {
		state.config = cfg
		state.ledger = domain.Ledger{Adjustments: adjustments, Timestamp: now}
		state.stats = MergeReduction(state.stats, state.reduction, adjustments)
		state.sponsor = sponsor.DataURL
		return true
	})

	if !cfg.IsConfigured() {
		logging.FromContext(ctx).InfoContext(ctx, "No player configured, waiting for config")
		return nil
	}
	return s.startTracking(ctx)
}

// startTracking restarts the timers for the current config and runs a foreground refresh
func (s *Session) startTracking(ctx context.Context) error {
	s.mu.Lock()
	if s.stopLoop != nil {
		s.stopLoop()
	}
	s.epoch++
	loopCtx, stopLoop := context.WithCancel(s.baseCtx)
	resume := make(chan struct{}, 1)
	s.stopLoop = stopLoop
	s.resumeLoop = resume
	s.mu.Unlock()

	s.update(func(state *sessionState) bool {
		state.tracking = true
		state.paused = false
		return true
	})

	s.wg.Add(1)
	go s.runLoop(loopCtx, resume)

	return s.RefreshNow(ctx, true)
}

func (s *Session) scheduleRefresh() <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.nextRefreshAt = s.nowFunc().Add(s.timings.RefreshInterval)
	s.state.secondsLeft = int(math.Ceil(s.timings.RefreshInterval.Seconds()))
	return s.afterFunc(s.timings.RefreshInterval)
}

func (s *Session) tick() {
	s.update(func(state *sessionState) bool {
		if !state.paused {
			remaining := state.nextRefreshAt.Sub(s.nowFunc())
			state.secondsLeft = max(0, int(math.Ceil(remaining.Seconds())))
		}
		return true
	})
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.paused
}

func (s *Session) runLoop(ctx context.Context, resume <-chan struct{}) {
	defer s.wg.Done()

	refreshC := s.scheduleRefresh()
	countdownC := s.afterFunc(s.timings.CountdownInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-resume:
			refreshC = s.scheduleRefresh()
		case <-countdownC:
			countdownC = s.afterFunc(s.timings.CountdownInterval)
			s.tick()
		case <-refreshC:
			refreshC = s.scheduleRefresh()
			if s.isPaused() {
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_ = s.RefreshNow(ctx, false)
			}()
		}
	}
}

// RefreshNow fetches new stats for the configured player.
//
// A foreground failure puts the session in the error state. A background failure only
// records LastError. Results that were overtaken by a newer refresh, or by a config
// change, are dropped.
func (s *Session) RefreshNow(ctx context.Context, foreground bool) error {
	s.mu.Lock()
	cfg := s.state.config
	if err := cfg.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.generation++
	generation := s.generation
	epoch := s.epoch
	previous := cloneTournament(s.state.stats.Tournament)
	s.mu.Unlock()

	if foreground {
		s.update(func(state *sessionState) bool {
			if s.epoch != epoch {
				return false
			}
			state.status = domain.SessionLoading
			state.errMsg = ""
			return true
		})
	}

	result, err := s.refresh(ctx, cfg, previous)
	now := s.nowFunc()

	if err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "Refresh failed", "foreground", foreground, "error", err.Error())
	}

	s.update(func(state *sessionState) bool {
		if s.epoch != epoch || generation < s.appliedGeneration {
			return false
		}
		s.appliedGeneration = generation

		if err != nil {
			if foreground {
				state.status = domain.SessionError
				state.errMsg = err.Error()
			}
			state.lastError = err.Error()
			return true
		}

		adjustments := state.ledger.EffectiveAt(now, s.location)
		stats := MergeReduction(state.stats, result.Reduction, adjustments)
		stats.Rating = result.Rating.Value
		stats.RatingCategory = result.Rating.Category
		stats.Tournament = result.Tournament
		stats.LastUpdated = now

		state.stats = stats
		state.reduction = result.Reduction
		if state.initialRating == nil {
			rating := stats.Rating
			state.initialRating = &rating
		}
		state.status = domain.SessionReady
		state.errMsg = ""
		state.lastError = ""
		return true
	})

	return err
}

func (s *Session) Pause() error {
	tracking := false
	s.update(func(state *sessionState) bool {
		tracking = state.tracking
		if !state.tracking || state.paused {
			return false
		}
		state.paused = true
		return true
	})
	if !tracking {
		return ErrNotTracking
	}
	return nil
}

// Resume restarts the refresh timer with a full interval
func (s *Session) Resume() error {
	s.mu.Lock()
	resume := s.resumeLoop
	s.mu.Unlock()

	tracking := false
	s.update(func(state *sessionState) bool {
		tracking = state.tracking
		if !state.tracking || !state.paused {
			return false
		}
		state.paused = false
		return true
	})
	if !tracking {
		return ErrNotTracking
	}

	select {
	case resume <- struct{}{}:
	default:
	}
	return nil
}

// Stop clears both timers and returns the session to the idle state
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopLoop != nil {
		s.stopLoop()
		s.stopLoop = nil
	}
	s.epoch++
	s.mu.Unlock()

	s.update(func(state *sessionState) bool {
		state.tracking = false
		state.paused = false
		state.secondsLeft = 0
		state.status = domain.SessionIdle
		state.errMsg = ""
		state.lastError = ""
		return true
	})
}

// Close stops the session and waits for in-flight refreshes
func (s *Session) Close() {
	s.Stop()
	s.wg.Wait()
}

func (s *Session) Adjust(ctx context.Context, adjustmentType domain.AdjustmentType, action domain.AdjustmentAction) (domain.Snapshot, error) {
	var storeErr error
	snapshot := s.update(func(state *sessionState) bool {
		now := s.nowFunc()

		// Adjustments from a previous day no longer apply
		effective := state.ledger.EffectiveAt(now, s.location)
		if effective != state.stats.Adjustments {
			state.stats = MergeReduction(state.stats, state.reduction, effective)
		}

		stats, changed := ApplyAdjustment(state.stats, adjustmentType, action)
		if !changed {
			return false
		}
		state.stats = stats
		state.ledger = domain.Ledger{Adjustments: stats.Adjustments, Timestamp: now}
		storeErr = s.ledger.Store(ctx, stats.Adjustments, now)
		return true
	})
	if storeErr != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "Failed to persist adjustments", "error", storeErr.Error())
		return snapshot, storeErr
	}
	return snapshot, nil
}

// Reset zeroes the stats and adjustments, and re-anchors the rating change
func (s *Session) Reset(ctx context.Context) (domain.Snapshot, error) {
	var clearErr error
	snapshot := s.update(func(state *sessionState) bool {
		state.stats = ResetAll(state.stats)
		state.ledger = domain.Ledger{Timestamp: s.nowFunc()}
		rating := state.stats.Rating
		state.initialRating = &rating
		clearErr = s.ledger.Clear(ctx)
		return true
	})
	if clearErr != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "Failed to clear adjustments", "error", clearErr.Error())
		return snapshot, clearErr
	}
	return snapshot, nil
}

// UpdateConfig validates and persists cfg, then starts tracking the configured player from scratch
func (s *Session) UpdateConfig(ctx context.Context, cfg domain.WidgetConfig) error {
	cfg.Username = strings.TrimSpace(cfg.Username)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := storeDocument(ctx, s.repo, staterepository.KEY_CONFIG, configDocumentFromDomain(cfg)); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigNotSaved, err)
	}

	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()

	s.update(func(state *sessionState) bool {
		adjustments := state.ledger.EffectiveAt(s.nowFunc(), s.location)
		state.config = cfg
		state.reduction = domain.Reduction{}
		state.stats = MergeReduction(domain.NewStats(), domain.Reduction{}, adjustments)
		state.initialRating = nil
		state.status = domain.SessionLoading
		state.errMsg = ""
		state.lastError = ""
		return true
	})

	return s.startTracking(ctx)
}

func validateSponsor(dataURL string) error {
	if len(dataURL) > maxSponsorSize {
		return fmt.Errorf("%w: larger than %d bytes", domain.ErrInvalidSponsor, maxSponsorSize)
	}

	rest, ok := strings.CutPrefix(dataURL, "data:image/")
	if !ok {
		return fmt.Errorf("%w: not an image data url", domain.ErrInvalidSponsor)
	}
	mediaType, payload, ok := strings.Cut(rest, ";base64,")
	if !ok || mediaType == "" || strings.ContainsAny(mediaType, ",;") {
		return fmt.Errorf("%w: not a base64 image data url", domain.ErrInvalidSponsor)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return fmt.Errorf("%w: invalid base64 payload: %w", domain.ErrInvalidSponsor, err)
	}
	return nil
}

func (s *Session) SetSponsor(ctx context.Context, dataURL string) error {
	if err := validateSponsor(dataURL); err != nil {
		return err
	}
	if err := storeDocument(ctx, s.repo, staterepository.KEY_SPONSOR, sponsorDocument{DataURL: dataURL}); err != nil {
		return err
	}

	s.update(func(state *sessionState) bool {
		state.sponsor = dataURL
		return true
	})
	return nil
}

func (s *Session) ClearSponsor(ctx context.Context) error {
	if err := s.repo.DeleteState(ctx, staterepository.KEY_SPONSOR); err != nil {
		return fmt.Errorf("could not clear sponsor: %w", err)
	}

	s.update(func(state *sessionState) bool {
		changed := state.sponsor != ""
		state.sponsor = ""
		return changed
	})
	return nil
}
