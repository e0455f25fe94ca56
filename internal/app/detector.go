package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Amund211/chessoverlay/internal/adapters/cache"
	"github.com/Amund211/chessoverlay/internal/adapters/chesscom"
	"github.com/Amund211/chessoverlay/internal/adapters/lichess"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
)

// Lichess candidates older than this are not considered
const tournamentRecency = 4 * time.Hour

const detailAttempts = 3

type DetectActiveTournament func(ctx context.Context, platform domain.Platform, username string, now time.Time) (*domain.TournamentContext, error)

type lichessTournamentSource interface {
	FetchActivityTournaments(ctx context.Context, username string) ([]lichess.TournamentRef, error)
	FetchRecentGameTournaments(ctx context.Context, username string) ([]lichess.TournamentRef, error)
	GetTournament(ctx context.Context, id string) (domain.TournamentDetail, error)
}

type chesscomTournamentSource interface {
	FetchTournaments(ctx context.Context, username string) ([]chesscom.TournamentRef, error)
	GetTournament(ctx context.Context, id string) (domain.TournamentDetail, error)
}

// Outcome of a single detection heuristic
type stepOutcome struct {
	candidates []string
	err        error
}

type detectionStep struct {
	name string
	run  func(ctx context.Context, username string, now time.Time) stepOutcome
}

func recentLichessCandidates(refs []lichess.TournamentRef, now time.Time) []string {
	candidates := []string{}
	for _, ref := range refs {
		if ref.ID == "" || slices.Contains(candidates, ref.ID) {
			continue
		}
		age := now.Sub(ref.At)
		if age < 0 || age >= tournamentRecency {
			continue
		}
		candidates = append(candidates, ref.ID)
	}
	return candidates
}

func lichessSteps(source lichessTournamentSource) []detectionStep {
	return []detectionStep{
		{
			name: "activity",
			run: func(ctx context.Context, username string, now time.Time) stepOutcome {
				refs, err := source.FetchActivityTournaments(ctx, username)
				if err != nil {
					return stepOutcome{err: err}
				}
				return stepOutcome{candidates: recentLichessCandidates(refs, now)}
			},
		},
		{
			name: "recent_games",
			run: func(ctx context.Context, username string, now time.Time) stepOutcome {
				refs, err := source.FetchRecentGameTournaments(ctx, username)
				if err != nil {
					return stepOutcome{err: err}
				}
				return stepOutcome{candidates: recentLichessCandidates(refs, now)}
			},
		},
	}
}

func chesscomSteps(source chesscomTournamentSource) []detectionStep {
	return []detectionStep{
		{
			name: "tournament_history",
			run: func(ctx context.Context, username string, now time.Time) stepOutcome {
				refs, err := source.FetchTournaments(ctx, username)
				if err != nil {
					return stepOutcome{err: err}
				}
				candidates := make([]string, 0, len(refs))
				for _, ref := range refs {
					candidates = append(candidates, ref.ID)
				}
				return stepOutcome{candidates: candidates}
			},
		},
	}
}

func retryDelay(err error, attempt int) time.Duration {
	if errors.Is(err, domain.ErrTemporarilyUnavailable) {
		return time.Duration(attempt) * time.Second
	}
	return time.Duration(attempt) * 500 * time.Millisecond
}

func getDetailWithRetry(
	ctx context.Context,
	getTournament func(ctx context.Context, id string) (domain.TournamentDetail, error),
	afterFunc func(time.Duration) <-chan time.Time,
	id string,
) (domain.TournamentDetail, error) {
	var lastErr error
	for attempt := 1; attempt <= detailAttempts; attempt++ {
		detail, err := getTournament(ctx, id)
		if err == nil {
			return detail, nil
		}
		lastErr = err

		if attempt == detailAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.TournamentDetail{}, fmt.Errorf("%w: %w", lastErr, ctx.Err())
		case <-afterFunc(retryDelay(err, attempt)):
		}
	}
	return domain.TournamentDetail{}, fmt.Errorf("gave up after %d attempts: %w", detailAttempts, lastErr)
}

func tournamentContextFromDetail(platform domain.Platform, detail domain.TournamentDetail, now time.Time) domain.TournamentContext {
	category := detail.Category
	if category == "" {
		category = domain.CategoryBlitz
	}

	status := detail.StatusAt(now)
	if platform == domain.PlatformChessCom {
		status = domain.TournamentLive
	}

	var endTime *time.Time
	if detail.FinishesAt != nil {
		end := *detail.FinishesAt
		endTime = &end
	}

	var totalPlayers *int
	if detail.NbPlayers != nil {
		total := *detail.NbPlayers
		totalPlayers = &total
	}

	return domain.TournamentContext{
		Platform:     platform,
		ID:           detail.ID,
		Name:         detail.Name,
		Category:     category,
		Status:       status,
		TotalPlayers: totalPlayers,
		StartTime:    detail.StartsAt,
		EndTime:      endTime,
	}
}

// soonestEnding picks the tournament that ends first. Open ended tournaments sort last,
// and ties keep scan order.
func soonestEnding(details []domain.TournamentDetail) domain.TournamentDetail {
	ordered := slices.Clone(details)
	slices.SortStableFunc(ordered, func(a, b domain.TournamentDetail) int {
		switch {
		case a.FinishesAt == nil && b.FinishesAt == nil:
			return 0
		case a.FinishesAt == nil:
			return 1
		case b.FinishesAt == nil:
			return -1
		}
		return a.FinishesAt.Compare(*b.FinishesAt)
	})
	return ordered[0]
}

func tournamentModeContext(platform domain.Platform, id string) *domain.TournamentContext {
	return &domain.TournamentContext{
		Platform: platform,
		ID:       id,
		Name:     platform.DefaultTournamentName(),
		Category: domain.CategoryBlitz,
		Status:   domain.TournamentModeUnresolved,
	}
}

// BuildDetectActiveTournament returns a detector that runs the platform heuristics in order.
//
// Returns (nil, nil) when no tournament is active and an error wrapping
// domain.ErrDetectionUnavailable when none of the heuristics could run.
func BuildDetectActiveTournament(
	lichessSource lichessTournamentSource,
	chesscomSource chesscomTournamentSource,
	detailCache cache.Cache[domain.TournamentDetail],
	afterFunc func(time.Duration) <-chan time.Time,
) DetectActiveTournament {
	return func(ctx context.Context, platform domain.Platform, username string, now time.Time) (*domain.TournamentContext, error) {
		logger := logging.FromContext(ctx)

		var steps []detectionStep
		var getTournament func(ctx context.Context, id string) (domain.TournamentDetail, error)
		switch platform {
		case domain.PlatformLichess:
			steps = lichessSteps(lichessSource)
			getTournament = lichessSource.GetTournament
		case domain.PlatformChessCom:
			steps = chesscomSteps(chesscomSource)
			getTournament = chesscomSource.GetTournament
		default:
			return nil, fmt.Errorf("%w: unknown platform '%s'", domain.ErrDetectionUnavailable, platform)
		}

		getDetail := func(ctx context.Context, id string) (domain.TournamentDetail, error) {
			return cache.GetOrCreate(ctx, detailCache, string(platform)+":"+id, func(ctx context.Context) (domain.TournamentDetail, error) {
				return getDetailWithRetry(ctx, getTournament, afterFunc, id)
			})
		}

		failedSteps := 0
		var stepErrs []error
		unresolvedCandidate := ""
		for _, step := range steps {
			outcome := step.run(ctx, username, now)
			if outcome.err != nil {
				logger.WarnContext(ctx, "Tournament detection step failed", "step", step.name, "error", outcome.err.Error())
				failedSteps++
				stepErrs = append(stepErrs, outcome.err)
				continue
			}
			if len(outcome.candidates) == 0 {
				continue
			}

			resolved := 0
			active := []domain.TournamentDetail{}
			for _, id := range outcome.candidates {
				detail, err := getDetail(ctx, id)
				if err != nil {
					logger.WarnContext(ctx, "Skipping tournament candidate", "step", step.name, "tournamentID", id, "error", err.Error())
					continue
				}
				resolved++
				if detail.ActiveAt(now) {
					active = append(active, detail)
				}
			}

			if len(active) > 0 {
				tournament := tournamentContextFromDetail(platform, soonestEnding(active), now)
				return &tournament, nil
			}
			if resolved == 0 && unresolvedCandidate == "" {
				unresolvedCandidate = outcome.candidates[0]
			}
		}

		if unresolvedCandidate != "" {
			return tournamentModeContext(platform, unresolvedCandidate), nil
		}
		if failedSteps == len(steps) {
			return nil, fmt.Errorf("%w: %w", domain.ErrDetectionUnavailable, errors.Join(stepErrs...))
		}
		return nil, nil
	}
}
