package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/Amund211/chessoverlay/internal/reporting"
)

type GameSource interface {
	FetchRatings(ctx context.Context, username string) (domain.PlayerRatings, error)
	FetchRecentGames(ctx context.Context, username string) ([]domain.GameRecord, error)
	FetchTournamentGames(ctx context.Context, username string, tournament domain.TournamentContext) ([]domain.GameRecord, error)
}

type RefreshResult struct {
	Rating     domain.RatingSnapshot
	Reduction  domain.Reduction
	Tournament *domain.TournamentContext
}

// RefreshStats fetches and reduces the current stats for cfg.
// previous is kept as the tournament when detection fails.
type RefreshStats func(ctx context.Context, cfg domain.WidgetConfig, previous *domain.TournamentContext) (RefreshResult, error)

func cloneTournament(tournament *domain.TournamentContext) *domain.TournamentContext {
	if tournament == nil {
		return nil
	}
	clone := *tournament
	return &clone
}

func BuildRefreshStats(
	sources map[domain.Platform]GameSource,
	detect DetectActiveTournament,
	fetchStanding FetchStanding,
	nowFunc func() time.Time,
) RefreshStats {
	return func(ctx context.Context, cfg domain.WidgetConfig, previous *domain.TournamentContext) (RefreshResult, error) {
		if err := cfg.Validate(); err != nil {
			return RefreshResult{}, err
		}
		source, ok := sources[cfg.Platform]
		if !ok {
			return RefreshResult{}, fmt.Errorf("%w: no game source for '%s'", domain.ErrInvalidConfig, cfg.Platform)
		}

		ctx = logging.AddMetaToContext(ctx,
			slog.String("platform", string(cfg.Platform)),
			slog.String("username", cfg.Username),
		)
		ctx = reporting.SetUsernameInContext(ctx, cfg.Username)
		ctx = reporting.AddTagsToContext(ctx, map[string]string{"platform": string(cfg.Platform)})
		logger := logging.FromContext(ctx)

		ratings, err := source.FetchRatings(ctx, cfg.Username)
		if err != nil {
			return RefreshResult{}, fmt.Errorf("could not fetch ratings: %w", err)
		}

		now := nowFunc()
		tournament, err := detect(ctx, cfg.Platform, cfg.Username, now)
		if err != nil {
			logger.WarnContext(ctx, "Tournament detection failed, keeping previous tournament", "error", err.Error())
			tournament = cloneTournament(previous)
		} else if tournament != nil && previous != nil &&
			tournament.Status == domain.TournamentModeUnresolved && tournament.ID == previous.ID {
			// Details for a known tournament are temporarily unavailable
			tournament = cloneTournament(previous)
		}

		category := cfg.RatingCategory
		if tournament != nil && tournament.Category != "" {
			category = tournament.Category
		}

		var games []domain.GameRecord
		if tournament != nil {
			games, err = source.FetchTournamentGames(ctx, cfg.Username, *tournament)
			if err != nil {
				logger.WarnContext(ctx, "Could not fetch tournament games, using recent games", "tournamentID", tournament.ID, "error", err.Error())
			}
		}
		if tournament == nil || err != nil {
			games, err = source.FetchRecentGames(ctx, cfg.Username)
			if err != nil {
				return RefreshResult{}, fmt.Errorf("could not fetch games: %w", err)
			}
		}

		reduction := Reduce(games, cfg.Platform, cfg.Username)

		if tournament != nil {
			standing, err := fetchStanding(ctx, cfg.Platform, tournament.ID, cfg.Username)
			switch {
			case err == nil:
				withStanding := tournament.WithStanding(*standing)
				tournament = &withStanding
			case errors.Is(err, domain.ErrStandingsUnavailable):
				logger.InfoContext(ctx, "Standings unavailable", "tournamentID", tournament.ID, "error", err.Error())
			default:
				reporting.Report(ctx, err, map[string]string{"tournamentID": tournament.ID})
			}
		}

		return RefreshResult{
			Rating:     ratings.Snapshot(category),
			Reduction:  reduction,
			Tournament: tournament,
		}, nil
	}
}
