package lichess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Amund211/chessoverlay/internal/constants"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/Amund211/chessoverlay/internal/ratelimiting"
	"github.com/Amund211/chessoverlay/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const BASE_URL = "https://lichess.org"

const minOperationTime = 300 * time.Millisecond

// How far back the recent games query looks
const recentGamesWindow = 24 * time.Hour

// Used when the tournament games endpoint gives nothing and the start is unknown
const tournamentFallbackWindow = 6 * time.Hour

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type lichessMetricsCollection struct {
	requestCount metric.Int64Counter
	droppedLines metric.Int64Counter
}

func setupLichessMetrics(meter metric.Meter) (lichessMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("lichess/request_count")
	if err != nil {
		return lichessMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	droppedLines, err := meter.Int64Counter("lichess/dropped_ndjson_lines")
	if err != nil {
		return lichessMetricsCollection{}, fmt.Errorf("failed to create dropped lines metric: %w", err)
	}

	return lichessMetricsCollection{
		requestCount: requestCount,
		droppedLines: droppedLines,
	}, nil
}

type Lichess struct {
	httpClient HttpClient
	limiter    ratelimiting.RequestLimiter
	nowFunc    func() time.Time

	metrics lichessMetricsCollection
	tracer  trace.Tracer
}

func NewLichess(httpClient HttpClient, nowFunc func() time.Time) (*Lichess, error) {
	const name = "chessoverlay/adapters/lichess"

	metrics, err := setupLichessMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Lichess{
		httpClient: httpClient,
		// https://lichess.org/api#section/Introduction/Rate-limiting
		limiter: ratelimiting.NewPaceRequestLimiter(4, 8),
		nowFunc: nowFunc,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

type response struct {
	statusCode int
	data       []byte
}

func (l *Lichess) get(ctx context.Context, endpoint string, path string, query url.Values, accept string) (response, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.get", trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	target := BASE_URL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		reporting.Report(ctx, err)
		return response{}, err
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	var resp response
	ran := l.limiter.Limit(ctx, minOperationTime, func(ctx context.Context) {
		httpResp, doErr := l.httpClient.Do(req)
		if doErr != nil {
			err = fmt.Errorf("failed to send request: %w", doErr)
			return
		}
		defer httpResp.Body.Close()

		data, readErr := io.ReadAll(httpResp.Body)
		if readErr != nil {
			err = fmt.Errorf("failed to read response body: %w", readErr)
			return
		}
		resp = response{statusCode: httpResp.StatusCode, data: data}
	})
	if !ran {
		logging.FromContext(ctx).WarnContext(ctx, "Did not query lichess due to rate limiting", "endpoint", endpoint, "ctx_error", ctx.Err())
		return response{}, fmt.Errorf("%w: too many requests to lichess", domain.ErrTemporarilyUnavailable)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			reporting.Report(ctx, err, map[string]string{"endpoint": endpoint})
		}
		return response{}, err
	}

	l.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_code", strconv.Itoa(resp.statusCode)),
	))

	return resp, nil
}

func (l *Lichess) reportParseError(ctx context.Context, err error, resp response) {
	reporting.Report(ctx, err, map[string]string{
		"data":   truncate(string(resp.data), 2000),
		"status": strconv.Itoa(resp.statusCode),
	})
}

func (l *Lichess) FetchRatings(ctx context.Context, username string) (domain.PlayerRatings, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.FetchRatings")
	defer span.End()

	resp, err := l.get(ctx, "user", "/api/user/"+url.PathEscape(username), nil, "application/json")
	if err != nil {
		if errors.Is(err, domain.ErrTemporarilyUnavailable) {
			return domain.PlayerRatings{}, err
		}
		return domain.PlayerRatings{}, fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
	}

	ratings, err := ratingsFromLichessResponse(resp.statusCode, resp.data)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			l.reportParseError(ctx, err, resp)
		}
		return domain.PlayerRatings{}, err
	}
	return ratings, nil
}

func (l *Lichess) fetchGames(ctx context.Context, endpoint string, path string, query url.Values) ([]domain.GameRecord, error) {
	resp, err := l.get(ctx, endpoint, path, query, "application/x-ndjson")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGameFetchFailure, err)
	}

	games, dropped, err := gamesFromLichessResponse(resp.statusCode, resp.data)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		logging.FromContext(ctx).WarnContext(ctx, "Dropped undecodable game lines", "endpoint", endpoint, "dropped", dropped)
		l.metrics.droppedLines.Add(ctx, int64(dropped), metric.WithAttributes(attribute.String("endpoint", endpoint)))
	}
	return games, nil
}

func (l *Lichess) FetchRecentGames(ctx context.Context, username string) ([]domain.GameRecord, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.FetchRecentGames")
	defer span.End()

	query := url.Values{}
	query.Set("max", "50")
	query.Set("rated", "true")
	query.Set("since", strconv.FormatInt(l.nowFunc().Add(-recentGamesWindow).UnixMilli(), 10))
	query.Set("sort", "dateDesc")

	return l.fetchGames(ctx, "games", "/api/games/user/"+url.PathEscape(username), query)
}

func (l *Lichess) FetchGamesInRange(ctx context.Context, username string, start, end time.Time) ([]domain.GameRecord, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.FetchGamesInRange")
	defer span.End()

	query := url.Values{}
	query.Set("max", "200")
	query.Set("rated", "true")
	query.Set("since", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("until", strconv.FormatInt(end.UnixMilli(), 10))
	query.Set("sort", "dateDesc")

	return l.fetchGames(ctx, "games_in_range", "/api/games/user/"+url.PathEscape(username), query)
}

func (l *Lichess) FetchTournamentGames(ctx context.Context, username string, tournament domain.TournamentContext) ([]domain.GameRecord, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.FetchTournamentGames")
	defer span.End()

	query := url.Values{}
	query.Set("player", username)
	games, err := l.fetchGames(ctx, "tournament_games", "/api/tournament/"+url.PathEscape(tournament.ID)+"/games", query)
	if err == nil && len(games) > 0 {
		return games, nil
	}
	if err != nil {
		logging.FromContext(ctx).InfoContext(ctx, "Tournament games unavailable, falling back to recent games", "tournamentID", tournament.ID, "error", err.Error())
	}

	cutoff := tournament.StartTime
	if cutoff.IsZero() {
		cutoff = l.nowFunc().Add(-tournamentFallbackWindow)
	}

	recent, err := l.FetchRecentGames(ctx, username)
	if err != nil {
		return nil, err
	}

	filtered := make([]domain.GameRecord, 0, len(recent))
	for _, game := range recent {
		if !game.EndTime.Before(cutoff) {
			filtered = append(filtered, game)
		}
	}
	return filtered, nil
}

type TournamentRef struct {
	ID string
	At time.Time
}

// Tournaments referenced by the activity feed
func (l *Lichess) FetchActivityTournaments(ctx context.Context, username string) ([]TournamentRef, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.FetchActivityTournaments")
	defer span.End()

	resp, err := l.get(ctx, "activity", "/api/user/"+url.PathEscape(username)+"/activity", nil, "application/json")
	if err != nil {
		return nil, err
	}

	refs, err := tournamentRefsFromActivityResponse(resp.statusCode, resp.data, l.nowFunc())
	if err != nil {
		if !errors.Is(err, domain.ErrTemporarilyUnavailable) {
			l.reportParseError(ctx, err, resp)
		}
		return nil, err
	}
	return refs, nil
}

// Tournaments referenced by the most recent rated games
func (l *Lichess) FetchRecentGameTournaments(ctx context.Context, username string) ([]TournamentRef, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.FetchRecentGameTournaments")
	defer span.End()

	query := url.Values{}
	query.Set("max", "20")
	query.Set("rated", "true")

	games, err := l.fetchGames(ctx, "recent_tournament_games", "/api/games/user/"+url.PathEscape(username), query)
	if err != nil {
		return nil, err
	}

	refs := []TournamentRef{}
	seen := map[string]bool{}
	for _, game := range games {
		if game.TournamentID == "" || seen[game.TournamentID] {
			continue
		}
		seen[game.TournamentID] = true
		at := game.StartTime
		if at.IsZero() {
			at = game.EndTime
		}
		refs = append(refs, TournamentRef{ID: game.TournamentID, At: at})
	}
	return refs, nil
}

func (l *Lichess) GetTournament(ctx context.Context, id string) (domain.TournamentDetail, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.GetTournament")
	defer span.End()

	resp, err := l.get(ctx, "tournament", "/api/tournament/"+url.PathEscape(id), nil, "application/json")
	if err != nil {
		return domain.TournamentDetail{}, fmt.Errorf("%w: %w", domain.ErrTournamentDetailUnavailable, err)
	}

	detail, err := tournamentFromLichessResponse(resp.statusCode, resp.data)
	if err != nil {
		if !errors.Is(err, domain.ErrTemporarilyUnavailable) && resp.statusCode != http.StatusNotFound {
			l.reportParseError(ctx, err, resp)
		}
		return domain.TournamentDetail{}, err
	}
	return detail, nil
}

// GetStandings returns the final or current standings as a JSON list ordered by rank
func (l *Lichess) GetStandings(ctx context.Context, id string) ([]byte, error) {
	ctx, span := l.tracer.Start(ctx, "Lichess.GetStandings")
	defer span.End()

	query := url.Values{}
	query.Set("nb", "200")

	resp, err := l.get(ctx, "standings", "/api/tournament/"+url.PathEscape(id)+"/results", query, "application/x-ndjson")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStandingsUnavailable, err)
	}

	return standingsFromLichessResponse(resp.statusCode, resp.data)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length] + "..."
}
