package chesscom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
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
	"golang.org/x/sync/errgroup"
)

const BASE_URL = "https://api.chess.com"

const minOperationTime = 300 * time.Millisecond

const recentGamesLimit = 20

// Concurrent monthly archive requests
const archiveConcurrency = 3

const (
	tournamentRecentWindow = 6 * time.Hour
	tournamentWideWindow   = 24 * time.Hour
	tournamentMinGames     = 3
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type chesscomMetricsCollection struct {
	requestCount  metric.Int64Counter
	skippedMonths metric.Int64Counter
}

func setupChessComMetrics(meter metric.Meter) (chesscomMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("chesscom/request_count")
	if err != nil {
		return chesscomMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	skippedMonths, err := meter.Int64Counter("chesscom/skipped_archive_months")
	if err != nil {
		return chesscomMetricsCollection{}, fmt.Errorf("failed to create skipped months metric: %w", err)
	}

	return chesscomMetricsCollection{
		requestCount:  requestCount,
		skippedMonths: skippedMonths,
	}, nil
}

type ChessCom struct {
	httpClient HttpClient
	limiter    ratelimiting.RequestLimiter
	nowFunc    func() time.Time

	metrics chesscomMetricsCollection
	tracer  trace.Tracer
}

func NewChessCom(httpClient HttpClient, nowFunc func() time.Time, afterFunc func(time.Duration) <-chan time.Time) (*ChessCom, error) {
	const name = "chessoverlay/adapters/chesscom"

	metrics, err := setupChessComMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &ChessCom{
		httpClient: httpClient,
		// Serial access is unlimited, parallel requests may get 429
		// https://support.chess.com/en/articles/9650547-published-data-api#rate-limiting
		limiter: ratelimiting.NewWindowLimitRequestLimiter(6, 2*time.Second, nowFunc, afterFunc),
		nowFunc: nowFunc,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

type response struct {
	statusCode int
	data       []byte
}

func (c *ChessCom) get(ctx context.Context, endpoint string, target string) (response, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.get", trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		reporting.Report(ctx, err)
		return response{}, err
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Accept", "application/json")

	var resp response
	ran := c.limiter.Limit(ctx, minOperationTime, func(ctx context.Context) {
		httpResp, doErr := c.httpClient.Do(req)
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
		logging.FromContext(ctx).WarnContext(ctx, "Did not query chess.com due to rate limiting", "endpoint", endpoint, "ctx_error", ctx.Err())
		return response{}, fmt.Errorf("%w: too many requests to chess.com", domain.ErrTemporarilyUnavailable)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			reporting.Report(ctx, err, map[string]string{"endpoint": endpoint})
		}
		return response{}, err
	}

	c.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_code", strconv.Itoa(resp.statusCode)),
	))

	return resp, nil
}

func (c *ChessCom) reportParseError(ctx context.Context, err error, resp response) {
	data := string(resp.data)
	if len(data) > 2000 {
		data = data[:2000] + "..."
	}
	reporting.Report(ctx, err, map[string]string{
		"data":   data,
		"status": strconv.Itoa(resp.statusCode),
	})
}

func playerURL(username string) string {
	return BASE_URL + "/pub/player/" + url.PathEscape(strings.ToLower(username))
}

func tournamentURL(id string) string {
	return BASE_URL + "/pub/tournament/" + url.PathEscape(id)
}

func (c *ChessCom) FetchRatings(ctx context.Context, username string) (domain.PlayerRatings, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.FetchRatings")
	defer span.End()

	resp, err := c.get(ctx, "profile", playerURL(username))
	if err != nil {
		if errors.Is(err, domain.ErrTemporarilyUnavailable) {
			return domain.PlayerRatings{}, err
		}
		return domain.PlayerRatings{}, fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
	}
	if err := checkProfileResponse(resp.statusCode, resp.data); err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			c.reportParseError(ctx, err, resp)
		}
		return domain.PlayerRatings{}, err
	}

	resp, err = c.get(ctx, "stats", playerURL(username)+"/stats")
	if err != nil {
		return domain.PlayerRatings{}, fmt.Errorf("%w: could not fetch stats: %w", domain.ErrGameFetchFailure, err)
	}
	ratings, err := ratingsFromStatsResponse(resp.statusCode, resp.data)
	if err != nil {
		if isSuccess(resp.statusCode) {
			c.reportParseError(ctx, err, resp)
		}
		return domain.PlayerRatings{}, err
	}
	return ratings, nil
}

func (c *ChessCom) fetchArchive(ctx context.Context, username string, month Month) ([]domain.GameRecord, error) {
	resp, err := c.get(ctx, "archive", playerURL(username)+"/games/"+month.archivePath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGameFetchFailure, err)
	}

	games, err := gamesFromArchiveResponse(resp.statusCode, resp.data)
	if err != nil {
		if isSuccess(resp.statusCode) {
			c.reportParseError(ctx, err, resp)
		}
		return nil, err
	}
	return games, nil
}

func (c *ChessCom) FetchRecentGames(ctx context.Context, username string) ([]domain.GameRecord, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.FetchRecentGames")
	defer span.End()

	now := c.nowFunc().UTC()
	games, err := c.fetchArchive(ctx, username, Month{Year: now.Year(), Month: now.Month()})
	if err != nil {
		return nil, err
	}

	if len(games) > recentGamesLimit {
		games = games[len(games)-recentGamesLimit:]
	}
	return games, nil
}

// FetchGamesInRange fetches every archive month touched by the range concurrently.
// Months that fail are logged and skipped, unless every month failed.
func (c *ChessCom) FetchGamesInRange(ctx context.Context, username string, start, end time.Time) ([]domain.GameRecord, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.FetchGamesInRange")
	defer span.End()

	months := MonthsInRange(start, end)
	perMonth := make([][]domain.GameRecord, len(months))
	monthErrs := make([]error, len(months))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(archiveConcurrency)
	for i, month := range months {
		g.Go(func() error {
			games, err := c.fetchArchive(gCtx, username, month)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logging.FromContext(gCtx).WarnContext(gCtx, "Skipping chess.com archive month", "month", month.archivePath(), "error", err.Error())
				c.metrics.skippedMonths.Add(gCtx, 1)
				monthErrs[i] = err
				return nil
			}
			perMonth[i] = games
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGameFetchFailure, err)
	}
	if len(months) > 0 && !slices.ContainsFunc(monthErrs, func(err error) bool { return err == nil }) {
		return nil, fmt.Errorf("%w: every archive month failed: %w", domain.ErrGameFetchFailure, errors.Join(monthErrs...))
	}

	games := []domain.GameRecord{}
	for _, monthGames := range perMonth {
		for _, game := range monthGames {
			if game.EndTime.Before(start) || game.EndTime.After(end) {
				continue
			}
			games = append(games, game)
		}
	}
	return games, nil
}

func (c *ChessCom) fetchTournamentDocument(ctx context.Context, id string) (chesscomTournamentResponse, error) {
	resp, err := c.get(ctx, "tournament", tournamentURL(id))
	if err != nil {
		return chesscomTournamentResponse{}, fmt.Errorf("%w: %w", domain.ErrTournamentDetailUnavailable, err)
	}

	document, err := parseTournamentResponse(resp.statusCode, resp.data)
	if err != nil {
		if isSuccess(resp.statusCode) {
			c.reportParseError(ctx, err, resp)
		}
		return chesscomTournamentResponse{}, err
	}
	return document, nil
}

func (c *ChessCom) GetTournament(ctx context.Context, id string) (domain.TournamentDetail, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.GetTournament")
	defer span.End()

	document, err := c.fetchTournamentDocument(ctx, id)
	if err != nil {
		return domain.TournamentDetail{}, err
	}
	return tournamentDetailFromResponse(id, document)
}

func (c *ChessCom) FetchTournaments(ctx context.Context, username string) ([]TournamentRef, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.FetchTournaments")
	defer span.End()

	resp, err := c.get(ctx, "player_tournaments", playerURL(username)+"/tournaments")
	if err != nil {
		return nil, err
	}

	refs, err := tournamentRefsFromResponse(resp.statusCode, resp.data)
	if err != nil {
		if isSuccess(resp.statusCode) {
			c.reportParseError(ctx, err, resp)
		}
		return nil, err
	}
	return refs, nil
}

// fetchGroups returns every group of the given rounds, in round order
func (c *ChessCom) fetchGroups(ctx context.Context, roundURLs []string) ([]chesscomGroupResponse, error) {
	groups := []chesscomGroupResponse{}
	for _, roundURL := range roundURLs {
		resp, err := c.get(ctx, "tournament_round", roundURL)
		if err != nil {
			return nil, err
		}
		groupURLs, err := groupURLsFromRoundResponse(resp.statusCode, resp.data)
		if err != nil {
			return nil, err
		}

		for _, groupURL := range groupURLs {
			resp, err := c.get(ctx, "tournament_group", groupURL)
			if err != nil {
				return nil, err
			}
			group, err := parseGroupResponse(resp.statusCode, resp.data)
			if err != nil {
				return nil, err
			}
			groups = append(groups, group)
		}
	}
	return groups, nil
}

func (c *ChessCom) fetchRoundGames(ctx context.Context, username string, id string) ([]domain.GameRecord, error) {
	document, err := c.fetchTournamentDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(document.Rounds) == 0 {
		return nil, nil
	}

	groups, err := c.fetchGroups(ctx, document.Rounds)
	if err != nil {
		return nil, err
	}

	games := []chesscomGame{}
	for _, group := range groups {
		games = append(games, group.Games...)
	}
	return gamesForPlayer(games, username), nil
}

// FetchTournamentGames tries the tournament rounds, then the tournament time range, then recent games
func (c *ChessCom) FetchTournamentGames(ctx context.Context, username string, tournament domain.TournamentContext) ([]domain.GameRecord, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.FetchTournamentGames")
	defer span.End()

	logger := logging.FromContext(ctx)
	now := c.nowFunc()

	games, err := c.fetchRoundGames(ctx, username, tournament.ID)
	if err != nil {
		logger.InfoContext(ctx, "Tournament rounds unavailable", "tournamentID", tournament.ID, "error", err.Error())
	} else if len(games) > 0 {
		return games, nil
	}

	if !tournament.StartTime.IsZero() {
		end := now
		if tournament.EndTime != nil && tournament.EndTime.Before(now) {
			end = *tournament.EndTime
		}
		games, err := c.FetchGamesInRange(ctx, username, tournament.StartTime, end)
		if err != nil {
			return nil, err
		}
		if len(games) > 0 {
			return games, nil
		}
	}

	games, err = c.FetchGamesInRange(ctx, username, now.Add(-tournamentRecentWindow), now)
	if err != nil {
		return nil, err
	}
	if len(games) >= tournamentMinGames {
		return games, nil
	}
	wider, err := c.FetchGamesInRange(ctx, username, now.Add(-tournamentWideWindow), now)
	if err != nil {
		logger.InfoContext(ctx, "Could not widen the tournament game window", "tournamentID", tournament.ID, "error", err.Error())
		return games, nil
	}
	return wider, nil
}

// GetStandings tries the standings and players documents, then builds standings from the latest round
func (c *ChessCom) GetStandings(ctx context.Context, id string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "ChessCom.GetStandings")
	defer span.End()

	for _, suffix := range []string{"/standings", "/players"} {
		resp, err := c.get(ctx, "tournament"+strings.ReplaceAll(suffix, "/", "_"), tournamentURL(id)+suffix)
		if err != nil {
			continue
		}
		if isSuccess(resp.statusCode) && len(resp.data) > 0 {
			return resp.data, nil
		}
	}

	document, err := c.fetchTournamentDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStandingsUnavailable, err)
	}
	if len(document.Rounds) == 0 {
		return nil, fmt.Errorf("%w: chess.com tournament %s has no rounds", domain.ErrStandingsUnavailable, id)
	}

	groups, err := c.fetchGroups(ctx, document.Rounds[len(document.Rounds)-1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStandingsUnavailable, err)
	}

	players := []chesscomGroupPlayer{}
	for _, group := range groups {
		players = append(players, group.Players...)
	}
	if len(players) == 0 {
		return nil, fmt.Errorf("%w: chess.com tournament %s has no players in its latest round", domain.ErrStandingsUnavailable, id)
	}

	return standingsFromGroupPlayers(players)
}
