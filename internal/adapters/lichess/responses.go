package lichess

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
)

func temporaryStatusError(statusCode int) error {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return fmt.Errorf("%w: lichess returned status code %d", domain.ErrTemporarilyUnavailable, statusCode)
	}
	return nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

type lichessPerf struct {
	Rating int  `json:"rating"`
	Games  int  `json:"games"`
	Prov   bool `json:"prov"`
}

type lichessUserResponse struct {
	ID       string                 `json:"id"`
	Username string                 `json:"username"`
	Disabled bool                   `json:"disabled"`
	Perfs    map[string]lichessPerf `json:"perfs"`
}

var trackedPerfs = []domain.RatingCategory{
	domain.CategoryBullet,
	domain.CategoryBlitz,
	domain.CategoryRapid,
	domain.CategoryClassical,
}

func ratingsFromLichessResponse(statusCode int, data []byte) (domain.PlayerRatings, error) {
	if !isSuccess(statusCode) {
		if err := temporaryStatusError(statusCode); err != nil {
			return domain.PlayerRatings{}, fmt.Errorf("%w: %w", domain.ErrUserNotFound, err)
		}
		return domain.PlayerRatings{}, fmt.Errorf("%w: lichess returned status code %d", domain.ErrUserNotFound, statusCode)
	}

	var response lichessUserResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return domain.PlayerRatings{}, fmt.Errorf("failed to parse lichess user response: %w", err)
	}

	if response.ID == "" || response.Disabled {
		return domain.PlayerRatings{}, fmt.Errorf("%w: lichess account is closed", domain.ErrUserNotFound)
	}

	byCategory := make(map[domain.RatingCategory]int, len(trackedPerfs))
	for _, category := range trackedPerfs {
		perf, ok := response.Perfs[string(category)]
		if !ok || perf.Rating <= 0 {
			continue
		}
		byCategory[category] = perf.Rating
	}

	return domain.PlayerRatings{
		Platform:   domain.PlatformLichess,
		ByCategory: byCategory,
	}, nil
}

type lichessUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type lichessGamePlayer struct {
	User lichessUser `json:"user"`
}

type lichessGame struct {
	ID         string `json:"id"`
	CreatedAt  int64  `json:"createdAt"`
	LastMoveAt int64  `json:"lastMoveAt"`
	Status     string `json:"status"`
	Winner     string `json:"winner"`
	Speed      string `json:"speed"`
	Tournament string `json:"tournament"`
	Players    struct {
		White lichessGamePlayer `json:"white"`
		Black lichessGamePlayer `json:"black"`
	} `json:"players"`
	Clock *struct {
		Initial   int `json:"initial"`
		Increment int `json:"increment"`
	} `json:"clock"`
}

func (g lichessGame) toGameRecord() (domain.GameRecord, error) {
	if g.ID == "" {
		return domain.GameRecord{}, fmt.Errorf("game has no id")
	}

	endMillis := g.LastMoveAt
	if endMillis == 0 {
		endMillis = g.CreatedAt
	}
	if endMillis == 0 {
		return domain.GameRecord{}, fmt.Errorf("game %s has no timestamps", g.ID)
	}

	var winner domain.Color
	switch g.Winner {
	case "white":
		winner = domain.ColorWhite
	case "black":
		winner = domain.ColorBlack
	}

	timeControl := g.Speed
	if g.Clock != nil {
		timeControl = fmt.Sprintf("%d+%d", g.Clock.Initial, g.Clock.Increment)
	}

	var startTime time.Time
	if g.CreatedAt != 0 {
		startTime = time.UnixMilli(g.CreatedAt).UTC()
	}

	return domain.GameRecord{
		ID:        g.ID,
		EndTime:   time.UnixMilli(endMillis).UTC(),
		StartTime: startTime,
		White: domain.PlayerIdentity{
			ID:   strings.ToLower(g.Players.White.User.ID),
			Name: g.Players.White.User.Name,
		},
		Black: domain.PlayerIdentity{
			ID:   strings.ToLower(g.Players.Black.User.ID),
			Name: g.Players.Black.User.Name,
		},
		Winner:       winner,
		Status:       g.Status,
		TournamentID: g.Tournament,
		TimeControl:  timeControl,
	}, nil
}

// forEachNDJSONLine calls f for each non-blank line, counting lines f rejects
func forEachNDJSONLine(data []byte, f func(line []byte) error) int {
	dropped := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := f(line); err != nil {
			dropped++
		}
	}
	if scanner.Err() != nil {
		dropped++
	}
	return dropped
}

// gamesFromLichessResponse decodes an NDJSON game export, newest first.
// Lines that fail to decode are dropped and counted.
func gamesFromLichessResponse(statusCode int, data []byte) ([]domain.GameRecord, int, error) {
	if !isSuccess(statusCode) {
		if err := temporaryStatusError(statusCode); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", domain.ErrGameFetchFailure, err)
		}
		return nil, 0, fmt.Errorf("%w: lichess returned status code %d", domain.ErrGameFetchFailure, statusCode)
	}

	games := []domain.GameRecord{}
	dropped := forEachNDJSONLine(data, func(line []byte) error {
		var game lichessGame
		if err := json.Unmarshal(line, &game); err != nil {
			return err
		}
		record, err := game.toGameRecord()
		if err != nil {
			return err
		}
		games = append(games, record)
		return nil
	})

	slices.SortStableFunc(games, func(a, b domain.GameRecord) int {
		return b.EndTime.Compare(a.EndTime)
	})

	return games, dropped, nil
}

// lichessActivityTournaments accepts both the list form and the {nb, best} summary form
type lichessActivityTournaments struct {
	refs []lichessActivityTournamentRef
}

type lichessActivityTournamentRef struct {
	ID   string
	Date int64
}

func (t *lichessActivityTournaments) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	type listEntry struct {
		ID         string `json:"id"`
		Date       int64  `json:"date"`
		Tournament struct {
			ID string `json:"id"`
		} `json:"tournament"`
	}

	if trimmed[0] == '[' {
		var entries []listEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return err
		}
		for _, entry := range entries {
			id := entry.ID
			if id == "" {
				id = entry.Tournament.ID
			}
			t.refs = append(t.refs, lichessActivityTournamentRef{ID: id, Date: entry.Date})
		}
		return nil
	}

	var summary struct {
		Best []listEntry `json:"best"`
	}
	if err := json.Unmarshal(trimmed, &summary); err != nil {
		return err
	}
	for _, entry := range summary.Best {
		id := entry.Tournament.ID
		if id == "" {
			id = entry.ID
		}
		t.refs = append(t.refs, lichessActivityTournamentRef{ID: id, Date: entry.Date})
	}
	return nil
}

type lichessActivity struct {
	Interval struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"interval"`
	Tournaments lichessActivityTournaments `json:"tournaments"`
}

// tournamentRefsFromActivityResponse lists the tournaments mentioned in the activity feed.
// Entries without their own date are dated at the end of their interval, capped at now.
func tournamentRefsFromActivityResponse(statusCode int, data []byte, now time.Time) ([]TournamentRef, error) {
	if !isSuccess(statusCode) {
		if err := temporaryStatusError(statusCode); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("lichess activity returned status code %d", statusCode)
	}

	var activities []lichessActivity
	if err := json.Unmarshal(data, &activities); err != nil {
		return nil, fmt.Errorf("failed to parse lichess activity response: %w", err)
	}

	refs := []TournamentRef{}
	seen := map[string]bool{}
	for _, activity := range activities {
		for _, ref := range activity.Tournaments.refs {
			if ref.ID == "" || seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true

			at := now
			switch {
			case ref.Date > 0:
				at = time.UnixMilli(ref.Date).UTC()
			case activity.Interval.End > 0 && time.UnixMilli(activity.Interval.End).Before(now):
				at = time.UnixMilli(activity.Interval.End).UTC()
			}
			refs = append(refs, TournamentRef{ID: ref.ID, At: at})
		}
	}
	return refs, nil
}

// flexibleTime decodes epoch milliseconds or an RFC3339 string
type flexibleTime struct {
	time.Time
}

func (f *flexibleTime) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			f.Time = time.UnixMilli(millis).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("failed to parse time '%s': %w", raw, err)
		}
		f.Time = parsed.UTC()
		return nil
	}

	var millis int64
	if err := json.Unmarshal(trimmed, &millis); err != nil {
		return err
	}
	f.Time = time.UnixMilli(millis).UTC()
	return nil
}

type lichessTournamentResponse struct {
	ID         string       `json:"id"`
	FullName   string       `json:"fullName"`
	StartsAt   flexibleTime `json:"startsAt"`
	FinishesAt flexibleTime `json:"finishesAt"`
	Minutes    int          `json:"minutes"`
	NbPlayers  *int         `json:"nbPlayers"`
	Perf       struct {
		Key string `json:"key"`
	} `json:"perf"`
}

func tournamentFromLichessResponse(statusCode int, data []byte) (domain.TournamentDetail, error) {
	if !isSuccess(statusCode) {
		if err := temporaryStatusError(statusCode); err != nil {
			return domain.TournamentDetail{}, fmt.Errorf("%w: %w", domain.ErrTournamentDetailUnavailable, err)
		}
		return domain.TournamentDetail{}, fmt.Errorf("%w: lichess returned status code %d", domain.ErrTournamentDetailUnavailable, statusCode)
	}

	var response lichessTournamentResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return domain.TournamentDetail{}, fmt.Errorf("%w: failed to parse lichess tournament response: %w", domain.ErrTournamentDetailUnavailable, err)
	}

	if response.ID == "" || response.StartsAt.IsZero() {
		return domain.TournamentDetail{}, fmt.Errorf("%w: lichess tournament response is missing id or start", domain.ErrTournamentDetailUnavailable)
	}

	var finishesAt *time.Time
	switch {
	case !response.FinishesAt.IsZero():
		finish := response.FinishesAt.Time
		finishesAt = &finish
	case response.Minutes > 0:
		finish := response.StartsAt.Add(time.Duration(response.Minutes) * time.Minute)
		finishesAt = &finish
	}

	name := response.FullName
	if name == "" {
		name = domain.PlatformLichess.DefaultTournamentName()
	}

	category, err := domain.ParseRatingCategory(response.Perf.Key)
	if err != nil {
		category = ""
	}

	return domain.TournamentDetail{
		ID:         response.ID,
		Name:       name,
		Category:   category,
		StartsAt:   response.StartsAt.Time,
		FinishesAt: finishesAt,
		NbPlayers:  response.NbPlayers,
	}, nil
}

// standingsFromLichessResponse turns the NDJSON results export into a JSON list in rank order
func standingsFromLichessResponse(statusCode int, data []byte) ([]byte, error) {
	if !isSuccess(statusCode) {
		if err := temporaryStatusError(statusCode); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStandingsUnavailable, err)
		}
		return nil, fmt.Errorf("%w: lichess returned status code %d", domain.ErrStandingsUnavailable, statusCode)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return trimmed, nil
	}
	if json.Valid(trimmed) && !isResultLine(trimmed) {
		// A single envelope such as {"players": [...]}
		return trimmed, nil
	}

	entries := []json.RawMessage{}
	forEachNDJSONLine(trimmed, func(line []byte) error {
		if !json.Valid(line) {
			return fmt.Errorf("invalid line")
		}
		entries = append(entries, json.RawMessage(slices.Clone(line)))
		return nil
	})

	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode standings: %w", domain.ErrStandingsUnavailable, err)
	}
	return encoded, nil
}

// A results line carries a username and rank rather than a players list
func isResultLine(line []byte) bool {
	var probe struct {
		Username string `json:"username"`
		Rank     *int   `json:"rank"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return false
	}
	return probe.Username != "" && probe.Rank != nil
}
