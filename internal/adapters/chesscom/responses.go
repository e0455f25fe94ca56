package chesscom

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/strutils"
)

func temporaryStatusError(statusCode int) error {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return fmt.Errorf("%w: chess.com returned status code %d", domain.ErrTemporarilyUnavailable, statusCode)
	}
	return nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func statusError(sentinel error, statusCode int) error {
	if err := temporaryStatusError(statusCode); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return fmt.Errorf("%w: chess.com returned status code %d", sentinel, statusCode)
}

type chesscomProfileResponse struct {
	PlayerID int    `json:"player_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

func checkProfileResponse(statusCode int, data []byte) error {
	if !isSuccess(statusCode) {
		return statusError(domain.ErrUserNotFound, statusCode)
	}

	var response chesscomProfileResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return fmt.Errorf("failed to parse chess.com profile response: %w", err)
	}

	if response.Username == "" || strings.HasPrefix(response.Status, "closed") {
		return fmt.Errorf("%w: chess.com account is closed", domain.ErrUserNotFound)
	}
	return nil
}

type chesscomStatsEntry struct {
	Last *struct {
		Rating int `json:"rating"`
	} `json:"last"`
}

var statsKeys = map[string]domain.RatingCategory{
	"chess_bullet": domain.CategoryBullet,
	"chess_blitz":  domain.CategoryBlitz,
	"chess_rapid":  domain.CategoryRapid,
	"chess_daily":  domain.CategoryDaily,
}

func ratingsFromStatsResponse(statusCode int, data []byte) (domain.PlayerRatings, error) {
	if !isSuccess(statusCode) {
		return domain.PlayerRatings{}, fmt.Errorf("could not fetch stats: %w", statusError(domain.ErrGameFetchFailure, statusCode))
	}

	var response map[string]json.RawMessage
	if err := json.Unmarshal(data, &response); err != nil {
		return domain.PlayerRatings{}, fmt.Errorf("%w: failed to parse chess.com stats response: %w", domain.ErrGameFetchFailure, err)
	}

	byCategory := map[domain.RatingCategory]int{}
	for key, category := range statsKeys {
		raw, ok := response[key]
		if !ok {
			continue
		}
		var entry chesscomStatsEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Last == nil || entry.Last.Rating <= 0 {
			continue
		}
		byCategory[category] = entry.Last.Rating
	}

	return domain.PlayerRatings{
		Platform:   domain.PlatformChessCom,
		ByCategory: byCategory,
	}, nil
}

type chesscomGameSide struct {
	Username string `json:"username"`
	Result   string `json:"result"`
	Rating   int    `json:"rating"`
}

type chesscomGame struct {
	URL         string           `json:"url"`
	UUID        string           `json:"uuid"`
	EndTime     int64            `json:"end_time"`
	TimeControl string           `json:"time_control"`
	TimeClass   string           `json:"time_class"`
	Rated       *bool            `json:"rated"`
	Tournament  string           `json:"tournament"`
	White       chesscomGameSide `json:"white"`
	Black       chesscomGameSide `json:"black"`
}

func (g chesscomGame) toGameRecord() (domain.GameRecord, bool) {
	if g.EndTime <= 0 || g.White.Username == "" || g.Black.Username == "" {
		return domain.GameRecord{}, false
	}

	id := g.URL
	if id == "" {
		id = g.UUID
	}

	tournamentID := ""
	if g.Tournament != "" {
		tournamentID, _ = strutils.TournamentIDFromURL(g.Tournament)
	}

	return domain.GameRecord{
		ID:           id,
		EndTime:      time.Unix(g.EndTime, 0).UTC(),
		White:        domain.PlayerIdentity{Name: g.White.Username},
		Black:        domain.PlayerIdentity{Name: g.Black.Username},
		WhiteResult:  g.White.Result,
		BlackResult:  g.Black.Result,
		TournamentID: tournamentID,
		TimeControl:  g.TimeControl,
	}, true
}

type chesscomGamesResponse struct {
	Games []chesscomGame `json:"games"`
}

// gamesFromArchiveResponse keeps the archive order (ascending end time) and skips incomplete entries
func gamesFromArchiveResponse(statusCode int, data []byte) ([]domain.GameRecord, error) {
	if !isSuccess(statusCode) {
		return nil, statusError(domain.ErrGameFetchFailure, statusCode)
	}

	var response chesscomGamesResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("%w: failed to parse chess.com games response: %w", domain.ErrGameFetchFailure, err)
	}

	games := make([]domain.GameRecord, 0, len(response.Games))
	for _, game := range response.Games {
		if game.Rated != nil && !*game.Rated {
			continue
		}
		record, ok := game.toGameRecord()
		if !ok {
			continue
		}
		games = append(games, record)
	}
	return games, nil
}

type TournamentRef struct {
	ID     string
	URL    string
	Status string
}

type chesscomTournamentEntry struct {
	URL    string `json:"url"`
	APIURL string `json:"@id"`
	Status string `json:"status"`
}

type chesscomPlayerTournamentsResponse struct {
	Finished   []chesscomTournamentEntry `json:"finished"`
	InProgress []chesscomTournamentEntry `json:"in_progress"`
	Registered []chesscomTournamentEntry `json:"registered"`
}

const maxTournamentCandidates = 10

// tournamentRefsFromResponse lists in-progress, then registered, then finished tournaments
func tournamentRefsFromResponse(statusCode int, data []byte) ([]TournamentRef, error) {
	if !isSuccess(statusCode) {
		if err := temporaryStatusError(statusCode); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("chess.com tournaments returned status code %d", statusCode)
	}

	var response chesscomPlayerTournamentsResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse chess.com tournaments response: %w", err)
	}

	refs := []TournamentRef{}
	seen := map[string]bool{}
	groups := []struct {
		status  string
		entries []chesscomTournamentEntry
	}{
		{status: "in_progress", entries: response.InProgress},
		{status: "registered", entries: response.Registered},
		{status: "finished", entries: response.Finished},
	}
	for _, group := range groups {
		for _, entry := range group.entries {
			if len(refs) >= maxTournamentCandidates {
				return refs, nil
			}

			id, ok := strutils.TournamentIDFromURL(entry.APIURL)
			if !ok {
				id, ok = strutils.TournamentIDFromURL(entry.URL)
			}
			if !ok || seen[id] {
				continue
			}
			seen[id] = true

			url := entry.URL
			if url == "" {
				url = entry.APIURL
			}
			refs = append(refs, TournamentRef{ID: id, URL: url, Status: group.status})
		}
	}
	return refs, nil
}

type chesscomTournamentResponse struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	StartTime  int64  `json:"start_time"`
	FinishTime int64  `json:"finish_time"`
	Settings   struct {
		TimeClass string `json:"time_class"`
		StartTime int64  `json:"start_time"`
	} `json:"settings"`
	Players []struct {
		Username string `json:"username"`
	} `json:"players"`
	Rounds []string `json:"rounds"`
}

var nameCategoryKeywords = []domain.RatingCategory{
	domain.CategoryBullet,
	domain.CategoryBlitz,
	domain.CategoryRapid,
	domain.CategoryDaily,
}

func categoryFromTournament(timeClass string, name string) domain.RatingCategory {
	if category, err := domain.ParseRatingCategory(strings.ToLower(timeClass)); err == nil && category != domain.CategoryBest {
		return category
	}

	lower := strings.ToLower(name)
	for _, category := range nameCategoryKeywords {
		if strings.Contains(lower, string(category)) {
			return category
		}
	}
	return ""
}

func parseTournamentResponse(statusCode int, data []byte) (chesscomTournamentResponse, error) {
	if !isSuccess(statusCode) {
		return chesscomTournamentResponse{}, statusError(domain.ErrTournamentDetailUnavailable, statusCode)
	}

	var response chesscomTournamentResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return chesscomTournamentResponse{}, fmt.Errorf("%w: failed to parse chess.com tournament response: %w", domain.ErrTournamentDetailUnavailable, err)
	}
	return response, nil
}

// tournamentDetailFromResponse converts the tournament document.
// Tournaments without a start time are only usable while in progress.
func tournamentDetailFromResponse(id string, response chesscomTournamentResponse) (domain.TournamentDetail, error) {
	startSeconds := response.StartTime
	if startSeconds == 0 {
		startSeconds = response.Settings.StartTime
	}

	var startsAt time.Time
	switch {
	case startSeconds > 0:
		startsAt = time.Unix(startSeconds, 0).UTC()
	case response.Status == "in_progress":
		// Already running, start unknown
	default:
		return domain.TournamentDetail{}, fmt.Errorf("%w: chess.com tournament %s has no start time", domain.ErrTournamentDetailUnavailable, id)
	}

	var finishesAt *time.Time
	switch {
	case response.FinishTime > 0:
		finish := time.Unix(response.FinishTime, 0).UTC()
		finishesAt = &finish
	case response.Status == "finished":
		finish := startsAt
		finishesAt = &finish
	}

	name := response.Name
	if name == "" {
		name = domain.PlatformChessCom.DefaultTournamentName()
	}

	var nbPlayers *int
	if len(response.Players) > 0 {
		count := len(response.Players)
		nbPlayers = &count
	}

	return domain.TournamentDetail{
		ID:         id,
		Name:       name,
		Category:   categoryFromTournament(response.Settings.TimeClass, response.Name),
		StartsAt:   startsAt,
		FinishesAt: finishesAt,
		NbPlayers:  nbPlayers,
	}, nil
}

type chesscomRoundResponse struct {
	Groups []string `json:"groups"`
}

func groupURLsFromRoundResponse(statusCode int, data []byte) ([]string, error) {
	if !isSuccess(statusCode) {
		return nil, statusError(domain.ErrGameFetchFailure, statusCode)
	}

	var response chesscomRoundResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse chess.com round response: %w", err)
	}
	return response.Groups, nil
}

type chesscomGroupPlayer struct {
	Username string   `json:"username"`
	Points   *float64 `json:"points"`
}

type chesscomGroupResponse struct {
	Games   []chesscomGame        `json:"games"`
	Players []chesscomGroupPlayer `json:"players"`
}

func parseGroupResponse(statusCode int, data []byte) (chesscomGroupResponse, error) {
	if !isSuccess(statusCode) {
		return chesscomGroupResponse{}, statusError(domain.ErrGameFetchFailure, statusCode)
	}

	var response chesscomGroupResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return chesscomGroupResponse{}, fmt.Errorf("failed to parse chess.com group response: %w", err)
	}
	return response, nil
}

// gamesForPlayer keeps the games username took part in, ordered by end time
func gamesForPlayer(games []chesscomGame, username string) []domain.GameRecord {
	records := []domain.GameRecord{}
	for _, game := range games {
		if !strutils.SameUsername(game.White.Username, username) && !strutils.SameUsername(game.Black.Username, username) {
			continue
		}
		record, ok := game.toGameRecord()
		if !ok {
			continue
		}
		records = append(records, record)
	}
	slices.SortStableFunc(records, func(a, b domain.GameRecord) int {
		return a.EndTime.Compare(b.EndTime)
	})
	return records
}

type standingsEntry struct {
	Username string   `json:"username"`
	Points   *float64 `json:"points,omitempty"`
}

// standingsFromGroupPlayers builds a {"players": [...]} document sorted by points, highest first
func standingsFromGroupPlayers(players []chesscomGroupPlayer) ([]byte, error) {
	entries := make([]standingsEntry, 0, len(players))
	for _, player := range players {
		if player.Username == "" {
			continue
		}
		entries = append(entries, standingsEntry{Username: player.Username, Points: player.Points})
	}

	points := func(e standingsEntry) float64 {
		if e.Points == nil {
			return 0
		}
		return *e.Points
	}
	slices.SortStableFunc(entries, func(a, b standingsEntry) int {
		return cmp.Compare(points(b), points(a))
	})

	return json.Marshal(map[string]any{"players": entries})
}
