package ports

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
)

type configResponse struct {
	Platform       string `json:"platform"`
	Username       string `json:"username"`
	RatingCategory string `json:"ratingCategory"`
	ShowSponsor    bool   `json:"showSponsor"`
}

type adjustmentsResponse struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

type tournamentResponse struct {
	Platform     string     `json:"platform"`
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	Status       string     `json:"status"`
	TotalPlayers *int       `json:"totalPlayers"`
	PlayerRank   *int       `json:"playerRank"`
	PlayerScore  *float64   `json:"playerScore"`
	StartTime    *time.Time `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
}

type statsResponse struct {
	Rating         int    `json:"rating"`
	RatingCategory string `json:"ratingCategory"`
	RatingChange   int    `json:"ratingChange"`

	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Draws      int     `json:"draws"`
	Score      float64 `json:"score"`
	TotalGames int     `json:"totalGames"`

	Last10        []string `json:"last10"`
	CurrentStreak int      `json:"currentStreak"`
	StreakType    string   `json:"streakType"`

	Tournament  *tournamentResponse `json:"tournament"`
	Adjustments adjustmentsResponse `json:"adjustments"`
	LastUpdated *time.Time          `json:"lastUpdated"`
}

type snapshotResponse struct {
	Status              string         `json:"status"`
	Error               string         `json:"error,omitempty"`
	LastError           string         `json:"lastError,omitempty"`
	Paused              bool           `json:"paused"`
	SecondsUntilRefresh int            `json:"secondsUntilRefresh"`
	ShowSponsor         bool           `json:"showSponsor"`
	Config              configResponse `json:"config"`
	Stats               statsResponse  `json:"stats"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func configToResponse(cfg domain.WidgetConfig) configResponse {
	return configResponse{
		Platform:       string(cfg.Platform),
		Username:       cfg.Username,
		RatingCategory: string(cfg.RatingCategory),
		ShowSponsor:    cfg.ShowSponsor,
	}
}

func tournamentToResponse(tournament *domain.TournamentContext) *tournamentResponse {
	if tournament == nil {
		return nil
	}
	return &tournamentResponse{
		Platform:     string(tournament.Platform),
		ID:           tournament.ID,
		Name:         tournament.Name,
		Category:     string(tournament.Category),
		Status:       string(tournament.Status),
		TotalPlayers: tournament.TotalPlayers,
		PlayerRank:   tournament.PlayerRank,
		PlayerScore:  tournament.PlayerScore,
		StartTime:    optionalTime(tournament.StartTime),
		EndTime:      tournament.EndTime,
	}
}

func snapshotToResponse(snapshot domain.Snapshot) snapshotResponse {
	last10 := make([]string, 0, len(snapshot.Stats.Last10))
	for _, result := range snapshot.Stats.Last10 {
		last10 = append(last10, string(result))
	}

	return snapshotResponse{
		Status:              string(snapshot.Status),
		Error:               snapshot.Error,
		LastError:           snapshot.LastError,
		Paused:              snapshot.Paused,
		SecondsUntilRefresh: snapshot.SecondsUntilRefresh,
		ShowSponsor:         snapshot.ShowSponsor,
		Config:              configToResponse(snapshot.Config),
		Stats: statsResponse{
			Rating:         snapshot.Stats.Rating,
			RatingCategory: string(snapshot.Stats.RatingCategory),
			RatingChange:   snapshot.RatingChange,
			Wins:           snapshot.Stats.Wins,
			Losses:         snapshot.Stats.Losses,
			Draws:          snapshot.Stats.Draws,
			Score:          snapshot.Stats.Score,
			TotalGames:     snapshot.Stats.TotalGames,
			Last10:         last10,
			CurrentStreak:  snapshot.Stats.CurrentStreak,
			StreakType:     string(snapshot.Stats.StreakType),
			Tournament:     tournamentToResponse(snapshot.Stats.Tournament),
			Adjustments: adjustmentsResponse{
				Wins:   snapshot.Stats.Adjustments.Wins,
				Losses: snapshot.Stats.Adjustments.Losses,
				Draws:  snapshot.Stats.Adjustments.Draws,
			},
			LastUpdated: optionalTime(snapshot.Stats.LastUpdated),
		},
	}
}

func SnapshotToJSON(snapshot domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snapshotToResponse(snapshot))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}
