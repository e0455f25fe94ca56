package domain

import (
	"slices"
	"time"
)

type Adjustments struct {
	Wins   int
	Losses int
	Draws  int
}

func (a Adjustments) IsZero() bool {
	return a.Wins == 0 && a.Losses == 0 && a.Draws == 0
}

// Stats is the aggregate shown on the overlay.
//
// Recompute must be called after changing the counters or Last10.
type Stats struct {
	Rating         int
	RatingCategory RatingCategory

	Wins       int
	Losses     int
	Draws      int
	Score      float64
	TotalGames int

	// Most recent first
	Last10        []Result
	CurrentStreak int
	StreakType    Result

	Tournament *TournamentContext

	LastUpdated time.Time

	Adjustments Adjustments
}

func NewStats() Stats {
	return Stats{
		Last10:     []Result{},
		StreakType: ResultWin,
	}
}

// Recompute derives score, total and streak from the counters and Last10
func (s *Stats) Recompute() {
	s.Wins = max(s.Wins, 0)
	s.Losses = max(s.Losses, 0)
	s.Draws = max(s.Draws, 0)
	s.Score = float64(s.Wins) + 0.5*float64(s.Draws)
	s.TotalGames = s.Wins + s.Losses + s.Draws
	s.CurrentStreak, s.StreakType = ComputeStreak(s.Last10)
}

// Clone returns a deep copy
func (s Stats) Clone() Stats {
	clone := s
	clone.Last10 = slices.Clone(s.Last10)
	if clone.Last10 == nil {
		clone.Last10 = []Result{}
	}
	if s.Tournament != nil {
		tournament := *s.Tournament
		clone.Tournament = &tournament
	}
	return clone
}

// Counter returns a pointer to the counter of the given type
func (s *Stats) Counter(t AdjustmentType) *int {
	switch t {
	case AdjustWins:
		return &s.Wins
	case AdjustLosses:
		return &s.Losses
	default:
		return &s.Draws
	}
}
