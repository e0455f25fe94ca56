package domain

import "time"

type TournamentStatus string

const (
	TournamentUpcoming       TournamentStatus = "Upcoming"
	TournamentLive           TournamentStatus = "Live"
	TournamentFinished       TournamentStatus = "Finished"
	TournamentParticipating  TournamentStatus = "Participating"
	TournamentModeUnresolved TournamentStatus = "TournamentMode"
)

// TournamentDetail is what a platform reports about a single tournament
type TournamentDetail struct {
	ID       string
	Name     string
	Category RatingCategory

	StartsAt time.Time
	// nil when the tournament has no announced end
	FinishesAt *time.Time

	NbPlayers *int
}

// ActiveAt reports whether at lies within [StartsAt, FinishesAt)
func (d TournamentDetail) ActiveAt(at time.Time) bool {
	if at.Before(d.StartsAt) {
		return false
	}
	if d.FinishesAt != nil && !at.Before(*d.FinishesAt) {
		return false
	}
	return true
}

func (d TournamentDetail) StatusAt(at time.Time) TournamentStatus {
	if at.Before(d.StartsAt) {
		return TournamentUpcoming
	}
	if d.FinishesAt != nil && !at.Before(*d.FinishesAt) {
		return TournamentFinished
	}
	return TournamentLive
}

type TournamentContext struct {
	Platform Platform
	ID       string
	Name     string
	Category RatingCategory
	Status   TournamentStatus

	TotalPlayers *int
	PlayerRank   *int
	PlayerScore  *float64

	StartTime time.Time
	EndTime   *time.Time
}

type Standing struct {
	Rank         int
	Score        *float64
	TotalPlayers int
}

// WithStanding returns a copy with rank and score filled in from the standings
func (t TournamentContext) WithStanding(standing Standing) TournamentContext {
	rank := standing.Rank
	t.PlayerRank = &rank
	t.PlayerScore = standing.Score
	if t.TotalPlayers == nil && standing.TotalPlayers > 0 {
		total := standing.TotalPlayers
		t.TotalPlayers = &total
	}
	return t
}
