package domaintest

import (
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
)

// NewTournamentDetail builds a detail running from startsAt for the given duration.
// A zero duration leaves the end open.
func NewTournamentDetail(id string, startsAt time.Time, duration time.Duration) domain.TournamentDetail {
	detail := domain.TournamentDetail{
		ID:       id,
		Name:     "Tournament " + id,
		Category: domain.CategoryBlitz,
		StartsAt: startsAt,
	}
	if duration > 0 {
		finishesAt := startsAt.Add(duration)
		detail.FinishesAt = &finishesAt
	}
	return detail
}
