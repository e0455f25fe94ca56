package app

import (
	"github.com/Amund211/chessoverlay/internal/domain"
)

// ApplyAdjustment returns stats with one manual adjustment applied, and whether anything changed.
//
// A decrease is only applied while the counter is positive. It removes the most recent
// matching entry from Last10.
func ApplyAdjustment(stats domain.Stats, adjustmentType domain.AdjustmentType, action domain.AdjustmentAction) (domain.Stats, bool) {
	updated := stats.Clone()
	counter := updated.Counter(adjustmentType)
	delta := updated.Adjustments.Counter(adjustmentType)
	result := adjustmentType.Result()

	switch action {
	case domain.ActionIncrease:
		*counter++
		*delta++
		updated.Last10 = domain.PrependResult(updated.Last10, result)
	case domain.ActionDecrease:
		if *counter <= 0 {
			return stats.Clone(), false
		}
		*counter--
		*delta--
		updated.Last10, _ = domain.RemoveFirstResult(updated.Last10, result)
	default:
		return stats.Clone(), false
	}

	updated.Recompute()
	return updated, true
}

// ResetAll zeroes the counters, the adjustments and the recent results
func ResetAll(stats domain.Stats) domain.Stats {
	reset := stats.Clone()
	reset.Wins = 0
	reset.Losses = 0
	reset.Draws = 0
	reset.Adjustments = domain.Adjustments{}
	reset.Last10 = []domain.Result{}
	reset.Recompute()
	return reset
}

// MergeReduction replaces the game derived fields of stats with the reduction, with the
// adjustments added on top of the counters. Counters never go below zero.
func MergeReduction(stats domain.Stats, reduction domain.Reduction, adjustments domain.Adjustments) domain.Stats {
	merged := stats.Clone()
	merged.Wins = max(0, reduction.Wins+adjustments.Wins)
	merged.Losses = max(0, reduction.Losses+adjustments.Losses)
	merged.Draws = max(0, reduction.Draws+adjustments.Draws)
	merged.Last10 = append([]domain.Result{}, reduction.Last10...)
	merged.Adjustments = adjustments
	merged.Recompute()
	return merged
}
