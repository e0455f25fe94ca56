package domain

import "slices"

type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultDraw Result = "draw"
)

const Last10Capacity = 10

// PrependResult returns a new sequence with result at the front, evicting the oldest entries
func PrependResult(last10 []Result, result Result) []Result {
	updated := make([]Result, 0, Last10Capacity)
	updated = append(updated, result)
	updated = append(updated, last10...)
	if len(updated) > Last10Capacity {
		updated = updated[:Last10Capacity]
	}
	return updated
}

// RemoveFirstResult removes the first occurrence of result, returning a new sequence
func RemoveFirstResult(last10 []Result, result Result) ([]Result, bool) {
	index := slices.Index(last10, result)
	if index == -1 {
		return slices.Clone(last10), false
	}
	return slices.Delete(slices.Clone(last10), index, index+1), true
}

// ComputeStreak counts the consecutive identical results at the front of a most-recent-first sequence.
//
// A leading draw breaks any streak and yields (0, ResultWin).
func ComputeStreak(last10 []Result) (int, Result) {
	if len(last10) == 0 || last10[0] == ResultDraw {
		return 0, ResultWin
	}

	leading := last10[0]
	count := 0
	for _, result := range last10 {
		if result != leading {
			break
		}
		count++
	}
	return count, leading
}
