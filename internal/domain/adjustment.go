package domain

import "fmt"

type AdjustmentType string

const (
	AdjustWins   AdjustmentType = "wins"
	AdjustLosses AdjustmentType = "losses"
	AdjustDraws  AdjustmentType = "draws"
)

func ParseAdjustmentType(raw string) (AdjustmentType, error) {
	switch AdjustmentType(raw) {
	case AdjustWins, AdjustLosses, AdjustDraws:
		return AdjustmentType(raw), nil
	}
	return "", fmt.Errorf("%w: unknown adjustment type '%s'", ErrInvalidConfig, raw)
}

// Result is the synthetic game result recorded for an adjustment of this type
func (t AdjustmentType) Result() Result {
	switch t {
	case AdjustWins:
		return ResultWin
	case AdjustLosses:
		return ResultLoss
	default:
		return ResultDraw
	}
}

type AdjustmentAction string

const (
	ActionIncrease AdjustmentAction = "increase"
	ActionDecrease AdjustmentAction = "decrease"
)

func ParseAdjustmentAction(raw string) (AdjustmentAction, error) {
	switch AdjustmentAction(raw) {
	case ActionIncrease, ActionDecrease:
		return AdjustmentAction(raw), nil
	}
	return "", fmt.Errorf("%w: unknown adjustment action '%s'", ErrInvalidConfig, raw)
}

// Counter returns a pointer to the counter of the given type
func (a *Adjustments) Counter(t AdjustmentType) *int {
	switch t {
	case AdjustWins:
		return &a.Wins
	case AdjustLosses:
		return &a.Losses
	default:
		return &a.Draws
	}
}

// Reduction is the outcome of reducing a batch of games
type Reduction struct {
	Wins   int
	Losses int
	Draws  int

	// Most recent first
	Last10        []Result
	CurrentStreak int
	StreakType    Result

	Score      float64
	TotalGames int
}
