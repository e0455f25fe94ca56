package app

import (
	"slices"
	"strings"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/strutils"
)

// Games considered by the reducer
const reduceWindow = 50

var lichessDrawStatuses = []string{"draw", "stalemate"}

var chesscomDrawResults = []string{
	"agreed",
	"stalemate",
	"repetition",
	"insufficient",
	"50move",
	"timevsinsufficient",
}

func identityMatches(identity domain.PlayerIdentity, username string) bool {
	return strutils.SameUsername(identity.ID, username) || strutils.SameUsername(identity.Name, username)
}

func classifyLichessGame(game domain.GameRecord, username string) (domain.Result, bool) {
	var color domain.Color
	switch {
	case identityMatches(game.White, username):
		color = domain.ColorWhite
	case identityMatches(game.Black, username):
		color = domain.ColorBlack
	default:
		return "", false
	}

	if game.Winner == domain.ColorNone || slices.Contains(lichessDrawStatuses, strings.ToLower(game.Status)) {
		return domain.ResultDraw, true
	}
	if game.Winner == color {
		return domain.ResultWin, true
	}
	return domain.ResultLoss, true
}

func classifyChessComGame(game domain.GameRecord, username string) (domain.Result, bool) {
	var own string
	switch {
	case identityMatches(game.White, username):
		own = game.WhiteResult
	case identityMatches(game.Black, username):
		own = game.BlackResult
	default:
		return "", false
	}

	if own == "win" {
		return domain.ResultWin, true
	}
	if slices.Contains(chesscomDrawResults, game.WhiteResult) || slices.Contains(chesscomDrawResults, game.BlackResult) {
		return domain.ResultDraw, true
	}
	return domain.ResultLoss, true
}

// Reduce counts results for username over the 50 most recent games.
// Games the player did not take part in are ignored. The input is not modified.
func Reduce(games []domain.GameRecord, platform domain.Platform, username string) domain.Reduction {
	ordered := slices.Clone(games)
	slices.SortStableFunc(ordered, func(a, b domain.GameRecord) int {
		return a.EndTime.Compare(b.EndTime)
	})
	if len(ordered) > reduceWindow {
		ordered = ordered[len(ordered)-reduceWindow:]
	}

	classify := classifyLichessGame
	if platform == domain.PlatformChessCom {
		classify = classifyChessComGame
	}

	reduction := domain.Reduction{Last10: []domain.Result{}}
	for _, game := range ordered {
		result, ok := classify(game, username)
		if !ok {
			continue
		}

		switch result {
		case domain.ResultWin:
			reduction.Wins++
		case domain.ResultLoss:
			reduction.Losses++
		case domain.ResultDraw:
			reduction.Draws++
		}
		reduction.Last10 = domain.PrependResult(reduction.Last10, result)
	}

	reduction.Score = float64(reduction.Wins) + 0.5*float64(reduction.Draws)
	reduction.TotalGames = reduction.Wins + reduction.Losses + reduction.Draws
	reduction.CurrentStreak, reduction.StreakType = domain.ComputeStreak(reduction.Last10)

	return reduction
}
