package domaintest

import (
	"fmt"
	"strings"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
)

type gameBuilder struct {
	game *domain.GameRecord
}

func (gb *gameBuilder) WithWhite(name string) *gameBuilder {
	gb.game.White = domain.PlayerIdentity{ID: strings.ToLower(name), Name: name}
	return gb
}

func (gb *gameBuilder) WithBlack(name string) *gameBuilder {
	gb.game.Black = domain.PlayerIdentity{ID: strings.ToLower(name), Name: name}
	return gb
}

func (gb *gameBuilder) WithResults(white, black string) *gameBuilder {
	gb.game.WhiteResult = white
	gb.game.BlackResult = black
	return gb
}

func (gb *gameBuilder) WithWinner(winner domain.Color, status string) *gameBuilder {
	gb.game.Winner = winner
	gb.game.Status = status
	return gb
}

func (gb *gameBuilder) WithTournament(id string) *gameBuilder {
	gb.game.TournamentID = id
	return gb
}

func (gb *gameBuilder) Build() domain.GameRecord {
	return *gb.game
}

func NewGameBuilder(id string, endTime time.Time) *gameBuilder {
	return &gameBuilder{
		game: &domain.GameRecord{
			ID:          id,
			EndTime:     endTime,
			White:       domain.PlayerIdentity{ID: "white", Name: "White"},
			Black:       domain.PlayerIdentity{ID: "black", Name: "Black"},
			TimeControl: "180+2",
		},
	}
}

// NewChessComGame builds a game where username played white with the given outcome
func NewChessComGame(username string, index int, endTime time.Time, result domain.Result) domain.GameRecord {
	builder := NewGameBuilder(fmt.Sprintf("https://www.chess.com/game/live/%d", 1000+index), endTime).
		WithWhite(username).
		WithBlack(fmt.Sprintf("opponent%d", index))

	switch result {
	case domain.ResultWin:
		builder.WithResults("win", "resigned")
	case domain.ResultLoss:
		builder.WithResults("checkmated", "win")
	case domain.ResultDraw:
		builder.WithResults("agreed", "agreed")
	}
	builder.game.White.ID = ""
	builder.game.Black.ID = ""

	return builder.Build()
}

// NewLichessGame builds a game where username played black with the given outcome
func NewLichessGame(username string, index int, endTime time.Time, result domain.Result) domain.GameRecord {
	builder := NewGameBuilder(fmt.Sprintf("game%04d", index), endTime).
		WithWhite(fmt.Sprintf("Opponent%d", index)).
		WithBlack(username)

	switch result {
	case domain.ResultWin:
		builder.WithWinner(domain.ColorBlack, "resign")
	case domain.ResultLoss:
		builder.WithWinner(domain.ColorWhite, "mate")
	case domain.ResultDraw:
		builder.WithWinner(domain.ColorNone, "draw")
	}

	return builder.Build()
}
