package domain

import "time"

type Color string

const (
	ColorNone  Color = ""
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

type PlayerIdentity struct {
	// Lowercase account id. Empty when the platform only reports a display name.
	ID   string
	Name string
}

// GameRecord is a finished game normalized from either platform.
//
// Lichess games carry Winner and Status. Chess.com games carry per-side results.
type GameRecord struct {
	ID      string
	EndTime time.Time
	// Zero when the platform does not report it
	StartTime time.Time

	White PlayerIdentity
	Black PlayerIdentity

	WhiteResult string
	BlackResult string

	Winner Color
	Status string

	TournamentID string
	TimeControl  string
}
