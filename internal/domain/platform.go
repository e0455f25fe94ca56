package domain

import "fmt"

type Platform string

const (
	PlatformLichess  Platform = "lichess"
	PlatformChessCom Platform = "chesscom"
)

func ParsePlatform(raw string) (Platform, error) {
	switch Platform(raw) {
	case PlatformLichess, PlatformChessCom:
		return Platform(raw), nil
	}
	return "", fmt.Errorf("%w: unknown platform '%s'", ErrInvalidConfig, raw)
}

// The rating reported when a player has no rated games in any category
func (p Platform) DefaultRating() int {
	if p == PlatformChessCom {
		return 1200
	}
	return 1500
}

func (p Platform) DefaultTournamentName() string {
	if p == PlatformChessCom {
		return "Chess.com Tournament"
	}
	return "Lichess Tournament"
}
