package strutils

import (
	"regexp"
	"strings"
)

var validUsernameRx = regexp.MustCompile(`^[A-Za-z0-9_-]{2,30}$`)

// Trims whitespace and converts to lowercase. Both platforms treat usernames case insensitively.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func UsernameIsValid(username string) bool {
	return validUsernameRx.MatchString(strings.TrimSpace(username))
}

func SameUsername(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

var tournamentIDRx = regexp.MustCompile(`/(?:tournament|arena)/(?:live/)?(?:arena/)?([A-Za-z0-9_-]+)`)

// Extracts the tournament id from a chess.com tournament or arena url
//
// https://www.chess.com/tournament/live/arena/late-titled-arena-4165281 -> late-titled-arena-4165281
// https://api.chess.com/pub/tournament/-33rd-chesscom-quick-knockouts-1401-1600 -> -33rd-chesscom-quick-knockouts-1401-1600
func TournamentIDFromURL(url string) (string, bool) {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	match := tournamentIDRx.FindStringSubmatch(url)
	if match == nil || match[1] == "live" || match[1] == "arena" {
		return "", false
	}
	return match[1], true
}
