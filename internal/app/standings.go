package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/strutils"
)

type FetchStanding func(ctx context.Context, platform domain.Platform, tournamentID string, username string) (*domain.Standing, error)

type standingsSource interface {
	GetStandings(ctx context.Context, id string) ([]byte, error)
}

var standingsEnvelopeKeys = []string{"players", "standings"}
var standingsNameKeys = []string{"name", "username", "player"}
var standingsScoreKeys = []string{"score", "points"}

// Unwraps {players: ...} and {standings: ...} envelopes until a list is found
func unwrapStandings(document any) ([]any, bool) {
	switch value := document.(type) {
	case []any:
		return value, true
	case map[string]any:
		for _, key := range standingsEnvelopeKeys {
			if inner, ok := value[key]; ok {
				return unwrapStandings(inner)
			}
		}
	}
	return nil, false
}

func entryName(entry map[string]any, key string) string {
	switch value := entry[key].(type) {
	case string:
		return value
	case map[string]any:
		// {player: {username: ...}}
		for _, nested := range standingsNameKeys[:2] {
			if name, ok := value[nested].(string); ok {
				return name
			}
		}
	}
	return ""
}

func entryMatches(entry map[string]any, username string) bool {
	for _, key := range standingsNameKeys {
		if strutils.SameUsername(entryName(entry, key), username) {
			return true
		}
	}
	return false
}

func entryScore(entry map[string]any) *float64 {
	for _, key := range standingsScoreKeys {
		raw, ok := entry[key]
		if !ok {
			continue
		}
		if number, ok := raw.(json.Number); ok {
			if score, err := number.Float64(); err == nil {
				return &score
			}
		}
	}
	return nil
}

// FindPlayerInStandings locates username in a standings document.
// The rank is the position in the list, starting at 1.
func FindPlayerInStandings(raw []byte, username string) (*domain.Standing, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("%w: could not decode standings: %w", domain.ErrStandingsUnavailable, err)
	}

	entries, ok := unwrapStandings(document)
	if !ok {
		return nil, fmt.Errorf("%w: no standings list in document", domain.ErrStandingsUnavailable)
	}

	for index, rawEntry := range entries {
		entry, ok := rawEntry.(map[string]any)
		if !ok || !entryMatches(entry, username) {
			continue
		}
		return &domain.Standing{
			Rank:         index + 1,
			Score:        entryScore(entry),
			TotalPlayers: len(entries),
		}, nil
	}

	return nil, fmt.Errorf("%w: player not found in standings", domain.ErrStandingsUnavailable)
}

func BuildFetchStanding(lichessSource standingsSource, chesscomSource standingsSource) FetchStanding {
	return func(ctx context.Context, platform domain.Platform, tournamentID string, username string) (*domain.Standing, error) {
		var source standingsSource
		switch platform {
		case domain.PlatformLichess:
			source = lichessSource
		case domain.PlatformChessCom:
			source = chesscomSource
		default:
			return nil, fmt.Errorf("%w: unknown platform '%s'", domain.ErrStandingsUnavailable, platform)
		}

		raw, err := source.GetStandings(ctx, tournamentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStandingsUnavailable, err)
		}

		return FindPlayerInStandings(raw, username)
	}
}
