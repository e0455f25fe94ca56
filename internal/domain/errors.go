package domain

import "errors"

var (
	ErrUserNotFound                = errors.New("user not found")
	ErrGameFetchFailure            = errors.New("could not fetch games")
	ErrTemporarilyUnavailable      = errors.New("temporarily unavailable")
	ErrTournamentDetailUnavailable = errors.New("tournament detail unavailable")
	ErrStandingsUnavailable        = errors.New("standings unavailable")
	ErrDetectionUnavailable        = errors.New("tournament detection unavailable")
	ErrPersistedStateCorrupt       = errors.New("persisted state corrupt")
	ErrStateNotFound               = errors.New("state not found")
	ErrInvalidConfig               = errors.New("invalid config")
	ErrInvalidSponsor              = errors.New("invalid sponsor image")
)
