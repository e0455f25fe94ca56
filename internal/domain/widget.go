package domain

import (
	"fmt"
	"strings"

	"github.com/Amund211/chessoverlay/internal/strutils"
)

type WidgetConfig struct {
	Platform       Platform
	Username       string
	RatingCategory RatingCategory
	ShowSponsor    bool
}

func (c WidgetConfig) Validate() error {
	if _, err := ParsePlatform(string(c.Platform)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidConfig)
	}
	if !strutils.UsernameIsValid(c.Username) {
		return fmt.Errorf("%w: invalid username '%s'", ErrInvalidConfig, c.Username)
	}
	if _, err := ParseRatingCategory(string(c.RatingCategory)); err != nil {
		return err
	}
	if c.Platform == PlatformChessCom && c.RatingCategory == CategoryClassical {
		return fmt.Errorf("%w: chess.com has no classical rating", ErrInvalidConfig)
	}
	if c.Platform == PlatformLichess && c.RatingCategory == CategoryDaily {
		return fmt.Errorf("%w: lichess daily ratings are not tracked", ErrInvalidConfig)
	}
	return nil
}

func (c WidgetConfig) IsConfigured() bool {
	return c.Validate() == nil
}

type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"
	SessionLoading SessionStatus = "loading"
	SessionReady   SessionStatus = "ready"
	SessionError   SessionStatus = "error"
)

// Snapshot is everything a renderer needs to draw the overlay
type Snapshot struct {
	Status SessionStatus
	// Set when Status is SessionError
	Error string
	// Set when the most recent background refresh failed
	LastError string

	Paused              bool
	SecondsUntilRefresh int

	Config       WidgetConfig
	Stats        Stats
	RatingChange int
	ShowSponsor  bool
}
