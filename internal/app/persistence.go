package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/chessoverlay/internal/adapters/staterepository"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/reporting"
)

type stateRepository interface {
	GetState(ctx context.Context, key string) ([]byte, error)
	StoreState(ctx context.Context, key string, value []byte) error
	DeleteState(ctx context.Context, key string) error
}

// loadDocument reads and decodes the document stored under key.
// Returns false when nothing is stored. Undecodable documents are reported and treated as missing.
func loadDocument[T any](ctx context.Context, repo stateRepository, key string) (T, bool, error) {
	var document T

	raw, err := repo.GetState(ctx, key)
	if errors.Is(err, domain.ErrStateNotFound) {
		return document, false, nil
	}
	if err != nil {
		return document, false, fmt.Errorf("could not load %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, &document); err != nil {
		var zero T
		err := fmt.Errorf("%w: %s: %w", domain.ErrPersistedStateCorrupt, key, err)
		reporting.Report(ctx, err, map[string]string{
			"key":   key,
			"value": truncate(string(raw), 200),
		})
		return zero, false, nil
	}

	return document, true, nil
}

func storeDocument(ctx context.Context, repo stateRepository, key string, document any) error {
	raw, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", key, err)
	}
	if err := repo.StoreState(ctx, key, raw); err != nil {
		return fmt.Errorf("could not store %s: %w", key, err)
	}
	return nil
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length]
}

type ledgerDocument struct {
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	Timestamp time.Time `json:"timestamp"`
}

type configDocument struct {
	Platform       string `json:"platform"`
	Username       string `json:"username"`
	RatingCategory string `json:"ratingCategory"`
	ShowSponsor    bool   `json:"showSponsor"`
}

func configDocumentFromDomain(cfg domain.WidgetConfig) configDocument {
	return configDocument{
		Platform:       string(cfg.Platform),
		Username:       cfg.Username,
		RatingCategory: string(cfg.RatingCategory),
		ShowSponsor:    cfg.ShowSponsor,
	}
}

func (d configDocument) toDomain() domain.WidgetConfig {
	return domain.WidgetConfig{
		Platform:       domain.Platform(d.Platform),
		Username:       d.Username,
		RatingCategory: domain.RatingCategory(d.RatingCategory),
		ShowSponsor:    d.ShowSponsor,
	}
}

type sponsorDocument struct {
	DataURL string `json:"dataURL"`
}

// LedgerStore persists the manual adjustments for the current calendar day
type LedgerStore struct {
	repo     stateRepository
	location *time.Location
}

func NewLedgerStore(repo stateRepository, location *time.Location) *LedgerStore {
	if location == nil {
		location = time.Local
	}
	return &LedgerStore{repo: repo, location: location}
}

// Load returns the adjustments in effect at now. Entries from another day are ignored.
func (s *LedgerStore) Load(ctx context.Context, now time.Time) (domain.Adjustments, error) {
	document, ok, err := loadDocument[ledgerDocument](ctx, s.repo, staterepository.KEY_ADJUSTMENTS)
	if err != nil {
		return domain.Adjustments{}, err
	}
	if !ok {
		return domain.Adjustments{}, nil
	}

	ledger := domain.Ledger{
		Adjustments: domain.Adjustments{
			Wins:   document.Wins,
			Losses: document.Losses,
			Draws:  document.Draws,
		},
		Timestamp: document.Timestamp,
	}
	return ledger.EffectiveAt(now, s.location), nil
}

func (s *LedgerStore) Store(ctx context.Context, adjustments domain.Adjustments, now time.Time) error {
	return storeDocument(ctx, s.repo, staterepository.KEY_ADJUSTMENTS, ledgerDocument{
		Wins:      adjustments.Wins,
		Losses:    adjustments.Losses,
		Draws:     adjustments.Draws,
		Timestamp: now,
	})
}

func (s *LedgerStore) Clear(ctx context.Context) error {
	if err := s.repo.DeleteState(ctx, staterepository.KEY_ADJUSTMENTS); err != nil {
		return fmt.Errorf("could not clear adjustments: %w", err)
	}
	return nil
}
