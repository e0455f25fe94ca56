package app

import (
	"context"
	"errors"
	"testing"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestFindPlayerInStandings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		standing *domain.Standing
	}{
		{
			name: "flat list by username",
			raw:  `[{"username":"first","score":12},{"username":"Somebody","score":9},{"username":"third","score":4}]`,
			standing: &domain.Standing{
				Rank:         2,
				Score:        ptr(9.0),
				TotalPlayers: 3,
			},
		},
		{
			name: "players envelope with points",
			raw:  `{"players":[{"username":"somebody","points":3.5,"is_advancing":true}]}`,
			standing: &domain.Standing{
				Rank:         1,
				Score:        ptr(3.5),
				TotalPlayers: 1,
			},
		},
		{
			name: "nested envelopes",
			raw:  `{"standings":{"players":[{"name":"a"},{"name":"b"},{"name":"SOMEBODY","score":0}]}}`,
			standing: &domain.Standing{
				Rank:         3,
				Score:        ptr(0.0),
				TotalPlayers: 3,
			},
		},
		{
			name: "player field",
			raw:  `[{"player":"other"},{"player":"somebody"}]`,
			standing: &domain.Standing{
				Rank:         2,
				TotalPlayers: 2,
			},
		},
		{
			name: "player object",
			raw:  `[{"player":{"username":"Somebody"},"points":"n/a"}]`,
			standing: &domain.Standing{
				Rank:         1,
				TotalPlayers: 1,
			},
		},
		{
			name:     "player missing",
			raw:      `[{"username":"first"}]`,
			standing: nil,
		},
		{
			name:     "prefix is not a match",
			raw:      `[{"username":"Somebody2"}]`,
			standing: nil,
		},
		{
			name:     "no list",
			raw:      `{"results":[]}`,
			standing: nil,
		},
		{
			name:     "invalid json",
			raw:      `<html>`,
			standing: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			standing, err := FindPlayerInStandings([]byte(tc.raw), USERNAME)
			if tc.standing == nil {
				require.ErrorIs(t, err, domain.ErrStandingsUnavailable)
				require.Nil(t, standing)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.standing, standing)
		})
	}
}

type mockStandingsSource struct {
	t *testing.T

	id  string
	raw []byte
	err error
}

func (m *mockStandingsSource) GetStandings(ctx context.Context, id string) ([]byte, error) {
	require.Equal(m.t, m.id, id)
	return m.raw, m.err
}

func TestFetchStanding(t *testing.T) {
	t.Parallel()

	t.Run("dispatches by platform", func(t *testing.T) {
		t.Parallel()

		lichessSource := &mockStandingsSource{t: t, id: "arena1", raw: []byte(`[{"username":"somebody","score":20}]`)}
		chesscomSource := &mockStandingsSource{t: t, id: "arena1", err: errors.New("should not be called")}

		fetch := BuildFetchStanding(lichessSource, chesscomSource)
		standing, err := fetch(t.Context(), domain.PlatformLichess, "arena1", USERNAME)
		require.NoError(t, err)
		require.Equal(t, 1, standing.Rank)
		require.Equal(t, 20.0, *standing.Score)
	})

	t.Run("source failure", func(t *testing.T) {
		t.Parallel()

		source := &mockStandingsSource{t: t, id: "swiss", err: errors.New("boom")}

		fetch := BuildFetchStanding(source, source)
		standing, err := fetch(t.Context(), domain.PlatformChessCom, "swiss", USERNAME)
		require.ErrorIs(t, err, domain.ErrStandingsUnavailable)
		require.Nil(t, standing)
	})
}
