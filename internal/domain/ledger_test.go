package domain_test

import (
	"testing"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestLedgerEffectiveAt(t *testing.T) {
	t.Parallel()

	utcPlusOne := time.FixedZone("UTC+1", 60*60)

	writtenAt := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	ledger := domain.Ledger{
		Adjustments: domain.Adjustments{Wins: 3, Losses: 1, Draws: 2},
		Timestamp:   writtenAt,
	}

	t.Run("same day restores deltas", func(t *testing.T) {
		t.Parallel()

		effective := ledger.EffectiveAt(writtenAt.Add(5*time.Hour), time.UTC)
		require.Equal(t, ledger.Adjustments, effective)
	})

	t.Run("next day yields zero", func(t *testing.T) {
		t.Parallel()

		effective := ledger.EffectiveAt(writtenAt.Add(24*time.Hour), time.UTC)
		require.Equal(t, domain.Adjustments{}, effective)
		require.True(t, effective.IsZero())
	})

	t.Run("day boundary follows the location", func(t *testing.T) {
		t.Parallel()

		lateEvening := domain.Ledger{
			Adjustments: domain.Adjustments{Wins: 1},
			Timestamp:   time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC),
		}
		oneHourLater := lateEvening.Timestamp.Add(time.Hour)

		// 23:30 UTC is still March 10th in UTC, but already March 11th in UTC+1
		require.Equal(t, 1, lateEvening.EffectiveAt(oneHourLater, time.UTC).Wins)
		require.Equal(t, 0, lateEvening.EffectiveAt(oneHourLater, utcPlusOne).Wins)
	})
}
