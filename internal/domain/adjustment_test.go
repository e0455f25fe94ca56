package domain_test

import (
	"testing"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestParseAdjustment(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"wins", "losses", "draws"} {
		parsed, err := domain.ParseAdjustmentType(raw)
		require.NoError(t, err)
		require.Equal(t, domain.AdjustmentType(raw), parsed)
	}
	_, err := domain.ParseAdjustmentType("win")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	for _, raw := range []string{"increase", "decrease"} {
		parsed, err := domain.ParseAdjustmentAction(raw)
		require.NoError(t, err)
		require.Equal(t, domain.AdjustmentAction(raw), parsed)
	}
	_, err = domain.ParseAdjustmentAction("add")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestAdjustmentTypeResult(t *testing.T) {
	t.Parallel()

	require.Equal(t, domain.ResultWin, domain.AdjustWins.Result())
	require.Equal(t, domain.ResultLoss, domain.AdjustLosses.Result())
	require.Equal(t, domain.ResultDraw, domain.AdjustDraws.Result())
}

func TestAdjustmentsCounter(t *testing.T) {
	t.Parallel()

	adjustments := domain.Adjustments{}
	*adjustments.Counter(domain.AdjustWins) += 2
	*adjustments.Counter(domain.AdjustLosses) -= 1
	*adjustments.Counter(domain.AdjustDraws) += 3
	require.Equal(t, domain.Adjustments{Wins: 2, Losses: -1, Draws: 3}, adjustments)
}
