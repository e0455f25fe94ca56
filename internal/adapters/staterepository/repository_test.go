package staterepository

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/Amund211/chessoverlay/internal/adapters/database"
	"github.com/Amund211/chessoverlay/internal/domain"
)

func newSQLiteStateRepository(t *testing.T, now time.Time) (*SQLStateRepository, *sqlx.DB) {
	t.Helper()

	db, err := database.NewSQLiteDatabase(database.SQLITE_IN_MEMORY)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NoError(t, database.NewDatabaseMigrator(db, logger).Migrate(t.Context(), database.MAIN_SCHEMA))

	return NewSQLStateRepository(db, database.MAIN_SCHEMA, func() time.Time { return now }), db
}

func newPostgresStateRepository(t *testing.T, db *sqlx.DB, schema string, now time.Time) *SQLStateRepository {
	t.Helper()

	db.MustExec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schema)))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NoError(t, database.NewDatabaseMigrator(db, logger).Migrate(t.Context(), schema))

	return NewSQLStateRepository(db, schema, func() time.Time { return now })
}

func testStateRepository(t *testing.T, r StateRepository) {
	ctx := t.Context()

	_, err := r.GetState(ctx, KEY_CONFIG)
	require.ErrorIs(t, err, domain.ErrStateNotFound)

	require.NoError(t, r.StoreState(ctx, KEY_CONFIG, []byte(`{"platform":"lichess"}`)))
	value, err := r.GetState(ctx, KEY_CONFIG)
	require.NoError(t, err)
	require.JSONEq(t, `{"platform":"lichess"}`, string(value))

	// Overwrite
	require.NoError(t, r.StoreState(ctx, KEY_CONFIG, []byte(`{"platform":"chesscom"}`)))
	value, err = r.GetState(ctx, KEY_CONFIG)
	require.NoError(t, err)
	require.JSONEq(t, `{"platform":"chesscom"}`, string(value))

	// Keys are independent
	require.NoError(t, r.StoreState(ctx, KEY_ADJUSTMENTS, []byte(`{"wins":1}`)))
	require.NoError(t, r.DeleteState(ctx, KEY_CONFIG))
	_, err = r.GetState(ctx, KEY_CONFIG)
	require.ErrorIs(t, err, domain.ErrStateNotFound)
	value, err = r.GetState(ctx, KEY_ADJUSTMENTS)
	require.NoError(t, err)
	require.JSONEq(t, `{"wins":1}`, string(value))

	// Deleting a missing key is fine
	require.NoError(t, r.DeleteState(ctx, KEY_SPONSOR))
}

func TestSQLiteStateRepository(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		r, _ := newSQLiteStateRepository(t, now)
		testStateRepository(t, r)
	})

	t.Run("records the update time", func(t *testing.T) {
		t.Parallel()

		r, db := newSQLiteStateRepository(t, now)
		require.NoError(t, r.StoreState(t.Context(), KEY_SPONSOR, []byte(`"data:image/png;base64,AAAA"`)))

		var updatedAt int64
		require.NoError(t, db.GetContext(t.Context(), &updatedAt, "SELECT updated_at FROM widget_state WHERE key = ?", KEY_SPONSOR))
		require.Equal(t, now.UnixMilli(), updatedAt)
	})
}

func TestPostgresStateRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping db tests in short mode.")
	}
	t.Parallel()

	db, err := database.NewPostgresDatabase(database.LOCAL_CONNECTION_STRING)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r := newPostgresStateRepository(t, db, "state_round_trip", now)
	testStateRepository(t, r)
}
