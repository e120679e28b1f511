package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, *schema.Entity) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s, err := NewWithPool(mock, clock.NewManual(testNow))
	require.NoError(t, err)
	dev := schema.NewRegistry().MustRegister(schema.Definition{
		Name:       "developer",
		Fields:     []schema.Field{schema.String("name").NotNull(), schema.Int("followers")},
		LookupKeys: []string{"name"},
	})
	return s, mock, dev
}

var rowColumns = []string{"id", "name", "followers", "created_at", "updated_at"}

func TestWithTxInsertsMissingRow(t *testing.T) {
	t.Parallel()
	s, mock, dev := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id", "name", "followers", "created_at", "updated_at" FROM "developer" WHERE "name" = \$1 LIMIT 1`).
		WithArgs("Valve").
		WillReturnRows(pgxmock.NewRows(rowColumns))
	mock.ExpectQuery(`INSERT INTO "developer"`).
		WithArgs("Valve", int64(10), testNow, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCommit()

	var row *store.Row
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.EntityTx) error {
		_, err := tx.FindOne(ctx, dev, store.Filter{{Column: "name", Value: "Valve"}})
		require.ErrorIs(t, err, store.ErrNotFound)
		row = store.NewRow(dev)
		row.Values["name"] = "Valve"
		row.Values["followers"] = int64(10)
		return tx.Insert(ctx, row)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), row.ID)
	assert.Equal(t, testNow, row.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxUpdatesExistingRow(t *testing.T) {
	t.Parallel()
	s, mock, dev := newTestStore(t)
	created := testNow.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "developer"`).
		WithArgs("Valve").
		WillReturnRows(pgxmock.NewRows(rowColumns).AddRow(int64(4), "Valve", int64(10), created, created))
	mock.ExpectExec(`UPDATE "developer" SET "name" = \$1, "followers" = \$2, "updated_at" = \$3 WHERE "id" = \$4`).
		WithArgs("Valve", int64(11), testNow, int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.EntityTx) error {
		row, err := tx.FindOne(ctx, dev, store.Filter{{Column: "name", Value: "Valve"}})
		if err != nil {
			return err
		}
		assert.Equal(t, created, row.CreatedAt)
		row.Values["followers"] = int64(11)
		return tx.Update(ctx, row)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	s, mock, dev := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "developer"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.EntityTx) error {
		row := store.NewRow(dev)
		row.Values["name"] = "Valve"
		return tx.Insert(ctx, row)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIntegrity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxBeginFailureIsTransient(t *testing.T) {
	t.Parallel()
	s, mock, _ := newTestStore(t)

	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	err := s.WithTx(context.Background(), func(context.Context, store.EntityTx) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, store.ErrTransient)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	t.Parallel()
	s, mock, dev := newTestStore(t)

	mock.ExpectQuery(`SELECT .* FROM "developer" ORDER BY "id" LIMIT \$1 OFFSET \$2`).
		WithArgs(2, 0).
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow(int64(1), "Valve", nil, testNow, testNow).
			AddRow(int64(2), "Bungie", int64(5), testNow, testNow))

	rows, err := s.List(context.Background(), dev, 2, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Values["followers"])
	assert.Equal(t, int64(5), rows[1].Values["followers"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	s, mock, dev := newTestStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "developer"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "frontier"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "frontier_pending_idx"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background(), []*schema.Entity{dev}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFrontierOps(t *testing.T) {
	t.Parallel()
	s, mock, _ := newTestStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO "frontier"`).
		WithArgs("steam", "abc", "https://example.com/a", "parse_game", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE "frontier" SET "completed" = TRUE`).
		WithArgs(testNow, "steam", "abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "frontier" SET "completed" = TRUE`).
		WithArgs(testNow, "steam", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .* FROM "frontier" WHERE "crawl_name" = \$1 AND "completed" = FALSE`).
		WithArgs("steam").
		WillReturnRows(pgxmock.NewRows([]string{"crawl_name", "target_hash", "target", "resume_tag", "completed", "updated_at"}).
			AddRow("steam", "def", "https://example.com/b", "", false, testNow).
			AddRow("steam", "ghi", "https://example.com/c", "parse_game", false, testNow))

	require.NoError(t, s.PutPending(ctx, store.FrontierEntry{
		CrawlName: "steam", TargetHash: "abc", Target: "https://example.com/a", ResumeTag: "parse_game",
	}))
	ok, err := s.MarkCompleted(ctx, "steam", "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkCompleted(ctx, "steam", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	var seen []string
	err = s.ScanPending(ctx, "steam", func(e store.FrontierEntry) bool {
		seen = append(seen, e.TargetHash)
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"def"}, seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: store.ErrIntegrity},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, want: store.ErrIntegrity},
		{name: "connection", err: &pgconn.PgError{Code: "08003"}, want: store.ErrTransient},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: store.ErrTransient},
		{name: "shutdown", err: &pgconn.PgError{Code: "57P01"}, want: store.ErrTransient},
		{name: "deadline", err: context.DeadlineExceeded, want: store.ErrTransient},
	}
	for _, tt := range tests {
		got := classify("op", tt.err)
		assert.ErrorIs(t, got, tt.want, tt.name)
	}

	syntax := classify("op", &pgconn.PgError{Code: "42601"})
	assert.False(t, errors.Is(syntax, store.ErrIntegrity))
	assert.False(t, errors.Is(syntax, store.ErrTransient))
	assert.Nil(t, classify("op", nil))
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	s, mock, dev := newTestStore(t)
	mock.ExpectClose()

	require.NoError(t, s.Close())
	_, err := s.List(context.Background(), dev, 1, 0)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	assert.Error(t, err)
}

func TestSwapClosesOldPool(t *testing.T) {
	t.Parallel()
	s, old, _ := newTestStore(t)
	replacement, err := pgxmock.NewPool()
	require.NoError(t, err)
	old.ExpectClose()

	s.swap(replacement)
	require.NoError(t, old.ExpectationsWereMet())
}
