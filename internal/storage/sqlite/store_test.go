package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *Store
	clock *clock.Manual
	dev   *schema.Entity
	game  *schema.Entity
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg := schema.NewRegistry()
	dev := reg.MustRegister(schema.Definition{
		Name:       "developer",
		Fields:     []schema.Field{schema.String("name").NotNull(), schema.Int("followers")},
		LookupKeys: []string{"name"},
	})
	game := reg.MustRegister(schema.Definition{
		Name:       "game",
		Fields:     []schema.Field{schema.Int("app_id").NotNull(), schema.Bool("on_linux"), schema.Time("released"), schema.Float("score")},
		LookupKeys: []string{"app_id"},
		Relations:  []schema.RelationDef{{Slot: "developer", Target: "developer"}},
	})
	clk := clock.NewManual(testNow)
	s, err := Open(context.Background(), Config{Path: ":memory:"}, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background(), reg.Ordered()))
	return fixture{store: s, clock: clk, dev: dev, game: game}
}

func insert(t *testing.T, s *Store, row *store.Row) error {
	t.Helper()
	return s.WithTx(context.Background(), func(ctx context.Context, tx store.EntityTx) error {
		return tx.Insert(ctx, row)
	})
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dev := store.NewRow(f.dev)
	dev.Values["name"] = "Valve"
	require.NoError(t, insert(t, f.store, dev))
	require.NotZero(t, dev.ID)

	released := time.Date(2007, 10, 10, 0, 0, 0, 0, time.UTC)
	game := store.NewRow(f.game)
	game.Values["app_id"] = int64(400)
	game.Values["on_linux"] = true
	game.Values["released"] = released
	game.Values["score"] = 9.5
	game.Values["developer_id"] = dev.ID
	require.NoError(t, insert(t, f.store, game))

	var found *store.Row
	err := f.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		var err error
		found, err = tx.FindOne(ctx, f.game, store.Filter{{Column: "app_id", Value: int64(400)}})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, game.ID, found.ID)
	assert.Equal(t, true, found.Values["on_linux"])
	assert.Equal(t, 9.5, found.Values["score"])
	assert.Equal(t, dev.ID, found.Values["developer_id"])
	assert.True(t, released.Equal(found.Values["released"].(time.Time)))
	assert.True(t, testNow.Equal(found.CreatedAt))
	assert.True(t, found.Persisted)
}

func TestUpdateRefreshesUpdatedAt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dev := store.NewRow(f.dev)
	dev.Values["name"] = "Valve"
	require.NoError(t, insert(t, f.store, dev))

	f.clock.Advance(time.Hour)
	err := f.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		row, err := tx.FindOne(ctx, f.dev, store.Filter{{Column: "name", Value: "Valve"}})
		if err != nil {
			return err
		}
		row.Values["followers"] = int64(12)
		return tx.Update(ctx, row)
	})
	require.NoError(t, err)

	rows, err := f.store.List(ctx, f.dev, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(12), rows[0].Values["followers"])
	assert.True(t, testNow.Equal(rows[0].CreatedAt))
	assert.True(t, testNow.Add(time.Hour).Equal(rows[0].UpdatedAt))
}

func TestFindOneMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.EntityTx) error {
		_, err := tx.FindOne(ctx, f.dev, store.Filter{{Column: "name", Value: "nobody"}})
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConstraintViolationsAreIntegrityErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := store.NewRow(f.dev)
	first.Values["name"] = "Valve"
	require.NoError(t, insert(t, f.store, first))

	dup := store.NewRow(f.dev)
	dup.Values["name"] = "Valve"
	err := insert(t, f.store, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIntegrity)

	orphan := store.NewRow(f.game)
	orphan.Values["app_id"] = int64(1)
	orphan.Values["developer_id"] = int64(999)
	err = insert(t, f.store, orphan)
	assert.ErrorIs(t, err, store.ErrIntegrity)

	missing := store.NewRow(f.dev)
	err = insert(t, f.store, missing)
	assert.ErrorIs(t, err, store.ErrIntegrity)
}

func TestRollbackOnError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("boom")

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.EntityTx) error {
		row := store.NewRow(f.dev)
		row.Values["name"] = "Valve"
		if err := tx.Insert(ctx, row); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := f.store.List(context.Background(), f.dev, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFrontier(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, e := range []store.FrontierEntry{
		{CrawlName: "steam", TargetHash: "a", Target: "https://example.com/a", ResumeTag: "parse_game"},
		{CrawlName: "steam", TargetHash: "b", Target: "https://example.com/b"},
		{CrawlName: "other", TargetHash: "a", Target: "https://example.com/a"},
	} {
		require.NoError(t, f.store.PutPending(ctx, e))
	}

	ok, err := f.store.MarkCompleted(ctx, "steam", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.store.MarkCompleted(ctx, "steam", "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := f.store.ListPending(ctx, "steam", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].TargetHash)
	assert.False(t, pending[0].Completed)

	// Re-enqueueing a completed target starts a fresh pending cycle.
	require.NoError(t, f.store.PutPending(ctx, store.FrontierEntry{
		CrawlName: "steam", TargetHash: "a", Target: "https://example.com/a", ResumeTag: "parse_dev",
	}))
	var tags []string
	err = f.store.ScanPending(ctx, "steam", func(e store.FrontierEntry) bool {
		tags = append(tags, e.ResumeTag)
		return true
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"parse_dev", ""}, tags)

	limited, err := f.store.ListPending(ctx, "steam", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	other, err := f.store.ListPending(ctx, "other", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestReconnectAndClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Reconnect(ctx, Config{Path: ":memory:"}))
	// A fresh in-memory database has no tables.
	_, err := f.store.List(ctx, f.dev, 1, 0)
	assert.Error(t, err)

	require.NoError(t, f.store.Close())
	_, err = f.store.List(ctx, f.dev, 1, 0)
	assert.Error(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
