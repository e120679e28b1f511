package sqlgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

func entities(t *testing.T) (*schema.Entity, *schema.Entity) {
	t.Helper()
	reg := schema.NewRegistry()
	dev := reg.MustRegister(schema.Definition{
		Name:       "developer",
		Fields:     []schema.Field{schema.String("name").NotNull(), schema.Int("followers")},
		LookupKeys: []string{"name"},
	})
	game := reg.MustRegister(schema.Definition{
		Name:       "game",
		Fields:     []schema.Field{schema.Int("app_id"), schema.Bool("on_linux"), schema.Time("released"), schema.Float("score")},
		LookupKeys: []string{"app_id"},
		Relations:  []schema.RelationDef{{Slot: "developer", Target: "developer"}},
	})
	return dev, game
}

func TestCreateTable(t *testing.T) {
	t.Parallel()
	dev, game := entities(t)

	want := "CREATE TABLE IF NOT EXISTS \"developer\" (\n" +
		"\t\"id\" BIGSERIAL PRIMARY KEY,\n" +
		"\t\"name\" TEXT NOT NULL,\n" +
		"\t\"followers\" BIGINT,\n" +
		"\t\"created_at\" TIMESTAMPTZ NOT NULL,\n" +
		"\t\"updated_at\" TIMESTAMPTZ NOT NULL,\n" +
		"\tUNIQUE (\"name\")\n" +
		")"
	assert.Equal(t, want, CreateTable(Postgres, dev))

	ddl := CreateTable(SQLite, game)
	assert.Contains(t, ddl, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Contains(t, ddl, `"developer_id" INTEGER REFERENCES "developer" ("id")`)
	assert.Contains(t, ddl, `"score" REAL`)

	assert.Equal(t, []string{`CREATE INDEX IF NOT EXISTS "game_developer_id_idx" ON "game" ("developer_id")`}, CreateIndexes(game))
	assert.Empty(t, CreateIndexes(dev))
}

func TestFindOne(t *testing.T) {
	t.Parallel()
	dev, _ := entities(t)

	query, args := FindOne(Postgres, dev, store.Filter{{Column: "name", Value: "Valve"}})
	assert.Equal(t, `SELECT "id", "name", "followers", "created_at", "updated_at" FROM "developer" WHERE "name" = $1 LIMIT 1`, query)
	assert.Equal(t, []any{"Valve"}, args)

	query, _ = FindOne(SQLite, dev, store.Filter{{Column: "name", Value: "Valve"}, {Column: "followers", Value: int64(1)}})
	assert.Contains(t, query, `WHERE "name" = ? AND "followers" = ?`)
}

func TestInsertAndUpdate(t *testing.T) {
	t.Parallel()
	_, game := entities(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	row := store.NewRow(game)
	row.Values["app_id"] = int64(70)
	row.Values["developer_id"] = int64(3)

	query, args := Insert(Postgres, row, now)
	assert.Equal(t, `INSERT INTO "game" ("app_id", "on_linux", "released", "score", "developer_id", "created_at", "updated_at") `+
		`VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "id"`, query)
	assert.Equal(t, []any{int64(70), nil, nil, nil, int64(3), now, now}, args)

	row.ID = 9
	query, args = Update(Postgres, row, now)
	assert.Equal(t, `UPDATE "game" SET "app_id" = $1, "on_linux" = $2, "released" = $3, "score" = $4, "developer_id" = $5, "updated_at" = $6 WHERE "id" = $7`, query)
	assert.Equal(t, []any{int64(70), nil, nil, nil, int64(3), now, int64(9)}, args)
}

func TestBuildRowNormalizes(t *testing.T) {
	t.Parallel()
	_, game := entities(t)

	row, err := BuildRow(game, []any{
		int64(1), int64(70), int64(1), "2019-10-04 00:00:00+00:00", int64(3), []byte("7"),
		"2024-05-01 12:00:00+00:00", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.ID)
	assert.Equal(t, true, row.Values["on_linux"])
	assert.Equal(t, 3.0, row.Values["score"])
	assert.Equal(t, int64(7), row.Values["developer_id"])
	assert.True(t, time.Date(2019, 10, 4, 0, 0, 0, 0, time.UTC).Equal(row.Values["released"].(time.Time)))
	assert.Equal(t, 2024, row.CreatedAt.Year())
	assert.True(t, row.Persisted)

	_, err = BuildRow(game, []any{int64(1)})
	assert.Error(t, err)
}

func TestFrontierSQL(t *testing.T) {
	t.Parallel()

	assert.Contains(t, PutPending(Postgres), `VALUES ($1, $2, $3, $4, FALSE, $5)`)
	assert.Contains(t, PutPending(SQLite), `VALUES (?, ?, ?, ?, FALSE, ?)`)
	assert.Contains(t, MarkCompleted(Postgres), `WHERE "crawl_name" = $2 AND "target_hash" = $3`)
	assert.NotContains(t, SelectPending(Postgres, false), "LIMIT")
	assert.Contains(t, SelectPending(Postgres, true), "LIMIT $2")
	assert.Contains(t, CreateFrontier(Postgres), `PRIMARY KEY ("crawl_name", "target_hash")`)
}
