package frontier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/scrape-ledger/internal/hash/sha256"
	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlite"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

func newFrontier(t *testing.T, logger *zap.Logger, opts ...Option) *Frontier {
	t.Helper()
	st, err := sqlite.Open(context.Background(), sqlite.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background(), nil))
	f, err := New(st, sha256.New(), logger, opts...)
	require.NoError(t, err)
	return f
}

func pendingTargets(t *testing.T, f *Frontier, crawl string) []string {
	t.Helper()
	var out []string
	for entry, err := range f.Pending(context.Background(), crawl) {
		require.NoError(t, err)
		out = append(out, entry.Target)
	}
	return out
}

func TestEnqueueAndComplete(t *testing.T) {
	t.Parallel()
	f := newFrontier(t, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/a", "parse_game"))
	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/b", ""))
	assert.ElementsMatch(t, []string{"https://example.com/a", "https://example.com/b"}, pendingTargets(t, f, "steam"))

	require.NoError(t, f.Complete(ctx, "steam", "https://example.com/a"))
	assert.Equal(t, []string{"https://example.com/b"}, pendingTargets(t, f, "steam"))

	// Completing an unknown target is a no-op.
	require.NoError(t, f.Complete(ctx, "steam", "https://example.com/never"))
	assert.Equal(t, []string{"https://example.com/b"}, pendingTargets(t, f, "steam"))
	assert.Empty(t, pendingTargets(t, f, "other"))
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFrontier(t, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/a", "parse_game"))
	}
	entries, err := f.List(ctx, "steam", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sha256.New().HashString("https://example.com/a"), entries[0].TargetHash)
	assert.Equal(t, "parse_game", entries[0].ResumeTag)
}

func TestReenqueueCompletedBecomesPending(t *testing.T) {
	t.Parallel()
	f := newFrontier(t, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/a", "parse_game"))
	require.NoError(t, f.Complete(ctx, "steam", "https://example.com/a"))
	require.Empty(t, pendingTargets(t, f, "steam"))

	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/a", "parse_developer"))
	entries, err := f.List(ctx, "steam", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "parse_developer", entries[0].ResumeTag)
}

func TestPendingIsRestartableAndStoppable(t *testing.T) {
	t.Parallel()
	f := newFrontier(t, zap.NewNop())
	ctx := context.Background()

	for _, target := range []string{"a", "b", "c"} {
		require.NoError(t, f.Enqueue(ctx, "steam", target, ""))
	}
	seq := f.Pending(ctx, "steam")
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	n = 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)
}

func TestResumeDispatchesByTag(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.WarnLevel)
	skips := &recorder{}
	f := newFrontier(t, zap.New(core), WithObserver(skips))
	ctx := context.Background()

	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/search", ""))
	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/app/1", "parse_game"))
	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/app/2", "parse_game"))
	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/legacy", "parse_legacy"))
	require.NoError(t, f.Enqueue(ctx, "steam", "https://example.com/app/3", "parse_game"))
	require.NoError(t, f.Complete(ctx, "steam", "https://example.com/app/3"))

	calls := map[string][]string{}
	handlers := map[string]Handler{
		DefaultTag: func(_ context.Context, e store.FrontierEntry) error {
			calls[DefaultTag] = append(calls[DefaultTag], e.Target)
			return nil
		},
		"parse_game": func(ctx context.Context, e store.FrontierEntry) error {
			calls["parse_game"] = append(calls["parse_game"], e.Target)
			if e.Target == "https://example.com/app/2" {
				return errors.New("boom")
			}
			// Handlers may enqueue while resuming.
			return f.Enqueue(ctx, "steam", e.Target+"/dev", "parse_developer")
		},
	}

	report, err := f.Resume(ctx, "steam", handlers)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replayed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "https://example.com/legacy", report.Skipped[0].Entry.Target)
	assert.ErrorIs(t, report.Skipped[0].Err, ErrUnknownTag)

	assert.Equal(t, []string{"https://example.com/search"}, calls[DefaultTag])
	assert.ElementsMatch(t, []string{"https://example.com/app/1", "https://example.com/app/2"}, calls["parse_game"])
	assert.Contains(t, pendingTargets(t, f, "steam"), "https://example.com/app/1/dev")

	assert.Equal(t, 1, logs.FilterMessage("skipping pending target with unknown resume tag").Len())
	assert.Equal(t, []string{"parse_legacy"}, skips.skipped)
}

func TestResumeHonoursCancellation(t *testing.T) {
	t.Parallel()
	f := newFrontier(t, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.Enqueue(ctx, "steam", "a", ""))
	require.NoError(t, f.Enqueue(ctx, "steam", "b", ""))
	handlers := map[string]Handler{DefaultTag: func(context.Context, store.FrontierEntry) error {
		cancel()
		return nil
	}}

	report, err := f.Resume(ctx, "steam", handlers)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Replayed)
}

type failingStore struct{ store.FrontierStore }

func (failingStore) ScanPending(context.Context, string, func(store.FrontierEntry) bool) error {
	return store.ErrTransient
}

func TestPendingYieldsStoreError(t *testing.T) {
	t.Parallel()

	f, err := New(failingStore{}, sha256.New(), nil)
	require.NoError(t, err)
	var errs []error
	for _, err := range f.Pending(context.Background(), "steam") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], store.ErrTransient)

	_, err = f.Resume(context.Background(), "steam", nil)
	assert.ErrorIs(t, err, store.ErrTransient)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, sha256.New(), nil)
	assert.Error(t, err)
	_, err = New(failingStore{}, nil, nil)
	assert.Error(t, err)
}

type recorder struct {
	ops     []string
	skipped []string
}

func (r *recorder) ObserveFrontier(op string)       { r.ops = append(r.ops, op) }
func (r *recorder) ObserveResumeSkip(_, tag string) { r.skipped = append(r.skipped, tag) }
