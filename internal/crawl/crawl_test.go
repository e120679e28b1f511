package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/frontier"
	"github.com/JakeFAU/scrape-ledger/internal/hash/sha256"
	"github.com/JakeFAU/scrape-ledger/internal/pipeline"
	"github.com/JakeFAU/scrape-ledger/internal/record"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlite"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

const listing = `<html><body>
<a class="game" href="/app/1/">One</a>
<a class="game" href="/app/2/#reviews">Two</a>
<a class="game" href="/missing">Gone</a>
<a class="game" href="/app/1/">One again</a>
</body></html>`

func newSite(t *testing.T) (*httptest.Server, *hits) {
	t.Helper()
	h := &hits{n: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		h.add(r.URL.Path)
		fmt.Fprint(w, listing)
	})
	mux.HandleFunc("/app/", func(w http.ResponseWriter, r *http.Request) {
		h.add(r.URL.Path)
		fmt.Fprintf(w, `<html><body><div class="name">Game %s</div></body></html>`, r.URL.Path)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		h.add(r.URL.Path)
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h
}

type hits struct {
	mu sync.Mutex
	n  map[string]int
}

func (h *hits) add(path string) {
	h.mu.Lock()
	h.n[path]++
	h.mu.Unlock()
}

func (h *hits) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n[path]
}

type recordingProcessor struct {
	names []string
}

func (p *recordingProcessor) Process(_ context.Context, _ *pipeline.RunContext, rec *record.Record) (*store.Row, error) {
	v, _ := rec.Get("name")
	p.names = append(p.names, v.(string))
	return store.NewRow(rec.Entity()), nil
}

type env struct {
	frontier *frontier.Frontier
	game     *schema.Entity
	proc     *recordingProcessor
	run      *pipeline.RunContext
}

type staticID struct{}

func (staticID) NewID() (string, error) { return "run", nil }

func newEnv(t *testing.T) env {
	t.Helper()
	st, err := sqlite.Open(context.Background(), sqlite.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background(), nil))
	fr, err := frontier.New(st, sha256.New(), zap.NewNop())
	require.NoError(t, err)
	game := schema.NewRegistry().MustRegister(schema.Definition{
		Name:       "game",
		Fields:     []schema.Field{schema.String("name")},
		LookupKeys: []string{"name"},
	})
	run, err := pipeline.NewRun("test", staticID{}, clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, err)
	return env{frontier: fr, game: game, proc: &recordingProcessor{}, run: run}
}

func (e env) crawler(t *testing.T, cfg Config, opts ...Option) *Crawler {
	t.Helper()
	c, err := New(cfg, e.frontier, e.proc, zap.NewNop(), opts...)
	require.NoError(t, err)
	c.Handle("", func(ctx *Context, page *Page) error {
		page.Doc.Find("a.game").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			require.NoError(t, ctx.Follow(href, "parse_game"))
		})
		return nil
	})
	c.Handle("parse_game", func(ctx *Context, page *Page) error {
		rec, err := record.NewLoader(e.game, page.Doc.Selection).AddCSS("name", ".name").Load()
		if err != nil {
			return err
		}
		ctx.Emit(rec)
		return nil
	})
	return c
}

func pendingTargets(t *testing.T, fr *frontier.Frontier) []string {
	t.Helper()
	var out []string
	for e, err := range fr.Pending(context.Background(), "test") {
		require.NoError(t, err)
		out = append(out, e.Target)
	}
	sort.Strings(out)
	return out
}

func TestRunFollowsAndCompletes(t *testing.T) {
	t.Parallel()
	srv, h := newSite(t)
	e := newEnv(t)
	obs := &pageObserver{}
	c := e.crawler(t, Config{CrawlName: "test", Seeds: []Seed{{URL: srv.URL + "/search"}}}, WithObserver(obs))

	summary, err := c.Run(context.Background(), e.run)
	require.NoError(t, err)

	assert.Equal(t, []string{"Game /app/1/", "Game /app/2/"}, e.proc.names)
	assert.Equal(t, 1, h.get("/app/1/"), "duplicate links are fetched once")
	assert.Equal(t, 2, summary.Emitted)
	assert.Equal(t, 4, summary.Requests)
	assert.Equal(t, 3, summary.Responses)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 3, obs.ok)
	assert.Equal(t, 1, obs.failed)

	// The 404 stays pending so a resumed run retries it.
	assert.Equal(t, []string{srv.URL + "/missing"}, pendingTargets(t, e.frontier))
}

func TestRunResumesPending(t *testing.T) {
	t.Parallel()
	srv, h := newSite(t)
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.frontier.Enqueue(ctx, "test", srv.URL+"/app/7/", "parse_game"))
	require.NoError(t, e.frontier.Enqueue(ctx, "test", srv.URL+"/app/8/", "parse_retired"))

	c := e.crawler(t, Config{CrawlName: "test", Resume: true})
	summary, err := c.Run(ctx, e.run)
	require.NoError(t, err)

	assert.Equal(t, []string{"Game /app/7/"}, e.proc.names)
	assert.Equal(t, 1, summary.Resume.Replayed)
	require.Len(t, summary.Resume.Skipped, 1)
	assert.ErrorIs(t, summary.Resume.Skipped[0].Err, frontier.ErrUnknownTag)
	assert.Zero(t, h.get("/app/8/"))
	assert.Equal(t, []string{srv.URL + "/app/8/"}, pendingTargets(t, e.frontier))
}

func TestRunWithoutResumeIgnoresPending(t *testing.T) {
	t.Parallel()
	srv, h := newSite(t)
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.frontier.Enqueue(ctx, "test", srv.URL+"/app/7/", "parse_game"))

	_, err := e.crawler(t, Config{CrawlName: "test"}).Run(ctx, e.run)
	require.NoError(t, err)
	assert.Zero(t, h.get("/app/7/"))
}

func TestRunStopsWhenCancelled(t *testing.T) {
	t.Parallel()
	srv, h := newSite(t)
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	c := e.crawler(t, Config{CrawlName: "test", Seeds: []Seed{{URL: srv.URL + "/search"}}})
	c.Handle("", func(cc *Context, page *Page) error {
		cancel()
		return cc.Follow("/app/1/", "parse_game")
	})
	_, err := c.Run(ctx, e.run)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.get("/app/1/"))
	// Enqueued before the cancellation was noticed, so it is still pending.
	assert.Equal(t, []string{srv.URL + "/app/1/"}, pendingTargets(t, e.frontier))
}

func TestFollowRefusedDomainIsCompleted(t *testing.T) {
	t.Parallel()
	srv, _ := newSite(t)
	e := newEnv(t)

	c := e.crawler(t, Config{
		CrawlName:      "test",
		AllowedDomains: []string{"127.0.0.1"},
		Seeds:          []Seed{{URL: srv.URL + "/search"}},
	})
	c.Handle("", func(cc *Context, _ *Page) error {
		return cc.Follow("http://elsewhere.invalid/app/1/", "parse_game")
	})
	_, err := c.Run(context.Background(), e.run)
	require.NoError(t, err)
	assert.Empty(t, pendingTargets(t, e.frontier))
}

func TestResumeCompletesRefusedPending(t *testing.T) {
	t.Parallel()
	srv, h := newSite(t)
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.frontier.Enqueue(ctx, "test", "http://elsewhere.invalid/app/3/", "parse_game"))
	require.NoError(t, e.frontier.Enqueue(ctx, "test", srv.URL+"/app/4/", "parse_game"))

	c := e.crawler(t, Config{CrawlName: "test", Resume: true, AllowedDomains: []string{"127.0.0.1"}})
	summary, err := c.Run(ctx, e.run)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Resume.Replayed)
	assert.Zero(t, summary.Resume.Failed)
	assert.Empty(t, summary.Resume.Skipped)
	assert.Equal(t, 1, h.get("/app/4/"))
	assert.Empty(t, pendingTargets(t, e.frontier))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	_, err := New(Config{}, e.frontier, e.proc, nil)
	assert.Error(t, err)
	_, err = New(Config{CrawlName: "x"}, nil, e.proc, nil)
	assert.Error(t, err)
	_, err = New(Config{CrawlName: "x"}, e.frontier, nil, nil)
	assert.Error(t, err)

	c, err := New(Config{CrawlName: "x"}, e.frontier, e.proc, nil)
	require.NoError(t, err)
	_, err = c.Run(context.Background(), nil)
	assert.Error(t, err)
}

type pageObserver struct{ ok, failed int }

func (o *pageObserver) ObserveCrawl(_ string, status string, _ int) {
	if status == "ok" {
		o.ok++
		return
	}
	o.failed++
}
