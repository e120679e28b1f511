// Package crawl drives a colly collector for one named crawl. Outgoing
// requests are recorded in the frontier as pending, responses mark them
// complete, and each response is dispatched to the handler named by its
// resume tag. With Resume set, pending entries from earlier runs are
// replayed before the seeds.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/frontier"
	"github.com/JakeFAU/scrape-ledger/internal/pipeline"
	"github.com/JakeFAU/scrape-ledger/internal/record"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// Seed is a start target and the handler that parses it.
type Seed struct {
	URL string `mapstructure:"url"`
	Tag string `mapstructure:"tag"`
}

// Config controls collector behavior.
type Config struct {
	CrawlName      string
	UserAgent      string
	RespectRobots  bool
	Timeout        time.Duration
	Delay          time.Duration
	AllowedDomains []string
	Seeds          []Seed
	Resume         bool
}

// Frontier is the part of the frontier service the crawler drives.
type Frontier interface {
	Enqueue(ctx context.Context, crawl, target, tag string) error
	Complete(ctx context.Context, crawl, target string) error
	Resume(ctx context.Context, crawl string, handlers map[string]frontier.Handler) (frontier.ResumeReport, error)
}

// Processor persists emitted records.
type Processor interface {
	Process(ctx context.Context, run *pipeline.RunContext, rec *record.Record) (*store.Row, error)
}

// Observer receives per-page fetch counts.
type Observer interface {
	ObserveCrawl(site string, status string, bytesFetched int)
}

// Crawler runs crawls for one configuration and handler table.
type Crawler struct {
	cfg       Config
	frontier  Frontier
	processor Processor
	logger    *zap.Logger
	observer  Observer
	transport http.RoundTripper
	handlers  map[string]HandlerFunc
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithTransport replaces the default pooled transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Crawler) { c.transport = rt }
}

// WithObserver reports fetches to o.
func WithObserver(o Observer) Option {
	return func(c *Crawler) { c.observer = o }
}

// New constructs a Crawler.
func New(cfg Config, fr Frontier, proc Processor, logger *zap.Logger, opts ...Option) (*Crawler, error) {
	if cfg.CrawlName == "" {
		return nil, fmt.Errorf("crawl name is required")
	}
	if fr == nil {
		return nil, fmt.Errorf("frontier is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Crawler{
		cfg:       cfg,
		frontier:  fr,
		processor: proc,
		logger:    logger.Named("crawl").With(zap.String("crawl", cfg.CrawlName)),
		handlers:  make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewTransport()
	}
	return c, nil
}

// Handle registers h for pages fetched with tag. An empty tag registers the
// default handler.
func (c *Crawler) Handle(tag string, h HandlerFunc) {
	if tag == "" {
		tag = frontier.DefaultTag
	}
	c.handlers[tag] = h
}

// Tags returns the registered handler tags.
func (c *Crawler) Tags() []string {
	tags := make([]string, 0, len(c.handlers))
	for tag := range c.handlers {
		tags = append(tags, tag)
	}
	return tags
}

// Summary describes one Run.
type Summary struct {
	Requests  int
	Responses int
	Errors    int
	Emitted   int
	Resume    frontier.ResumeReport
}

// Run executes one crawl. It returns when every reachable target has been
// fetched or ctx is done; targets not fetched stay pending in the frontier.
func (c *Crawler) Run(ctx context.Context, run *pipeline.RunContext) (Summary, error) {
	if run == nil {
		return Summary{}, fmt.Errorf("run context is required")
	}
	s, err := c.newSession(ctx, run)
	if err != nil {
		return Summary{}, err
	}
	c.logger.Info("crawl starting",
		zap.String("run_id", run.ID),
		zap.Bool("resume", c.cfg.Resume),
		zap.Int("seeds", len(c.cfg.Seeds)),
	)

	if c.cfg.Resume {
		handlers := make(map[string]frontier.Handler, len(c.handlers))
		for tag := range c.handlers {
			handlers[tag] = func(_ context.Context, e store.FrontierEntry) error {
				return s.settle(e.Target, s.visit(e.Target, tag))
			}
		}
		report, err := c.frontier.Resume(ctx, c.cfg.CrawlName, handlers)
		s.summary.Resume = report
		if err != nil {
			return s.summary, fmt.Errorf("resume %s: %w", c.cfg.CrawlName, err)
		}
	}
	for _, seed := range c.cfg.Seeds {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := s.visit(seed.URL, seed.Tag); err != nil {
			c.logger.Error("visit seed", zap.String("url", seed.URL), zap.Error(err))
		}
	}

	c.logger.Info("crawl finished",
		zap.String("run_id", run.ID),
		zap.Int("requests", s.summary.Requests),
		zap.Int("responses", s.summary.Responses),
		zap.Int("errors", s.summary.Errors),
		zap.Int("emitted", s.summary.Emitted),
	)
	if err := ctx.Err(); err != nil {
		return s.summary, fmt.Errorf("crawl %s interrupted: %w", c.cfg.CrawlName, err)
	}
	return s.summary, nil
}

// session is the state of one Run. Frontier writes use ledger, which
// outlives cancellation of ctx so an interrupted crawl keeps its
// bookkeeping.
type session struct {
	ctx       context.Context
	ledger    context.Context
	c         *Crawler
	run       *pipeline.RunContext
	collector *colly.Collector
	requested map[string]struct{}
	failed    map[string]struct{}
	summary   Summary
}

const (
	ctxTarget = "target"
	ctxTag    = "tag"
)

func (c *Crawler) newSession(ctx context.Context, run *pipeline.RunContext) (*session, error) {
	collector := colly.NewCollector(colly.Async(false))
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	if len(c.cfg.AllowedDomains) > 0 {
		collector.AllowedDomains = append([]string(nil), c.cfg.AllowedDomains...)
	}
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(c.transport)
	if c.cfg.Delay > 0 {
		if err := collector.Limit(&colly.LimitRule{DomainGlob: "*", Delay: c.cfg.Delay}); err != nil {
			return nil, fmt.Errorf("set collector limits: %w", err)
		}
	}

	s := &session{
		ctx:       ctx,
		ledger:    context.WithoutCancel(ctx),
		c:         c,
		run:       run,
		collector: collector,
		requested: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
	collector.OnRequest(s.onRequest)
	collector.OnResponse(s.onResponse)
	collector.OnError(s.onError)
	return s, nil
}

// visit fetches target synchronously and dispatches its response to tag.
// Fetch failures are reported by onError; only refusals to fetch are
// returned.
func (s *session) visit(target, tag string) error {
	if _, ok := s.requested[target]; ok {
		return nil
	}
	if tag == "" {
		tag = frontier.DefaultTag
	}
	s.requested[target] = struct{}{}
	rctx := colly.NewContext()
	rctx.Put(ctxTarget, target)
	rctx.Put(ctxTag, tag)
	err := s.collector.Request(http.MethodGet, target, nil, rctx, nil)
	if err == nil {
		return nil
	}
	if _, reported := s.failed[target]; reported {
		return nil
	}
	return fmt.Errorf("visit %s: %w", target, err)
}

// follow enqueues target and fetches it. Targets already requested in this
// run are ignored; targets the collector refuses are completed right away.
func (s *session) follow(target, tag string) error {
	if _, ok := s.requested[target]; ok {
		return nil
	}
	if err := s.c.frontier.Enqueue(s.ledger, s.c.cfg.CrawlName, target, tag); err != nil {
		return err
	}
	return s.settle(target, s.visit(target, tag))
}

// settle completes a pending target the collector refused to fetch.
func (s *session) settle(target string, err error) error {
	if err == nil || !refused(err) {
		return err
	}
	s.c.logger.Debug("collector refused target", zap.String("url", target), zap.Error(err))
	return s.c.frontier.Complete(s.ledger, s.c.cfg.CrawlName, target)
}

func refused(err error) bool {
	return errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrForbiddenURL) ||
		errors.Is(err, colly.ErrNoURLFiltersMatch) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked) ||
		errors.Is(err, colly.ErrMissingURL)
}

func (s *session) onRequest(r *colly.Request) {
	if s.ctx.Err() != nil {
		r.Abort()
		return
	}
	s.summary.Requests++
}

func (s *session) onResponse(r *colly.Response) {
	s.summary.Responses++
	target := r.Ctx.Get(ctxTarget)
	if target == "" {
		target = r.Request.URL.String()
	}
	tag := r.Ctx.Get(ctxTag)
	if s.c.observer != nil {
		s.c.observer.ObserveCrawl(target, "ok", len(r.Body))
	}
	if err := s.c.frontier.Complete(s.ledger, s.c.cfg.CrawlName, target); err != nil {
		s.c.logger.Error("complete target", zap.String("url", target), zap.Error(err))
	}

	h, ok := s.c.handlers[tag]
	if !ok {
		s.c.logger.Warn("no handler for tag", zap.String("url", target), zap.String("tag", tag))
		return
	}
	page, err := newPage(target, tag, r)
	if err != nil {
		s.c.logger.Error("parse response", zap.String("url", target), zap.Error(err))
		return
	}
	if err := h(&Context{s: s, page: page}, page); err != nil {
		s.c.logger.Error("handle page",
			zap.String("url", target),
			zap.String("tag", tag),
			zap.Error(err),
		)
	}
}

func (s *session) onError(r *colly.Response, err error) {
	s.summary.Errors++
	target := r.Ctx.Get(ctxTarget)
	if target == "" && r.Request != nil {
		target = r.Request.URL.String()
	}
	s.failed[target] = struct{}{}
	if s.c.observer != nil {
		s.c.observer.ObserveCrawl(target, "error", 0)
	}
	msg := "request failed"
	switch r.StatusCode {
	case http.StatusTooManyRequests:
		msg = "rate limited"
	case http.StatusForbidden:
		msg = "forbidden"
	}
	s.c.logger.Warn(msg,
		zap.String("url", target),
		zap.Int("status_code", r.StatusCode),
		zap.Error(err),
	)
}
