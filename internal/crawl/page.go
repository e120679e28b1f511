package crawl

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/scrape-ledger/internal/pipeline"
	"github.com/JakeFAU/scrape-ledger/internal/record"
)

// Page is one fetched document.
type Page struct {
	// Target is the locator the page was requested with.
	Target string
	// URL is the final URL after redirects.
	URL        *url.URL
	Tag        string
	StatusCode int
	Body       []byte
	Doc        *goquery.Document
}

func newPage(target, tag string, r *colly.Response) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{
		Target:     target,
		URL:        r.Request.URL,
		Tag:        tag,
		StatusCode: r.StatusCode,
		Body:       r.Body,
		Doc:        doc,
	}, nil
}

// HandlerFunc parses a page, emitting records and following links.
type HandlerFunc func(c *Context, page *Page) error

// Context is handed to a HandlerFunc for the page being handled.
type Context struct {
	s    *session
	page *Page
}

// Context returns the crawl context.
func (c *Context) Context() context.Context { return c.s.ctx }

// Run returns the run the page belongs to.
func (c *Context) Run() *pipeline.RunContext { return c.s.run }

// Follow resolves ref against the page URL, records it as pending under
// tag and fetches it.
func (c *Context) Follow(ref, tag string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("follow %q: %w", ref, err)
	}
	if c.page.URL != nil {
		u = c.page.URL.ResolveReference(u)
	}
	u.Fragment = ""
	return c.s.follow(u.String(), tag)
}

// Emit sends rec through the item pipeline. Failures are logged by the
// pipeline and do not stop the crawl.
func (c *Context) Emit(rec *record.Record) {
	c.s.summary.Emitted++
	_, _ = c.s.c.processor.Process(c.s.ledger, c.s.run, rec)
}
