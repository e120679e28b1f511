package steam

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/crawl"
	"github.com/JakeFAU/scrape-ledger/internal/frontier"
	"github.com/JakeFAU/scrape-ledger/internal/record"
)

// CrawlName is the frontier name used by the steam crawl.
const CrawlName = "steam"

// Resume tags.
const (
	TagSearch    = frontier.DefaultTag
	TagGame      = "parse_game"
	TagDeveloper = "parse_developer"
)

// SearchBase is the store search endpoint.
const SearchBase = "https://store.steampowered.com/search/"

// Tags maps a tag name to the search query selecting it.
var Tags = map[string]string{
	"co-op-tag":           "tags=1685",
	"local-multi-player":  "tags=7368",
	"local-co-op":         "tags=3841",
	"shared-split-screen": "category3=24",
	"4-player-coop":       "tags=4840",
	"co-op-num-players":   "category3=9",
}

var (
	gameIDPattern      = regexp.MustCompile(`app/(\d+)`)
	developerIDPattern = regexp.MustCompile(`/(\w+)$`)
)

// Seeds returns one search listing per tag, ordered by tag name.
func Seeds() []crawl.Seed {
	names := make([]string, 0, len(Tags))
	for name := range Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	seeds := make([]crawl.Seed, 0, len(names))
	for _, name := range names {
		seeds = append(seeds, crawl.Seed{URL: SearchBase + "?" + Tags[name], Tag: TagSearch})
	}
	return seeds
}

// Site holds the steam parse handlers.
type Site struct {
	ents Entities
	mode coerce.Mode
}

// NewSite returns handlers that load records of ents.
func NewSite(ents Entities, mode coerce.Mode) *Site {
	return &Site{ents: ents, mode: mode}
}

// Register installs the handlers on c.
func (s *Site) Register(c *crawl.Crawler) {
	c.Handle(TagSearch, s.ParseSearch)
	c.Handle(TagGame, s.ParseGame)
	c.Handle(TagDeveloper, s.ParseDeveloper)
}

// ParseSearch emits a search result per listed title when the listing was
// reached through a known tag, follows every result to its game page and
// follows the last pagination link.
func (s *Site) ParseSearch(c *crawl.Context, page *crawl.Page) error {
	tagName, tagValue := matchTag(page.URL)
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if tagName != "" {
		page.Doc.Find("#search_resultsRows .title").Each(func(_ int, sel *goquery.Selection) {
			rec, err := s.searchResult(tagName, tagValue, sel.Text())
			if err != nil {
				keep(err)
				return
			}
			c.Emit(rec)
		})
	}
	page.Doc.Find("#search_resultsRows a").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			keep(c.Follow(href, TagGame))
		}
	})
	if next := page.Doc.Find(".search_pagination_right a").Last(); next.Length() > 0 {
		if href, ok := next.Attr("href"); ok && href != "" {
			keep(c.Follow(href, TagSearch))
		}
	}
	return firstErr
}

func (s *Site) searchResult(tagName, tagValue, title string) (*record.Record, error) {
	game, err := record.NewLoader(s.ents.Game, nil, record.WithMode(s.mode)).
		AddValue("name", title).
		Load()
	if err != nil {
		return nil, err
	}
	return record.NewLoader(s.ents.SearchResult, nil, record.WithMode(s.mode)).
		AddValue("tag_name", tagName).
		AddValue("tag_value", tagValue).
		AddValue("name", title).
		AddDependent("game", game).
		Load()
}

// ParseGame emits the game with its developer and follows the developer
// page.
func (s *Site) ParseGame(c *crawl.Context, page *crawl.Page) error {
	dev, err := s.developerFromGame(page.Doc.Selection)
	if err != nil {
		return err
	}
	l := record.NewLoader(s.ents.Game, page.Doc.Selection, record.WithMode(s.mode)).
		AddValue("steam_id", page.Target, coerce.MatchRegexp(gameIDPattern)).
		AddValue("url", page.Target, coerce.StripQueryString).
		AddCSS("name", "div.apphub_AppName").
		AddCSS("release_date", ".release_date .date")
	for _, p := range []struct{ field, class string }{
		{"on_windows", "win"},
		{"on_macos", "mac"},
		{"on_linux", "linux"},
	} {
		l.AddExists(p.field, ".game_area_purchase_platform ."+p.class)
	}
	l.AddDependent("developer", dev)
	game, err := l.Load()
	if err != nil {
		return err
	}
	c.Emit(game)

	if dev == nil {
		return nil
	}
	if v, ok := dev.Get("url"); ok {
		if href, _ := v.(string); href != "" {
			return c.Follow(href, TagDeveloper)
		}
	}
	return nil
}

// developerFromGame reads the developer row of a game page. It returns nil
// when the page lists no developer.
func (s *Site) developerFromGame(doc *goquery.Selection) (*record.Record, error) {
	var summary *goquery.Selection
	doc.Find(".dev_row").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if strings.TrimSpace(row.Find(".subtitle").Text()) == "Developer:" {
			summary = row.Find(".summary")
			return false
		}
		return true
	})
	if summary == nil {
		return nil, nil
	}
	return record.NewLoader(s.ents.Developer, summary, record.WithMode(s.mode)).
		AddCSS("name", "a").
		AddAttr("url", "a", "href").
		Load()
}

// ParseDeveloper emits a developer from its curator page.
func (s *Site) ParseDeveloper(c *crawl.Context, page *crawl.Page) error {
	target, _ := coerce.StripQueryString(page.Target)
	u := strings.TrimSuffix(target.(string), "/")
	social := func(n int) string {
		return fmt.Sprintf("#header_curator_details > div:nth-of-type(1) > span:nth-of-type(%d) > a > span", n)
	}
	dev, err := record.NewLoader(s.ents.Developer, page.Doc.Selection, record.WithMode(s.mode)).
		AddCSS("name", ".curator_name a").
		AddCSS("description", ".page_desc p").
		AddValue("steam_id", u, coerce.MatchRegexp(developerIDPattern)).
		AddAttr("website", "a.curator_url", "href", RemoveLinkFilter).
		AddValue("steam_url", u).
		AddCSS("facebook_followers", social(1)).
		AddCSS("twitch_followers", social(2)).
		AddCSS("twitter_followers", social(3)).
		AddCSS("youtube_followers", social(4)).
		AddCSS("steam_followers", ".num_followers").
		Load()
	if err != nil {
		return err
	}
	c.Emit(dev)
	return nil
}

// matchTag finds which configured tag query a listing URL carries.
func matchTag(u *url.URL) (string, string) {
	if u == nil {
		return "", ""
	}
	parts := strings.Split(u.RawQuery, "&")
	names := make([]string, 0, len(Tags))
	for name := range Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, part := range parts {
			if part == Tags[name] {
				return name, Tags[name]
			}
		}
	}
	return "", ""
}
