// Package steam crawls the Steam store: tag search listings, game pages and
// developer pages.
package steam

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
)

// Entity names.
const (
	EntityDeveloper    = "developer"
	EntityGame         = "game"
	EntitySearchResult = "steam_search_result"
)

// Entities are the registered steam entities.
type Entities struct {
	Developer    *schema.Entity
	Game         *schema.Entity
	SearchResult *schema.Entity
}

// Register adds the steam entities to reg in dependency order.
func Register(reg *schema.Registry) (Entities, error) {
	var ents Entities
	var err error
	ents.Developer, err = reg.Register(schema.Definition{
		Name: EntityDeveloper,
		Fields: []schema.Field{
			schema.String("name").NotNull(),
			schema.String("description"),
			schema.String("steam_id"),
			schema.String("steam_url"),
			schema.String("website"),
			schema.String("domain").ReadOnly(),
			schema.Int("steam_followers"),
			schema.Int("facebook_followers"),
			schema.Int("twitch_followers"),
			schema.Int("twitter_followers"),
			schema.Int("youtube_followers"),
		},
		LookupKeys:   []string{"name"},
		Placeholders: []string{"url"},
		Derived:      []schema.Derived{{Field: "domain", Fn: Domain}},
		DedupField:   "name",
	})
	if err != nil {
		return Entities{}, err
	}
	ents.Game, err = reg.Register(schema.Definition{
		Name: EntityGame,
		Fields: []schema.Field{
			schema.String("name").NotNull(),
			schema.Int("steam_id"),
			schema.String("url"),
			schema.Time("release_date").With(coerce.TakeFirstNonEmpty(ReleaseDate)),
			schema.Bool("on_windows"),
			schema.Bool("on_macos"),
			schema.Bool("on_linux"),
		},
		LookupKeys: []string{"name"},
		Relations:  []schema.RelationDef{{Slot: "developer", Target: EntityDeveloper}},
		DedupField: "name",
	})
	if err != nil {
		return Entities{}, err
	}
	ents.SearchResult, err = reg.Register(schema.Definition{
		Name: EntitySearchResult,
		Fields: []schema.Field{
			schema.String("name").NotNull(),
			schema.String("tag_name"),
			schema.String("tag_value"),
		},
		LookupKeys: []string{"name"},
		Relations:  []schema.RelationDef{{Slot: "game", Target: EntityGame}},
	})
	if err != nil {
		return Entities{}, err
	}
	return ents, nil
}

// Domain derives a developer's bare website host.
func Domain(v schema.Values) any {
	raw, ok := v.Get("website")
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
