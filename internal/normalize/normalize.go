package normalize

import (
	"fmt"
	"strings"
	"time"

	"news_ingest/internal/domain"
)

// Profile lists, per canonical field, the alias field names a producer
// family is known to use. Aliases are tried in declared order; the
// first present non-empty value wins. An alias may contain one dot for
// nested lookup ("meta.title").
type Profile struct {
	Title       []string
	Body        []string
	SourceURL   []string
	PublishedAt []string
}

// DefaultProfile covers the field names seen across generic scraping
// actors. Actor-specific profiles override it wholesale.
var DefaultProfile = Profile{
	Title:       []string{"title", "headline", "pageTitle", "meta.title"},
	Body:        []string{"body", "content", "text", "articleBody", "description"},
	SourceURL:   []string{"url", "link", "sourceUrl", "canonicalUrl", "loadedUrl"},
	PublishedAt: []string{"publishedAt", "datePublished", "date", "published", "meta.publishedAt"},
}

// Normalizer maps heterogeneous dataset items to the canonical item
// shape. It is total: any map input yields a NormalizedItem, never an
// error; fields it cannot extract stay nil.
type Normalizer struct {
	profiles map[string]Profile
	fallback Profile
}

func New(profiles map[string]Profile) *Normalizer {
	if profiles == nil {
		profiles = make(map[string]Profile)
	}
	return &Normalizer{
		profiles: profiles,
		fallback: DefaultProfile,
	}
}

// Normalize extracts the canonical fields from one raw item using the
// profile registered for actorID, falling back to the actor's vendor
// prefix ("vendor/actor") and then the default profile.
func (n *Normalizer) Normalize(actorID string, raw map[string]any) domain.NormalizedItem {
	profile := n.profileFor(actorID)

	item := domain.NormalizedItem{
		Title:     firstString(raw, profile.Title),
		Body:      firstString(raw, profile.Body),
		SourceURL: firstString(raw, profile.SourceURL),
	}

	// Numbers first: coerceString would turn an epoch into an
	// unparseable decimal string.
	if f := firstNumber(raw, profile.PublishedAt); f != nil {
		item.PublishedAt = parseEpoch(*f)
	} else if s := firstString(raw, profile.PublishedAt); s != nil {
		item.PublishedAt = parseTime(*s)
	}

	return item
}

func (n *Normalizer) profileFor(actorID string) Profile {
	if p, ok := n.profiles[actorID]; ok {
		return p
	}
	if vendor, _, ok := strings.Cut(actorID, "/"); ok {
		if p, ok := n.profiles[vendor]; ok {
			return p
		}
	}
	return n.fallback
}

// firstString resolves aliases in declared order and coerces the first
// present non-empty value to a string.
func firstString(raw map[string]any, aliases []string) *string {
	for _, alias := range aliases {
		value, ok := lookup(raw, alias)
		if !ok || value == nil {
			continue
		}
		s := coerceString(value)
		if s == "" {
			continue
		}
		return &s
	}
	return nil
}

// firstNumber resolves aliases to the first numeric value, for
// producers that emit epoch timestamps.
func firstNumber(raw map[string]any, aliases []string) *float64 {
	for _, alias := range aliases {
		value, ok := lookup(raw, alias)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return &v
		case int64:
			f := float64(v)
			return &f
		case int:
			f := float64(v)
			return &f
		}
	}
	return nil
}

// lookup supports plain keys and one level of dotted-path nesting.
func lookup(raw map[string]any, alias string) (any, bool) {
	if head, rest, ok := strings.Cut(alias, "."); ok {
		nested, found := raw[head]
		if !found {
			return nil, false
		}
		inner, isMap := nested.(map[string]any)
		if !isMap {
			return nil, false
		}
		value, found := inner[rest]
		return value, found
	}

	value, found := raw[alias]
	return value, found
}

// coerceString is best effort: scalars of unexpected types are
// stringified rather than rejected.
func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

func parseTime(s string) *time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseEpoch treats values past the year ~2255 in seconds as
// milliseconds.
func parseEpoch(f float64) *time.Time {
	sec := int64(f)
	var t time.Time
	if sec > 9_000_000_000 {
		t = time.UnixMilli(sec).UTC()
	} else {
		t = time.Unix(sec, 0).UTC()
	}
	return &t
}
