// Package query turns a raw search term into a recent-search query string
// carrying the positive-sentiment clause.
package query

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/FranksOps/happytweet/internal/failure"
)

// MaxLength is the recent-search query length limit for standard access.
const MaxLength = 512

// DefaultMarkers are the terms, hashtags and emoji ORed into every query.
var DefaultMarkers = []string{
	"happy",
	"joy",
	"excited",
	"grateful",
	"delighted",
	"#happy",
	"#joy",
	"#goodvibes",
	"😊",
	"😀",
	"🎉",
}

// operatorPattern matches the advanced-search grammar that must not be
// rewritten: boolean keywords, negation, grouping, phrases, entity prefixes
// and key:value operators such as from:, lang: or is:.
var operatorPattern = regexp.MustCompile(`(^|\s)(OR|AND)(\s|$)|(^|\s)[-#@$]\S|[()"]|(^|\s)-?[a-z_]+:\S`)

// Query is a built search expression. The zero value is not valid.
type Query struct {
	raw  string
	term string
}

// String returns the query in the provider's grammar.
func (q Query) String() string { return q.raw }

// Encoded returns the URL-encoded query.
func (q Query) Encoded() string { return url.QueryEscape(q.raw) }

// Term returns the normalized user term the query was built from.
func (q Query) Term() string { return q.term }

// IsZero reports whether q was never built.
func (q Query) IsZero() bool { return q.raw == "" }

// Option customizes a Builder.
type Option func(*Builder)

// WithMarkers replaces the default sentiment markers.
func WithMarkers(markers ...string) Option {
	return func(b *Builder) {
		b.Markers = append([]string(nil), markers...)
	}
}

// WithLang restricts results to a BCP 47 language code, e.g. "en".
func WithLang(lang string) Option {
	return func(b *Builder) { b.Lang = strings.TrimSpace(lang) }
}

// WithRetweets controls whether retweets are allowed in results.
func WithRetweets(include bool) Option {
	return func(b *Builder) { b.ExcludeRetweets = !include }
}

// Builder assembles queries. It holds no state between calls.
type Builder struct {
	Markers         []string
	Lang            string
	ExcludeRetweets bool
}

// NewBuilder creates a Builder with the default markers and retweets excluded.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		Markers:         DefaultMarkers,
		ExcludeRetweets: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build combines term with the sentiment clause. A term already written in
// the search grammar is passed through unmodified inside a group and ANDed
// with the clause.
func (b *Builder) Build(term string) (Query, error) {
	const op = "build query"

	term = strings.TrimSpace(term)
	if term == "" {
		return Query{}, failure.New(failure.KindInvalidQuery, op, "term is empty")
	}
	if hasControl(term) {
		return Query{}, failure.New(failure.KindInvalidQuery, op, "term contains control characters")
	}

	var parts []string
	if UsesOperators(term) {
		parts = append(parts, "("+term+")")
	} else {
		term = strings.Join(strings.Fields(term), " ")
		parts = append(parts, term)
	}

	parts = append(parts, b.clause())
	if b.ExcludeRetweets && !strings.Contains(term, "is:retweet") {
		parts = append(parts, "-is:retweet")
	}
	if b.Lang != "" && !strings.Contains(term, "lang:") {
		parts = append(parts, "lang:"+b.Lang)
	}

	raw := strings.Join(parts, " ")
	if hasControl(raw) {
		return Query{}, failure.New(failure.KindInvalidQuery, op, "query contains control characters")
	}
	if n := utf8.RuneCountInString(raw); n > MaxLength {
		return Query{}, failure.Wrapf(failure.KindInvalidQuery, op, nil,
			"query is %d characters, limit is %d", n, MaxLength)
	}

	return Query{raw: raw, term: term}, nil
}

// UsesOperators reports whether term contains advanced-search operators.
func UsesOperators(term string) bool {
	return operatorPattern.MatchString(term)
}

// clause ORs the markers together. Blank markers are skipped; when none are
// left the default set is used, so a query never goes out without the clause.
func (b *Builder) clause() string {
	markers := cleanMarkers(b.Markers)
	if len(markers) == 0 {
		markers = cleanMarkers(DefaultMarkers)
	}
	if len(markers) == 1 {
		return markers[0]
	}
	return "(" + strings.Join(markers, " OR ") + ")"
}

func cleanMarkers(in []string) []string {
	markers := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if strings.ContainsAny(m, " \t") {
			m = `"` + strings.ReplaceAll(m, `"`, "") + `"`
		}
		markers = append(markers, m)
	}
	return markers
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
