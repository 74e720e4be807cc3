// Package sentiment scores post text against positive and negative lexicons
// and keeps the posts that read as happy.
package sentiment

import (
	"strings"
	"unicode"

	"github.com/FranksOps/happytweet/internal/storage"
)

// Polarity is the overall leaning of a text.
type Polarity int

const (
	Neutral Polarity = iota
	Positive
	Negative
)

func (p Polarity) String() string {
	switch p {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	}
	return "neutral"
}

// DefaultPositive lists words, hashtag bodies and emoji that read as happy.
var DefaultPositive = []string{
	"happy", "happiness", "happier", "happiest", "joy", "joyful", "excited", "exciting",
	"grateful", "thankful", "blessed", "delighted", "love", "loved", "lovely", "awesome",
	"amazing", "great", "wonderful", "fantastic", "glad", "yay", "smile", "smiling",
	"fun", "celebrate", "celebrating", "proud", "best", "beautiful", "goodvibes", "cheerful",
	"😊", "😀", "😃", "😄", "😁", "🥰", "😍", "🙂", "🎉", "🥳", "❤", "💖", "✨",
}

// DefaultNegative lists words and emoji that cancel out a happy reading.
var DefaultNegative = []string{
	"sad", "sadness", "unhappy", "angry", "hate", "hated", "awful", "terrible",
	"horrible", "worst", "depressed", "upset", "cry", "crying", "miserable",
	"disappointed", "annoyed", "bad", "lonely", "scared", "hurt", "rip",
	"😢", "😭", "😡", "💔", "😞", "😠",
}

// negators flip the next two tokens: "not happy" reads as negative.
var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "don't": {}, "doesn't": {}, "didn't": {},
	"isn't": {}, "wasn't": {}, "aren't": {}, "can't": {}, "cannot": {}, "ain't": {},
	"won't": {}, "nothing": {},
}

const negationWindow = 2

// Result is the outcome of classifying one text.
type Result struct {
	Positive int
	Negative int
	// Score is (positive - negative) / (positive + negative), 0 when nothing matched.
	Score    float64
	Polarity Polarity
}

// Classifier is a lexicon based polarity scorer. It is safe for concurrent use.
type Classifier struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewClassifier builds a Classifier. Nil lexicons fall back to the defaults.
func NewClassifier(positive, negative []string) *Classifier {
	if positive == nil {
		positive = DefaultPositive
	}
	if negative == nil {
		negative = DefaultNegative
	}
	return &Classifier{
		positive: lexicon(positive),
		negative: lexicon(negative),
	}
}

// Classify scores text. Hashtags match on their body, so #happy counts as happy.
func (c *Classifier) Classify(text string) Result {
	var r Result
	sinceNegator := negationWindow + 1

	for _, tok := range tokenize(text) {
		if _, ok := negators[tok]; ok {
			sinceNegator = 0
			continue
		}
		sinceNegator++
		negated := sinceNegator <= negationWindow

		word := strings.TrimPrefix(tok, "#")
		_, pos := c.positive[word]
		_, neg := c.negative[word]
		switch {
		case pos && negated:
			r.Negative++
		case pos:
			r.Positive++
		case neg && !negated:
			r.Negative++
		}
	}

	if total := r.Positive + r.Negative; total > 0 {
		r.Score = float64(r.Positive-r.Negative) / float64(total)
	}
	switch {
	case r.Positive > r.Negative:
		r.Polarity = Positive
	case r.Negative > r.Positive:
		r.Polarity = Negative
	}
	return r
}

// Filter keeps posts that classify as Positive, preserving order.
func (c *Classifier) Filter(posts []storage.Post) (kept []storage.Post, dropped int) {
	kept = make([]storage.Post, 0, len(posts))
	for _, p := range posts {
		if c.Classify(p.Text).Polarity == Positive {
			kept = append(kept, p)
			continue
		}
		dropped++
	}
	return kept, dropped
}

// Keep reports whether a single post passes the filter.
func (c *Classifier) Keep(p storage.Post) bool {
	return c.Classify(p.Text).Polarity == Positive
}

func lexicon(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(w)), "#")
		if w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}

// tokenize lowercases text once and splits it into words, hashtags and
// single-symbol tokens (emoji). Apostrophes stay inside words.
func tokenize(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))

	// Estimate token count: roughly 1 token per 6 chars
	tokens := make([]string, 0, len(text)/6+1)
	var b strings.Builder
	flush := func() {
		if tok := strings.Trim(b.String(), "'"); tok != "" {
			tokens = append(tokens, tok)
		}
		b.Reset()
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\'':
			b.WriteRune(r)
		case r == '#' && b.Len() == 0:
			b.WriteRune(r)
		case unicode.Is(unicode.So, r):
			flush()
			tokens = append(tokens, string(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}
