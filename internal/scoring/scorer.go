// Package scoring ranks lessons for context injection.
package scoring

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/AbdouB/recall/internal/models"
)

// Weights control the blend of the scoring terms. They sum to 1; when no
// query is given the query weight is redistributed across the rest.
type Weights struct {
	Rating   float64
	Recency  float64
	Velocity float64
	Query    float64
}

// DefaultWeights favor recency over raw confidence so a dormant high-rated
// lesson loses to a recently reused one.
var DefaultWeights = Weights{Rating: 0.25, Recency: 0.35, Velocity: 0.15, Query: 0.25}

const (
	// DefaultRecencyHalfLifeDays halves the recency term every 30 days idle
	DefaultRecencyHalfLifeDays = 30.0

	// DefaultQueryMaxLen caps accepted query length; longer queries are
	// truncated before matching, never rejected.
	DefaultQueryMaxLen = 400

	// velocityCap saturates the velocity boost
	velocityCap = 5.0
)

// Scorer computes relevance scores for lessons
type Scorer struct {
	weights         Weights
	recencyHalfLife float64
	queryMaxLen     int
}

// NewScorer creates a scorer with the given half-life and query cap.
// Non-positive arguments fall back to the defaults.
func NewScorer(recencyHalfLifeDays float64, queryMaxLen int) *Scorer {
	if recencyHalfLifeDays <= 0 {
		recencyHalfLifeDays = DefaultRecencyHalfLifeDays
	}
	if queryMaxLen <= 0 {
		queryMaxLen = DefaultQueryMaxLen
	}
	return &Scorer{weights: DefaultWeights, recencyHalfLife: recencyHalfLifeDays, queryMaxLen: queryMaxLen}
}

// Score computes the ranking score for one lesson. The score is monotonic in
// rating and in recency independently.
func (s *Scorer) Score(l *models.Lesson, query string, now time.Time) float64 {
	rating := l.Score / models.MaxScore
	recency := math.Exp(-math.Ln2 * l.DaysSinceUsed(now) / s.recencyHalfLife)
	velocity := math.Min(l.Velocity, velocityCap) / velocityCap

	query = truncateQuery(query, s.queryMaxLen)
	w := s.weights
	if query == "" {
		// Neutral fallback: rank by recency and confidence alone.
		base := w.Rating + w.Recency + w.Velocity
		return (w.Rating*rating + w.Recency*recency + w.Velocity*velocity) / base
	}
	match := queryMatch(query, l.Title, l.Content)
	return w.Rating*rating + w.Recency*recency + w.Velocity*velocity + w.Query*match
}

// Ranked pairs a lesson with its computed score
type Ranked struct {
	Lesson *models.Lesson
	Score  float64
}

// Rank scores and sorts lessons, highest first. Ties break by higher rating,
// then more recent last_used, then lower id, so the order is stable.
func (s *Scorer) Rank(lessons []*models.Lesson, query string, now time.Time) []Ranked {
	ranked := make([]Ranked, len(lessons))
	for i, l := range lessons {
		ranked[i] = Ranked{Lesson: l, Score: s.Score(l, query, now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Lesson.Score != b.Lesson.Score {
			return a.Lesson.Score > b.Lesson.Score
		}
		if !a.Lesson.LastUsed.Equal(b.Lesson.LastUsed) {
			return a.Lesson.LastUsed.After(b.Lesson.LastUsed)
		}
		return a.Lesson.ID < b.Lesson.ID
	})
	return ranked
}

// PackBudget selects the top lessons whose rendered form fits the byte
// budget, keeping whole entries only. A lesson that does not fit is skipped
// and the next one is tried, never truncated mid-body.
func PackBudget(ranked []Ranked, budget int, render func(*models.Lesson) string) []Ranked {
	if budget <= 0 {
		return nil
	}
	var out []Ranked
	used := 0
	for _, r := range ranked {
		n := len(render(r.Lesson))
		if used+n > budget {
			continue
		}
		out = append(out, r)
		used += n
	}
	return out
}

func truncateQuery(query string, maxLen int) string {
	query = strings.TrimSpace(query)
	if len(query) > maxLen {
		// Back off to a rune boundary so the cap never leaves a split rune.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(query[cut]) {
			cut--
		}
		query = query[:cut]
	}
	return query
}

// queryMatch scores token overlap between the query and the lesson's title
// and body. Title matches are worth more than body matches.
func queryMatch(query, title, body string) float64 {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return 0
	}
	titleLower := strings.ToLower(title)
	bodyLower := strings.ToLower(body)

	var total float64
	for _, tok := range tokens {
		total += tokenScore(tok, titleLower, bodyLower)
	}
	return total / float64(len(tokens))
}

// tokenScore takes the best match tier for a single token
func tokenScore(token, title, body string) float64 {
	var score float64
	switch {
	case containsWord(title, token):
		score = 1.0
	case strings.Contains(title, token):
		score = 0.7
	}
	if body != "" {
		switch {
		case containsWord(body, token):
			score = math.Max(score, 0.6)
		case strings.Contains(body, token):
			score = math.Max(score, 0.4)
		}
	}
	return score
}

// tokenize splits a query into lowercase alphanumeric tokens
func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var current strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// containsWord checks if text contains word bounded by non-alphanumerics.
// Every occurrence is checked, not just the first.
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], word)
		if idx == -1 {
			return false
		}
		idx += start
		if isWordAt(text, idx, len(word)) {
			return true
		}
		start = idx + 1
	}
}

func isWordAt(text string, idx, length int) bool {
	if idx > 0 {
		r := rune(text[idx-1])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	endIdx := idx + length
	if endIdx < len(text) {
		r := rune(text[endIdx])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
