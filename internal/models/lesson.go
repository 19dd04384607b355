package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a record id does not exist in any scope.
var ErrNotFound = errors.New("record not found")

// Level determines where a lesson is stored and when it applies
type Level string

const (
	LevelSystem  Level = "system"  // Applies across all projects
	LevelProject Level = "project" // Scoped to one project directory
)

// Category is a closed tag set for lessons
type Category string

const (
	CategoryPattern    Category = "pattern"
	CategoryGotcha     Category = "gotcha"
	CategoryPreference Category = "preference"
	CategoryFact       Category = "fact"
	CategoryTool       Category = "tool"
	CategoryProcess    Category = "process"
)

// Source records whether a lesson was entered by a human or extracted by the AI
type Source string

const (
	SourceHuman Source = "human"
	SourceAI    Source = "ai"
)

// Score granularity and rating bar geometry. One bar slot is half a point,
// so a 0-5 score maps onto ten slots without loss.
const (
	MaxScore    = 5.0
	ScoreStep   = 0.5
	RatingSlots = 10
)

const (
	ratingFilled = '▰'
	ratingEmpty  = '▱'
)

// PromoteVelocity is the reuse velocity at which a citation also bumps the score
const PromoteVelocity = 2.0

// MetaField is an unrecognized key=value pair from a record's meta line,
// preserved in order so unknown fields survive a rewrite.
type MetaField struct {
	Key   string
	Value string
}

// Lesson is a persisted, ratable unit of learned knowledge
type Lesson struct {
	ID            string
	Title         string
	Content       string
	Level         Level
	Category      Category
	Score         float64 // 0 to MaxScore in ScoreStep increments
	Uses          int
	Velocity      float64 // rate of recent reuse; decays between cycles
	Learned       time.Time
	LastUsed      time.Time
	Source        Source
	SourceSession string // provenance for ai-sourced lessons
	Extra         []MetaField
}

// NewLesson creates a lesson learned now
func NewLesson(id string, level Level, category Category, title, content string, now time.Time) *Lesson {
	day := now.Truncate(24 * time.Hour)
	return &Lesson{
		ID:       id,
		Title:    title,
		Content:  content,
		Level:    level,
		Category: category,
		Score:    ScoreStep, // every lesson starts with half a point
		Uses:     0,
		Velocity: 0,
		Learned:  day,
		LastUsed: day,
		Source:   SourceHuman,
	}
}

// Rating renders the score as a bracketed ten-slot bar, e.g. [▰▰▰▱▱▱▱▱▱▱]
func (l *Lesson) Rating() string {
	return FormatRating(l.Score)
}

// Cite records a successful reuse: uses and velocity go up, last_used is
// refreshed, and a sufficiently hot lesson earns a half-step promotion.
func (l *Lesson) Cite(now time.Time) {
	l.Uses++
	l.Velocity++
	l.LastUsed = now.Truncate(24 * time.Hour)
	if l.Velocity >= PromoteVelocity && l.Score < MaxScore {
		l.Score += ScoreStep
	}
}

// Demote explicitly lowers the score by one step. This is the only path by
// which a score decreases.
func (l *Lesson) Demote() {
	if l.Score >= ScoreStep {
		l.Score -= ScoreStep
	}
}

// DaysSinceUsed returns fractional days between last_used and now
func (l *Lesson) DaysSinceUsed(now time.Time) float64 {
	d := now.Sub(l.LastUsed).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// FormatRating maps a score to the fixed-width bar glyph encoding
func FormatRating(score float64) string {
	filled := int(score/ScoreStep + 0.5)
	if filled < 0 {
		filled = 0
	}
	if filled > RatingSlots {
		filled = RatingSlots
	}
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < RatingSlots; i++ {
		if i < filled {
			b.WriteRune(ratingFilled)
		} else {
			b.WriteRune(ratingEmpty)
		}
	}
	b.WriteByte(']')
	return b.String()
}

// ParseRating maps a bar back to its score. The bar must be exactly
// RatingSlots glyphs in brackets with all filled slots before empty ones.
func ParseRating(bar string) (float64, error) {
	runes := []rune(bar)
	if len(runes) != RatingSlots+2 || runes[0] != '[' || runes[len(runes)-1] != ']' {
		return 0, fmt.Errorf("malformed rating bar %q", bar)
	}
	filled := 0
	seenEmpty := false
	for _, r := range runes[1 : len(runes)-1] {
		switch r {
		case ratingFilled:
			if seenEmpty {
				return 0, fmt.Errorf("malformed rating bar %q", bar)
			}
			filled++
		case ratingEmpty:
			seenEmpty = true
		default:
			return 0, fmt.Errorf("malformed rating bar %q", bar)
		}
	}
	return float64(filled) * ScoreStep, nil
}

// ValidLevel reports whether s names a known level
func ValidLevel(s string) bool {
	switch Level(s) {
	case LevelSystem, LevelProject:
		return true
	}
	return false
}

// ValidCategory reports whether s names a known category
func ValidCategory(s string) bool {
	switch Category(s) {
	case CategoryPattern, CategoryGotcha, CategoryPreference, CategoryFact, CategoryTool, CategoryProcess:
		return true
	}
	return false
}

// ValidSource reports whether s names a known source
func ValidSource(s string) bool {
	switch Source(s) {
	case SourceHuman, SourceAI:
		return true
	}
	return false
}
