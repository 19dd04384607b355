package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatingRoundTrip(t *testing.T) {
	for score := 0.0; score <= MaxScore; score += ScoreStep {
		bar := FormatRating(score)
		parsed, err := ParseRating(bar)
		require.NoError(t, err, "bar %q", bar)
		assert.Equal(t, score, parsed, "bar %q", bar)
	}
}

func TestParseRatingRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"missing brackets":   "▰▰▱▱▱▱▱▱▱▱",
		"nine slots":         "[▰▰▱▱▱▱▱▱▱]",
		"eleven slots":       "[▰▰▱▱▱▱▱▱▱▱▱]",
		"filled after empty": "[▱▰▱▱▱▱▱▱▱▱]",
		"wrong glyphs":       "[**▱▱▱▱▱▱▱▱]",
	}
	for name, bar := range cases {
		_, err := ParseRating(bar)
		assert.Error(t, err, name)
	}
}

func TestNewLessonStartsLow(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	l := NewLesson("ls-0001", LevelProject, CategoryGotcha, "title", "content", now)
	assert.Equal(t, ScoreStep, l.Score)
	assert.Equal(t, 0, l.Uses)
	assert.Equal(t, SourceHuman, l.Source)
}

func TestCitePromotesWhenHot(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	l := NewLesson("ls-0001", LevelProject, CategoryPattern, "t", "c", now)

	l.Cite(now)
	assert.Equal(t, 1, l.Uses)
	assert.Equal(t, ScoreStep, l.Score, "first cite is below promote velocity")

	l.Cite(now)
	assert.Equal(t, 2, l.Uses)
	assert.Equal(t, 2*ScoreStep, l.Score, "second cite reaches promote velocity")
}

func TestCiteNeverExceedsMaxScore(t *testing.T) {
	now := time.Now()
	l := NewLesson("ls-0001", LevelProject, CategoryPattern, "t", "c", now)
	l.Score = MaxScore
	l.Velocity = 10
	l.Cite(now)
	assert.Equal(t, MaxScore, l.Score)
}

func TestDemoteFloorsAtZero(t *testing.T) {
	now := time.Now()
	l := NewLesson("ls-0001", LevelProject, CategoryPattern, "t", "c", now)
	l.Demote()
	assert.Equal(t, 0.0, l.Score)
	l.Demote()
	assert.Equal(t, 0.0, l.Score, "demote at zero is a no-op")
}

func TestDaysSinceUsedClampsNegative(t *testing.T) {
	now := time.Now()
	l := NewLesson("ls-0001", LevelProject, CategoryPattern, "t", "c", now)
	l.LastUsed = now.Add(48 * time.Hour) // clock skew
	assert.Equal(t, 0.0, l.DaysSinceUsed(now))
}
