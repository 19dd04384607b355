package flow

import (
	"testing"
	"time"

	"github.com/AbdouB/recall/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flowNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func handoff(id string, status models.Status, phase models.Phase, createdDaysAgo, updatedDaysAgo int) *models.Handoff {
	h := &models.Handoff{
		ID:      id,
		Title:   "title " + id,
		Status:  status,
		Phase:   phase,
		Created: flowNow.Add(-time.Duration(createdDaysAgo) * 24 * time.Hour),
		Updated: flowNow.Add(-time.Duration(updatedDaysAgo) * 24 * time.Hour),
	}
	if status == models.StatusBlocked {
		h.BlockedSince = h.Updated
	}
	return h
}

func TestComputeEmpty(t *testing.T) {
	stats := Compute(nil, flowNow, 3)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0.0, stats.AvgCycleDays)
	assert.Equal(t, 0.0, stats.AvgAgeDays)
	assert.Equal(t, 0.0, stats.CompletionRate)
	assert.Empty(t, stats.BlockedOverThreshold)
}

func TestComputeCounts(t *testing.T) {
	handoffs := []*models.Handoff{
		handoff("hf-0000001", models.StatusInProgress, models.PhaseImplementing, 10, 1),
		handoff("hf-0000002", models.StatusBlocked, models.PhaseResearch, 8, 5),
		handoff("hf-0000003", models.StatusCompleted, models.PhaseReview, 6, 2),
		handoff("hf-0000004", models.StatusNotStarted, models.PhaseResearch, 1, 1),
	}
	stats := Compute(handoffs, flowNow, 3)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Equal(t, 3, stats.ActiveCount)
	assert.Equal(t, 1, stats.BlockedCount)
	assert.Equal(t, 0.25, stats.CompletionRate)

	sum := 0
	for _, n := range stats.ByStatus {
		sum += n
	}
	assert.Equal(t, stats.Total, sum, "status counts partition the collection")

	phaseSum := 0
	for _, n := range stats.ByPhase {
		phaseSum += n
	}
	assert.Equal(t, stats.ActiveCount, phaseSum, "completed handoffs have no phase")
}

func TestBlockedAlertThreshold(t *testing.T) {
	handoffs := []*models.Handoff{
		handoff("hf-0000001", models.StatusBlocked, models.PhaseResearch, 10, 5),
		handoff("hf-0000002", models.StatusBlocked, models.PhaseResearch, 10, 2),
		handoff("hf-0000003", models.StatusInProgress, models.PhaseResearch, 10, 5),
	}
	stats := Compute(handoffs, flowNow, 3)

	require.Len(t, stats.BlockedOverThreshold, 1, "only blocked handoffs past the threshold alert")
	alert := stats.BlockedOverThreshold[0]
	assert.Equal(t, "hf-0000001", alert.ID)
	assert.Equal(t, 5, alert.DaysBlocked)
}

func TestBlockedAlertBoundary(t *testing.T) {
	// Exactly at the threshold is not over it.
	handoffs := []*models.Handoff{
		handoff("hf-0000001", models.StatusBlocked, models.PhaseResearch, 10, 3),
	}
	stats := Compute(handoffs, flowNow, 3)
	assert.Empty(t, stats.BlockedOverThreshold)
}

func TestBlockedAlertOrdering(t *testing.T) {
	handoffs := []*models.Handoff{
		handoff("hf-0000002", models.StatusBlocked, models.PhaseResearch, 20, 5),
		handoff("hf-0000003", models.StatusBlocked, models.PhaseResearch, 20, 9),
		handoff("hf-0000001", models.StatusBlocked, models.PhaseResearch, 20, 5),
	}
	stats := Compute(handoffs, flowNow, 3)

	require.Len(t, stats.BlockedOverThreshold, 3)
	assert.Equal(t, "hf-0000003", stats.BlockedOverThreshold[0].ID, "most overdue first")
	assert.Equal(t, "hf-0000001", stats.BlockedOverThreshold[1].ID, "ties break by id")
	assert.Equal(t, "hf-0000002", stats.BlockedOverThreshold[2].ID)
}

func TestAvgCycleDays(t *testing.T) {
	a := handoff("hf-0000001", models.StatusCompleted, models.PhaseReview, 6, 0)
	b := handoff("hf-0000002", models.StatusCompleted, models.PhaseReview, 2, 0)
	// Hand-edited data can yield a negative cycle; it must not poison the average.
	c := handoff("hf-0000003", models.StatusCompleted, models.PhaseReview, 0, 2)

	stats := Compute([]*models.Handoff{a, b, c}, flowNow, 3)
	assert.InDelta(t, 4.0, stats.AvgCycleDays, 1e-9)
}

func TestLessonCounts(t *testing.T) {
	lessons := []*models.Lesson{
		{ID: "ls-0001", Level: models.LevelProject},
		{ID: "ls-0002", Level: models.LevelProject},
		{ID: "ls-0003", Level: models.LevelSystem},
	}
	stats := LessonCounts(lessons)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByLevel[models.LevelProject])
	assert.Equal(t, 1, stats.ByLevel[models.LevelSystem])
}
