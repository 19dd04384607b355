package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AbdouB/recall/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandoffStore(t *testing.T) *HandoffStore {
	t.Helper()
	dir := t.TempDir()
	return NewHandoffStore(
		filepath.Join(dir, "HANDOFFS.md"),
		filepath.Join(dir, "HANDOFFS_ARCHIVE.md"),
		DefaultLockTimeout,
	)
}

func TestHandoffAddAndGet(t *testing.T) {
	s := newTestHandoffStore(t)

	h, err := s.Add("wire the parser", "nothing calls it yet", storeNow)
	require.NoError(t, err)
	assert.Equal(t, "hf-0000001", h.ID)
	assert.Equal(t, models.StatusNotStarted, h.Status)
	assert.Equal(t, models.PhaseResearch, h.Phase)

	got, err := s.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "wire the parser", got.Title)
	assert.Equal(t, "nothing calls it yet", got.Description)

	_, err = s.Get("hf-9999999")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandoffLifecycleThroughStore(t *testing.T) {
	s := newTestHandoffStore(t)
	h, err := s.Add("task", "", storeNow)
	require.NoError(t, err)

	updated, err := s.Transition(h.ID, models.StatusInProgress, storeNow)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)

	_, err = s.Transition(h.ID, models.StatusNotStarted, storeNow)
	var invalid *models.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))

	// The rejected transition must not have been persisted.
	got, err := s.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestAddTriedAppends(t *testing.T) {
	s := newTestHandoffStore(t)
	h, err := s.Add("task", "", storeNow)
	require.NoError(t, err)

	require.NoError(t, s.AddTried(h.ID, models.OutcomeFail, "direct call, import cycle", storeNow))
	require.NoError(t, s.AddTried(h.ID, models.OutcomeSuccess, "moved behind an interface", storeNow))
	assert.Error(t, s.AddTried(h.ID, "shrug", "bad outcome", storeNow))

	got, err := s.Get(h.ID)
	require.NoError(t, err)
	require.Len(t, got.Tried, 2)
	assert.Equal(t, models.OutcomeFail, got.Tried[0].Outcome)
	assert.Equal(t, models.OutcomeSuccess, got.Tried[1].Outcome)
}

func TestCompleteFreezesHandoff(t *testing.T) {
	s := newTestHandoffStore(t)
	h, err := s.Add("task", "", storeNow)
	require.NoError(t, err)
	_, err = s.Transition(h.ID, models.StatusInProgress, storeNow)
	require.NoError(t, err)

	result, err := s.Complete(h.ID, storeNow)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, result.Before.Status)
	assert.Equal(t, models.StatusCompleted, result.After.Status)

	desc := "too late"
	err = s.Update(h.ID, HandoffEdit{Description: &desc}, storeNow)
	assert.ErrorIs(t, err, models.ErrImmutable)
	assert.ErrorIs(t, s.AddTried(h.ID, models.OutcomeFail, "too late", storeNow), models.ErrImmutable)
}

func TestUpdateFields(t *testing.T) {
	s := newTestHandoffStore(t)
	h, err := s.Add("task", "", storeNow)
	require.NoError(t, err)

	next := "run the integration suite"
	phase := models.PhaseImplementing
	later := storeNow.Add(time.Hour)
	require.NoError(t, s.Update(h.ID, HandoffEdit{
		Next:  &next,
		Phase: &phase,
		Files: []string{"a.go", "b.go"},
	}, later))

	got, err := s.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, next, got.Next)
	assert.Equal(t, phase, got.Phase)
	assert.Equal(t, []string{"a.go", "b.go"}, got.Files)
	assert.Equal(t, later, got.Updated)

	bad := models.Phase("dreaming")
	assert.Error(t, s.Update(h.ID, HandoffEdit{Phase: &bad}, later))
}

func TestLinkSession(t *testing.T) {
	s := newTestHandoffStore(t)
	h, err := s.Add("task", "", storeNow)
	require.NoError(t, err)

	require.NoError(t, s.LinkSession(h.ID, "sess-1", storeNow))
	require.NoError(t, s.LinkSession(h.ID, "sess-1", storeNow))
	require.NoError(t, s.LinkSession(h.ID, "sess-2", storeNow))

	got, err := s.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1", "sess-2"}, got.Sessions)
}

func TestHandoffMutationPreservesSkippedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "HANDOFFS.md")
	s := NewHandoffStore(path, filepath.Join(dir, "HANDOFFS_ARCHIVE.md"), DefaultLockTimeout)

	seed := strings.Join([]string{
		"# Handoffs",
		"",
		"## [hf-0000001] good",
		"meta: status=in_progress | phase=research | created=2026-03-01T09:00:00Z | updated=2026-03-01T09:00:00Z",
		"",
		"## [hf-0000002] hand-edited unknown status",
		"meta: status=paused | phase=research | created=2026-03-01T09:00:00Z | updated=2026-03-01T09:00:00Z",
		"",
		"context worth keeping",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0644))

	require.NoError(t, s.AddTried("hf-0000001", models.OutcomeFail, "first attempt", storeNow))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## [hf-0000002] hand-edited unknown status")
	assert.Contains(t, string(data), "context worth keeping")

	// The skipped entry's id stays reserved.
	added, err := s.Add("new work", "", storeNow)
	require.NoError(t, err)
	assert.Equal(t, "hf-0000003", added.ID)
}

func TestArchiveMovesOldCompleted(t *testing.T) {
	s := newTestHandoffStore(t)

	old, err := s.Add("old completed", "", storeNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	_, err = s.Transition(old.ID, models.StatusInProgress, storeNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	_, err = s.Complete(old.ID, storeNow.Add(-10*24*time.Hour))
	require.NoError(t, err)

	fresh, err := s.Add("fresh completed", "", storeNow)
	require.NoError(t, err)
	_, err = s.Transition(fresh.ID, models.StatusInProgress, storeNow)
	require.NoError(t, err)
	_, err = s.Complete(fresh.ID, storeNow)
	require.NoError(t, err)

	active, err := s.Add("still open", "", storeNow)
	require.NoError(t, err)

	moved, err := s.Archive(7*24*time.Hour, storeNow)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	remaining, _, err := s.List()
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	ids := []string{remaining[0].ID, remaining[1].ID}
	assert.Contains(t, ids, fresh.ID)
	assert.Contains(t, ids, active.ID)
	assert.NotContains(t, ids, old.ID)

	// Archived ids are never reused for new handoffs.
	next, err := s.Add("newest", "", storeNow)
	require.NoError(t, err)
	assert.Equal(t, "hf-0000004", next.ID)
}
