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

func newTestLessonStore(t *testing.T) *LessonStore {
	t.Helper()
	dir := t.TempDir()
	return NewLessonStore(
		filepath.Join(dir, "project", "LESSONS.md"),
		filepath.Join(dir, "system", "LESSONS.md"),
		DefaultLockTimeout,
	)
}

var storeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestAddAssignsSequentialIDs(t *testing.T) {
	s := newTestLessonStore(t)

	a, err := s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryPattern, Title: "a", Content: "aa"}, storeNow)
	require.NoError(t, err)
	assert.Equal(t, "ls-0001", a.ID)

	b, err := s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryFact, Title: "b", Content: "bb"}, storeNow)
	require.NoError(t, err)
	assert.Equal(t, "ls-0002", b.ID)

	// System scope numbers independently.
	c, err := s.Add(AddLessonInput{Level: models.LevelSystem, Category: models.CategoryFact, Title: "c", Content: "cc"}, storeNow)
	require.NoError(t, err)
	assert.Equal(t, "ls-0001", c.ID)
}

func TestAddRejectsUnknownEnums(t *testing.T) {
	s := newTestLessonStore(t)
	_, err := s.Add(AddLessonInput{Level: "galaxy", Category: models.CategoryFact, Title: "t", Content: "c"}, storeNow)
	assert.Error(t, err)
	_, err = s.Add(AddLessonInput{Level: models.LevelProject, Category: "vibes", Title: "t", Content: "c"}, storeNow)
	assert.Error(t, err)
}

func TestCitePersists(t *testing.T) {
	s := newTestLessonStore(t)
	added, err := s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryPattern, Title: "t", Content: "c"}, storeNow)
	require.NoError(t, err)

	require.NoError(t, s.Cite(added.ID, storeNow))
	require.NoError(t, s.Cite(added.ID, storeNow))

	got, err := s.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Uses)
	assert.Equal(t, 2*models.ScoreStep, got.Score, "second cite promotes")
}

func TestEditAndDelete(t *testing.T) {
	s := newTestLessonStore(t)
	added, err := s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryPattern, Title: "t", Content: "c"}, storeNow)
	require.NoError(t, err)

	title := "new title"
	category := models.CategoryGotcha
	require.NoError(t, s.Edit(added.ID, LessonEdit{Title: &title, Category: &category}))

	got, err := s.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, models.CategoryGotcha, got.Category)

	require.NoError(t, s.Delete(added.ID))
	_, err = s.Get(added.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.Delete(added.ID), models.ErrNotFound)
}

func TestDecayHalvesVelocity(t *testing.T) {
	s := newTestLessonStore(t)
	added, err := s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryPattern, Title: "t", Content: "c"}, storeNow)
	require.NoError(t, err)
	require.NoError(t, s.Cite(added.ID, storeNow))
	require.NoError(t, s.Cite(added.ID, storeNow))
	require.NoError(t, s.Cite(added.ID, storeNow))

	stateFile := filepath.Join(t.TempDir(), "decay_state.json")
	cfg := DecayConfig{StateFile: stateFile, Interval: 7 * 24 * time.Hour}

	changed, err := s.Decay(cfg, storeNow)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := s.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Velocity)

	// Within the interval the cycle is a no-op unless forced.
	changed, err = s.Decay(cfg, storeNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, changed)

	cfg.Force = true
	changed, err = s.Decay(cfg, storeNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
}

func TestListMergesScopes(t *testing.T) {
	s := newTestLessonStore(t)
	_, err := s.Add(AddLessonInput{Level: models.LevelSystem, Category: models.CategoryFact, Title: "sys", Content: "c"}, storeNow)
	require.NoError(t, err)
	_, err = s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryFact, Title: "proj", Content: "c"}, storeNow)
	require.NoError(t, err)

	all, issues, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, all, 2)
	assert.Equal(t, "sys", all[0].Title, "system scope lists first")
	assert.Equal(t, "proj", all[1].Title)
}

func TestMutationPreservesSkippedEntries(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "LESSONS.md")
	s := NewLessonStore(projectPath, filepath.Join(dir, "sys", "LESSONS.md"), DefaultLockTimeout)

	seed := strings.Join([]string{
		"# Lessons",
		"",
		"## [ls-0001] good",
		"meta: level=project | category=fact | rating=[▰▱▱▱▱▱▱▱▱▱] | uses=0 | velocity=0.00 | learned=2026-01-01 | last_used=2026-01-01 | source=human",
		"",
		"## [ls-0002] hand-edited bad date",
		"meta: level=project | category=fact | rating=[▰▱▱▱▱▱▱▱▱▱] | uses=0 | velocity=0.00 | learned=2026-03-01 | last_used=2026-01-01 | source=human",
		"",
		"body worth keeping",
	}, "\n")
	require.NoError(t, os.WriteFile(projectPath, []byte(seed), 0644))

	require.NoError(t, s.Cite("ls-0001", storeNow))

	data, err := os.ReadFile(projectPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## [ls-0002] hand-edited bad date",
		"an unrelated mutation must not delete a skipped entry")
	assert.Contains(t, string(data), "body worth keeping")

	_, issues, err := s.List()
	require.NoError(t, err)
	require.Len(t, issues, 1, "the preserved entry is still reported")

	// The skipped entry's id stays reserved.
	added, err := s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryFact, Title: "t", Content: "c"}, storeNow)
	require.NoError(t, err)
	assert.Equal(t, "ls-0003", added.ID)
}

func TestDeleteMissingLeavesFilesUntouched(t *testing.T) {
	s := newTestLessonStore(t)
	_, err := s.Add(AddLessonInput{Level: models.LevelProject, Category: models.CategoryFact, Title: "t", Content: "c"}, storeNow)
	require.NoError(t, err)

	before, err := os.ReadFile(s.projectPath)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete("ls-9999"), models.ErrNotFound)
	assert.ErrorIs(t, s.Cite("ls-9999", storeNow), models.ErrNotFound)

	after, err := os.ReadFile(s.projectPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "a miss must not rewrite the file")
}

func TestLockTimeout(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "LESSONS.md")

	// Simulate a live competing invocation with a fresh lockfile.
	require.NoError(t, os.WriteFile(target+".lock", []byte("{}"), 0644))

	err := withLock(target, 100*time.Millisecond, func() error { return nil })
	require.Error(t, err)

	var timeout *LockTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.GreaterOrEqual(t, timeout.Waited, 100*time.Millisecond)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "LESSONS.md")
	lockPath := target + ".lock"

	require.NoError(t, os.WriteFile(lockPath, []byte("{}"), 0644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	ran := false
	require.NoError(t, withLock(target, 100*time.Millisecond, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestWriteFileAtomicCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "file.md")
	require.NoError(t, writeFileAtomic(path, []byte("data")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
