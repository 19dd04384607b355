package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AbdouB/recall/internal/config"
	"github.com/AbdouB/recall/internal/debuglog"
	"github.com/AbdouB/recall/internal/models"
	"github.com/AbdouB/recall/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine     *Engine
	lessons    *store.LessonStore
	handoffs   *store.HandoffStore
	sessions   *store.SessionIndex
	projectDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	projectDir := t.TempDir()

	engine, err := NewEngine(cfg, projectDir, debuglog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	lockTimeout := time.Duration(cfg.LockTimeoutMS) * time.Millisecond
	return &testEnv{
		engine:     engine,
		lessons:    store.NewLessonStore(cfg.ProjectLessonsPath(projectDir), cfg.SystemLessonsPath(), lockTimeout),
		handoffs:   store.NewHandoffStore(cfg.HandoffsPath(projectDir), cfg.HandoffArchivePath(projectDir), lockTimeout),
		sessions:   store.NewSessionIndex(cfg.SessionIndexPath(), lockTimeout),
		projectDir: projectDir,
	}
}

func TestSessionStartInjectsOncePerSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.lessons.Add(store.AddLessonInput{
		Level:    models.LevelProject,
		Category: models.CategoryGotcha,
		Title:    "CGO off by default",
		Content:  "sqlite needs CGO_ENABLED=1",
	}, time.Now())
	require.NoError(t, err)

	text, err := env.engine.SessionStart(Input{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Contains(t, text, "CGO off by default")

	again, err := env.engine.SessionStart(Input{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.NotContains(t, again, "CGO off by default", "same session never sees the same lesson twice")

	other, err := env.engine.SessionStart(Input{SessionID: "sess-2"})
	require.NoError(t, err)
	assert.Contains(t, other, "CGO off by default", "a new session starts fresh")
}

func TestSessionStartShowsOpenWork(t *testing.T) {
	env := newTestEnv(t)
	h, err := env.handoffs.Add("wire the parser", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, env.handoffs.Update(h.ID, store.HandoffEdit{Next: ptr("connect the store")}, time.Now()))

	text, err := env.engine.SessionStart(Input{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Contains(t, text, h.ID)
	assert.Contains(t, text, "wire the parser")
	assert.Contains(t, text, "connect the store")
}

func TestSessionStartOmitsCompletedWork(t *testing.T) {
	env := newTestEnv(t)
	h, err := env.handoffs.Add("done already", "", time.Now())
	require.NoError(t, err)
	_, err = env.handoffs.Transition(h.ID, models.StatusInProgress, time.Now())
	require.NoError(t, err)
	_, err = env.handoffs.Complete(h.ID, time.Now())
	require.NoError(t, err)

	text, err := env.engine.SessionStart(Input{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.NotContains(t, text, "done already")
}

func TestPromptRanksAgainstQuery(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.lessons.Add(store.AddLessonInput{
		Level: models.LevelProject, Category: models.CategoryFact,
		Title: "sqlite wal mode", Content: "readers do not block writers",
	}, time.Now())
	require.NoError(t, err)

	text, err := env.engine.Prompt(Input{SessionID: "sess-1", Prompt: "why is sqlite locking up"})
	require.NoError(t, err)
	assert.Contains(t, text, "sqlite wal mode")
}

func TestStopAppliesDirectives(t *testing.T) {
	env := newTestEnv(t)
	transcript := writeTranscript(t, []string{
		"Investigated the build failure.",
		"LESSON: [gotcha] CGO off by default - sqlite needs CGO_ENABLED=1",
		"HANDOFF: Finish the config layer",
	})

	result, err := env.engine.Stop(Input{SessionID: "sess-9", TranscriptPath: transcript})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Empty(t, result.Errors)

	lessons, _, err := env.lessons.List()
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, models.SourceAI, lessons[0].Source)
	assert.Equal(t, "sess-9", lessons[0].SourceSession)

	handoffs, _, err := env.handoffs.List()
	require.NoError(t, err)
	require.Len(t, handoffs, 1)
	assert.Equal(t, "Finish the config layer", handoffs[0].Title)
	assert.Equal(t, []string{"sess-9"}, handoffs[0].Sessions)

	linked, err := env.sessions.Get("sess-9")
	require.NoError(t, err)
	assert.Equal(t, handoffs[0].ID, linked)
}

func TestStopContinuesPastFailingDirective(t *testing.T) {
	env := newTestEnv(t)
	transcript := writeTranscript(t, []string{
		"HANDOFF COMPLETE hf-9999999",
		"LESSON: [fact] still lands - one bad directive does not block the rest",
	})

	result, err := env.engine.Stop(Input{SessionID: "sess-1", TranscriptPath: transcript})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	require.Len(t, result.Errors, 1)

	lessons, _, err := env.lessons.List()
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
}

func TestStopWithMissingTranscript(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.engine.Stop(Input{SessionID: "sess-1", TranscriptPath: "/does/not/exist.jsonl"})
	require.NoError(t, err)
	assert.Zero(t, result.Applied)
}

func TestReadInputMintsSessionID(t *testing.T) {
	in := ReadInput(strings.NewReader(`{"cwd":"/tmp","hook_event_name":"SessionStart"}`))
	assert.Equal(t, "/tmp", in.CWD)
	assert.NotEmpty(t, in.SessionID, "missing session ids get a throwaway")

	in = ReadInput(strings.NewReader("not json at all"))
	assert.NotEmpty(t, in.SessionID)
}

func TestContextOutput(t *testing.T) {
	out := ContextOutput("UserPromptSubmit", "")
	assert.Nil(t, out.HookSpecificOutput)

	out = ContextOutput("UserPromptSubmit", "context here")
	require.NotNil(t, out.HookSpecificOutput)
	assert.Equal(t, "UserPromptSubmit", out.HookSpecificOutput.HookEventName)
	assert.Equal(t, "context here", out.HookSpecificOutput.AdditionalContext)
}

func writeTranscript(t *testing.T, assistantTexts []string) string {
	t.Helper()
	var lines []string
	lines = append(lines, `{"type":"user","message":{"content":[{"type":"text","text":"do the thing"}]}}`)
	for _, text := range assistantTexts {
		line, err := transcriptJSON(text)
		require.NoError(t, err)
		lines = append(lines, line)
	}
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func transcriptJSON(text string) (string, error) {
	payload := map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]string{{"type": "text", "text": text}},
		},
	}
	data, err := json.Marshal(payload)
	return string(data), err
}

func ptr[T any](v T) *T { return &v }
