package hooks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AbdouB/recall/internal/config"
	"github.com/AbdouB/recall/internal/debuglog"
	"github.com/AbdouB/recall/internal/dedup"
	"github.com/AbdouB/recall/internal/directive"
	"github.com/AbdouB/recall/internal/models"
	"github.com/AbdouB/recall/internal/scoring"
	"github.com/AbdouB/recall/internal/store"
)

// markerRetention is how long dedup markers for finished sessions are kept
const markerRetention = 7 * 24 * time.Hour

// Engine wires the stores, scorer and dedup tracker for one hook invocation
type Engine struct {
	cfg      *config.Config
	lessons  *store.LessonStore
	handoffs *store.HandoffStore
	sessions *store.SessionIndex
	tracker  *dedup.Tracker
	scorer   *scoring.Scorer
	log      *debuglog.Logger
	now      func() time.Time
}

// NewEngine builds an engine rooted at projectDir
func NewEngine(cfg *config.Config, projectDir string, log *debuglog.Logger) (*Engine, error) {
	tracker, err := dedup.Open(cfg.DedupDBPath())
	if err != nil {
		return nil, err
	}
	lockTimeout := time.Duration(cfg.LockTimeoutMS) * time.Millisecond
	return &Engine{
		cfg:      cfg,
		lessons:  store.NewLessonStore(cfg.ProjectLessonsPath(projectDir), cfg.SystemLessonsPath(), lockTimeout),
		handoffs: store.NewHandoffStore(cfg.HandoffsPath(projectDir), cfg.HandoffArchivePath(projectDir), lockTimeout),
		sessions: store.NewSessionIndex(cfg.SessionIndexPath(), lockTimeout),
		tracker:  tracker,
		scorer:   scoring.NewScorer(cfg.RecencyHalfLifeDays, cfg.QueryMaxLen),
		log:      log,
		now:      time.Now,
	}, nil
}

// Close releases the engine's resources
func (e *Engine) Close() error {
	return e.tracker.Close()
}

// SessionStart injects the top-ranked lessons and the active handoffs at the
// start of a session. It also runs the periodic velocity decay cycle, which
// piggybacks here because session starts are the natural heartbeat.
func (e *Engine) SessionStart(in Input) (string, error) {
	start := e.now()

	if n, err := e.lessons.Decay(store.DecayConfig{
		StateFile: e.cfg.DecayStatePath(),
		Interval:  time.Duration(e.cfg.DecayIntervalDays) * 24 * time.Hour,
	}, start); err != nil {
		e.log.Warn("decay failed", "error", err.Error())
	} else if n > 0 {
		e.log.Info("decay cycle", "lessons_changed", n)
	}

	if moved, err := e.handoffs.Archive(time.Duration(e.cfg.ArchiveAfterDays)*24*time.Hour, start); err != nil {
		e.log.Warn("archive sweep failed", "error", err.Error())
	} else if moved > 0 {
		e.log.Info("archive sweep", "moved", moved)
	}

	if n, err := e.tracker.Prune(markerRetention); err != nil {
		e.log.Warn("marker prune failed", "error", err.Error())
	} else if n > 0 {
		e.log.Debug("marker prune", "removed", n)
	}

	lessonText, lessonCount, err := e.rankAndPack(in.SessionID, "")
	if err != nil {
		return "", err
	}
	handoffText, handoffCount, err := e.activeHandoffs(in.SessionID)
	if err != nil {
		return "", err
	}

	var sections []string
	if handoffText != "" {
		sections = append(sections, "# Open work\n\n"+handoffText)
	}
	if lessonText != "" {
		sections = append(sections, "# Lessons from past sessions\n\n"+lessonText)
	}
	text := strings.Join(sections, "\n\n")

	e.log.Injection("session-start", in.SessionID, lessonCount, handoffCount, len(text), e.now().Sub(start))
	return text, nil
}

// Prompt injects lessons relevant to the user's prompt
func (e *Engine) Prompt(in Input) (string, error) {
	start := e.now()
	text, count, err := e.rankAndPack(in.SessionID, in.Prompt)
	if err != nil {
		return "", err
	}
	if text != "" {
		text = "# Relevant lessons\n\n" + text
	}
	e.log.Injection("prompt", in.SessionID, count, 0, len(text), e.now().Sub(start))
	return text, nil
}

// rankAndPack scores lessons against the query, packs whole entries into the
// byte budget, and filters out anything already injected this session.
func (e *Engine) rankAndPack(sessionID, query string) (string, int, error) {
	lessons, issues, err := e.lessons.List()
	if err != nil {
		return "", 0, err
	}
	for _, issue := range issues {
		e.log.Warn("skipped malformed entry", "id", issue.ID, "line", issue.Line, "reason", issue.Reason)
	}
	if len(lessons) == 0 {
		return "", 0, nil
	}

	ranked := e.scorer.Rank(lessons, query, e.now())
	packed := scoring.PackBudget(ranked, e.cfg.InjectBudgetBytes, renderLesson)

	items := make([]dedup.Item, len(packed))
	for i, r := range packed {
		items[i] = dedup.Item{
			Fingerprint: dedup.Fingerprint(r.Lesson.ID, r.Lesson.Title+"\n"+r.Lesson.Content),
			Text:        renderLesson(r.Lesson),
		}
	}
	fresh, err := e.tracker.Filter(sessionID, items)
	if err != nil {
		return "", 0, err
	}
	if len(fresh) == 0 {
		return "", 0, nil
	}

	lines := make([]string, len(fresh))
	for i, item := range fresh {
		lines[i] = item.Text
	}
	lines = dedup.SquashRepeats(lines)
	return strings.Join(lines, "\n"), len(lines), nil
}

func renderLesson(l *models.Lesson) string {
	return fmt.Sprintf("- %s %s [%s]: %s\n", l.Rating(), l.Title, l.Category, l.Content)
}

// activeHandoffs renders every non-completed handoff, flagging the one this
// session is linked to.
func (e *Engine) activeHandoffs(sessionID string) (string, int, error) {
	handoffs, issues, err := e.handoffs.List()
	if err != nil {
		return "", 0, err
	}
	for _, issue := range issues {
		e.log.Warn("skipped malformed entry", "id", issue.ID, "line", issue.Line, "reason", issue.Reason)
	}

	current, err := e.sessions.Get(sessionID)
	if err != nil {
		e.log.Warn("session index unreadable", "error", err.Error())
	}

	var b strings.Builder
	count := 0
	for _, h := range handoffs {
		if h.Status == models.StatusCompleted {
			continue
		}
		count++
		marker := ""
		if h.ID == current {
			marker = " (this session)"
		}
		fmt.Fprintf(&b, "- [%s] %s — %s/%s%s\n", h.ID, h.Title, h.Status, h.Phase, marker)
		if h.Next != "" {
			fmt.Fprintf(&b, "  next: %s\n", h.Next)
		}
		if len(h.Tried) > 0 {
			last := h.Tried[len(h.Tried)-1]
			fmt.Fprintf(&b, "  last tried: [%s] %s\n", last.Outcome, last.Description)
		}
	}
	return b.String(), count, nil
}

// StopResult summarizes what a stop hook extracted and applied
type StopResult struct {
	Applied     int                       `json:"applied"`
	Completions []*store.CompletionResult `json:"completions,omitempty"`
	Errors      []string                  `json:"errors,omitempty"`
}

// Stop scans the session transcript for directives and applies them. Each
// directive is applied independently; one failure never blocks the rest.
func (e *Engine) Stop(in Input) (*StopResult, error) {
	text, err := readTranscript(in.TranscriptPath)
	if err != nil {
		return nil, err
	}
	result := &StopResult{}
	now := e.now()

	for _, d := range directive.Parse(text) {
		if err := e.apply(d, in.SessionID, now, result); err != nil {
			e.log.Warn("directive failed", "error", err.Error())
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Applied++
	}
	return result, nil
}

func (e *Engine) apply(d directive.Directive, sessionID string, now time.Time, result *StopResult) error {
	switch d := d.(type) {
	case directive.NewLesson:
		_, err := e.lessons.Add(store.AddLessonInput{
			Level:         d.Level,
			Category:      d.Category,
			Title:         d.Title,
			Content:       d.Content,
			Source:        models.SourceAI,
			SourceSession: sessionID,
		}, now)
		return err
	case directive.NewHandoff:
		h, err := e.handoffs.Add(d.Title, "", now)
		if err != nil {
			return err
		}
		if err := e.handoffs.LinkSession(h.ID, sessionID, now); err != nil {
			return err
		}
		return e.sessions.Set(sessionID, h.ID, now)
	case directive.HandoffStep:
		return e.handoffs.AddTried(d.ID, d.Outcome, d.Description, now)
	case directive.HandoffUpdate:
		if d.Description != "" {
			desc := d.Description
			if err := e.handoffs.Update(d.ID, store.HandoffEdit{Description: &desc}, now); err != nil {
				return err
			}
		}
		if d.Status != "" {
			_, err := e.handoffs.Transition(d.ID, d.Status, now)
			return err
		}
		return nil
	case directive.CompleteHandoff:
		completion, err := e.handoffs.Complete(d.ID, now)
		if err != nil {
			return err
		}
		result.Completions = append(result.Completions, completion)
		return nil
	}
	return fmt.Errorf("unhandled directive %T", d)
}

// transcriptLine is one JSONL record of the host's session transcript. Only
// assistant text blocks matter here.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// readTranscript concatenates the assistant text blocks of a transcript.
// A missing transcript is empty, not an error.
func readTranscript(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "assistant" {
			continue
		}
		for _, block := range line.Message.Content {
			if block.Type == "text" && block.Text != "" {
				b.WriteString(block.Text)
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), scanner.Err()
}
