// Package directive recognizes structured commands embedded in assistant
// output. Each recognized line becomes a tagged variant; everything else is
// ignored so a garbled directive can never fail a hook.
package directive

import (
	"regexp"
	"strings"

	"github.com/AbdouB/recall/internal/models"
)

// Directive is a parsed command from assistant text. Exactly one of the
// variant types below implements it.
type Directive interface {
	isDirective()
}

// NewLesson records a fresh lesson
type NewLesson struct {
	Level    models.Level
	Category models.Category
	Title    string
	Content  string
}

// NewHandoff opens a new work item
type NewHandoff struct {
	Title string
}

// HandoffStep appends to a handoff's tried log
type HandoffStep struct {
	ID          string
	Outcome     models.Outcome
	Description string
}

// HandoffUpdate changes a handoff's description and optionally its status
type HandoffUpdate struct {
	ID          string
	Status      models.Status // empty when only the description changes
	Description string
}

// CompleteHandoff marks a handoff completed
type CompleteHandoff struct {
	ID string
}

func (NewLesson) isDirective()       {}
func (NewHandoff) isDirective()      {}
func (HandoffStep) isDirective()     {}
func (HandoffUpdate) isDirective()   {}
func (CompleteHandoff) isDirective() {}

var (
	// LESSON: [category] Title - Content   (LESSON SYSTEM: for system level)
	lessonRe = regexp.MustCompile(`(?m)^LESSON(?:\s+(SYSTEM))?:\s*(?:\[(\w+)\]\s*)?(.+?)\s+[-—–]\s+(.+)$`)

	// HANDOFF: Title
	handoffStartRe = regexp.MustCompile(`(?m)^HANDOFF:\s*(.+)$`)

	// HANDOFF UPDATE hf-0000001: tried fail - description
	// HANDOFF UPDATE hf-0000001: blocked - description
	// HANDOFF UPDATE hf-0000001: description
	handoffUpdateRe = regexp.MustCompile(`(?m)^HANDOFF\s+UPDATE\s+([A-Za-z0-9-]+):\s*(tried\s+)?(\S+)?\s*[-—–]?\s*(.*)$`)

	// HANDOFF COMPLETE hf-0000001
	handoffCompleteRe = regexp.MustCompile(`(?m)^HANDOFF\s+COMPLETE\s+([A-Za-z0-9-]+)`)
)

// Parse extracts directives from assistant text, in document order per
// pattern. Lines that look like directives but do not parse are skipped.
func Parse(text string) []Directive {
	var out []Directive

	for _, m := range lessonRe.FindAllStringSubmatch(text, -1) {
		level := models.LevelProject
		if m[1] == "SYSTEM" {
			level = models.LevelSystem
		}
		category := models.CategoryPattern
		if m[2] != "" {
			if !models.ValidCategory(m[2]) {
				continue
			}
			category = models.Category(m[2])
		}
		out = append(out, NewLesson{
			Level:    level,
			Category: category,
			Title:    strings.TrimSpace(m[3]),
			Content:  strings.TrimSpace(m[4]),
		})
	}

	for _, m := range handoffStartRe.FindAllStringSubmatch(text, -1) {
		title := strings.TrimSpace(m[1])
		if title == "" {
			continue
		}
		out = append(out, NewHandoff{Title: title})
	}

	for _, m := range handoffUpdateRe.FindAllStringSubmatch(text, -1) {
		id := m[1]
		isTried := strings.TrimSpace(m[2]) != ""
		head := strings.TrimSpace(m[3])
		desc := strings.TrimSpace(m[4])

		switch {
		case isTried && models.ValidOutcome(head):
			if desc == "" {
				continue
			}
			out = append(out, HandoffStep{ID: id, Outcome: models.Outcome(head), Description: desc})
		case models.ValidStatus(head):
			out = append(out, HandoffUpdate{ID: id, Status: models.Status(head), Description: desc})
		default:
			// The whole tail is a plain description update.
			full := strings.TrimSpace(strings.Join([]string{head, desc}, " "))
			if full == "" {
				continue
			}
			out = append(out, HandoffUpdate{ID: id, Description: full})
		}
	}

	for _, m := range handoffCompleteRe.FindAllStringSubmatch(text, -1) {
		out = append(out, CompleteHandoff{ID: m[1]})
	}

	return out
}
