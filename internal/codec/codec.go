// Package codec parses and re-serializes the on-disk markdown record format.
// All format-drift tolerance lives here: unknown meta fields are carried
// through a rewrite verbatim, and individually malformed entries are skipped
// and reported instead of aborting the whole file.
package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AbdouB/recall/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339
)

// ParseError means the file itself is structurally invalid (a header line
// that cannot be read as a record header). Individually bad entries are
// reported as ParseIssues instead.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ParseIssue reports one malformed entry that was skipped. Raw holds the
// entry's original text so a rewrite can carry it through untouched.
type ParseIssue struct {
	Line   int
	ID     string
	Reason string
	Raw    string
}

var headerRe = regexp.MustCompile(`^## \[((?:ls|hf)-\d+)\] (.+)$`)

// rawEntry is one header-delimited block, before field interpretation
type rawEntry struct {
	id    string
	title string
	line  int
	body  []string
}

// raw reconstructs the entry's original text, header included
func (e rawEntry) raw() string {
	lines := append([]string{fmt.Sprintf("## [%s] %s", e.id, e.title)}, e.body...)
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// splitEntries cuts text into header-delimited blocks. Lines before the
// first header (file title, blank lines) are ignored. A "## " line that is
// not a valid record header is a structural error.
func splitEntries(text string) ([]rawEntry, error) {
	var entries []rawEntry
	var cur *rawEntry
	for i, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "## ") {
			m := headerRe.FindStringSubmatch(line)
			if m == nil {
				return nil, &ParseError{Line: i + 1, Reason: fmt.Sprintf("malformed record header %q", line)}
			}
			if cur != nil {
				entries = append(entries, *cur)
			}
			cur = &rawEntry{id: m[1], title: strings.TrimSpace(m[2]), line: i + 1}
			continue
		}
		if cur != nil {
			cur.body = append(cur.body, line)
		}
	}
	if cur != nil {
		entries = append(entries, *cur)
	}
	return entries, nil
}

var escapedHeaderRe = regexp.MustCompile(`^\\+## `)

// escapeBody shields body lines that would read back as record headers.
// A line matching `\*## ` gains one leading backslash; unescapeBody strips
// it again, so any body content round-trips.
func escapeBody(text string) string {
	if !strings.Contains(text, "## ") {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "## ") || escapedHeaderRe.MatchString(line) {
			lines[i] = `\` + line
		}
	}
	return strings.Join(lines, "\n")
}

func unescapeBody(lines []string) []string {
	for i, line := range lines {
		if escapedHeaderRe.MatchString(line) {
			lines[i] = line[1:]
		}
	}
	return lines
}

// parseMetaLine splits "meta: k=v | k=v | ..." into ordered pairs
func parseMetaLine(line string) ([]models.MetaField, bool) {
	rest, ok := strings.CutPrefix(line, "meta:")
	if !ok {
		return nil, false
	}
	var fields []models.MetaField
	for _, part := range strings.Split(rest, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, found := strings.Cut(part, "=")
		if !found {
			return nil, false
		}
		fields = append(fields, models.MetaField{Key: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	return fields, true
}

func formatMetaLine(fields []models.MetaField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Key + "=" + f.Value
	}
	return "meta: " + strings.Join(parts, " | ")
}

// ParseLessons parses a lessons file. Returned lessons preserve file order;
// issues lists entries that were skipped.
func ParseLessons(text string) ([]*models.Lesson, []ParseIssue, error) {
	entries, err := splitEntries(text)
	if err != nil {
		return nil, nil, err
	}
	var lessons []*models.Lesson
	var issues []ParseIssue
	for _, e := range entries {
		if !strings.HasPrefix(e.id, "ls-") {
			issues = append(issues, ParseIssue{Line: e.line, ID: e.id, Reason: "handoff entry in lessons file", Raw: e.raw()})
			continue
		}
		l, reason := parseLessonEntry(e)
		if l == nil {
			issues = append(issues, ParseIssue{Line: e.line, ID: e.id, Reason: reason, Raw: e.raw()})
			continue
		}
		lessons = append(lessons, l)
	}
	return lessons, issues, nil
}

func parseLessonEntry(e rawEntry) (*models.Lesson, string) {
	l := &models.Lesson{ID: e.id, Title: e.title}
	var metaSeen bool
	var bodyStart int
	for i, line := range e.body {
		fields, ok := parseMetaLine(line)
		if ok {
			metaSeen = true
			bodyStart = i + 1
			if reason := applyLessonMeta(l, fields); reason != "" {
				return nil, reason
			}
			break
		}
		if strings.TrimSpace(line) != "" {
			break
		}
	}
	if !metaSeen {
		return nil, "missing meta line"
	}
	if !models.ValidLevel(string(l.Level)) {
		return nil, fmt.Sprintf("unknown level %q", l.Level)
	}
	if l.Learned.After(l.LastUsed) {
		return nil, "learned date is after last_used date"
	}
	l.Content = strings.TrimSpace(strings.Join(unescapeBody(e.body[bodyStart:]), "\n"))
	return l, ""
}

func applyLessonMeta(l *models.Lesson, fields []models.MetaField) string {
	for _, f := range fields {
		var err error
		switch f.Key {
		case "level":
			l.Level = models.Level(f.Value)
		case "category":
			l.Category = models.Category(f.Value)
		case "rating":
			l.Score, err = models.ParseRating(f.Value)
		case "uses":
			l.Uses, err = strconv.Atoi(f.Value)
		case "velocity":
			l.Velocity, err = strconv.ParseFloat(f.Value, 64)
		case "learned":
			l.Learned, err = time.Parse(dateLayout, f.Value)
		case "last_used":
			l.LastUsed, err = time.Parse(dateLayout, f.Value)
		case "source":
			l.Source = models.Source(f.Value)
		case "source_session":
			l.SourceSession = f.Value
		default:
			// Forward/backward drift tolerance: carry unknown keys verbatim.
			l.Extra = append(l.Extra, f)
		}
		if err != nil {
			return fmt.Sprintf("bad %s value %q", f.Key, f.Value)
		}
	}
	return ""
}

// FormatLessons renders lessons back to the file format. It is the left
// inverse of ParseLessons for every field the model defines.
func FormatLessons(lessons []*models.Lesson) string {
	var b strings.Builder
	b.WriteString("# Lessons\n")
	for _, l := range lessons {
		b.WriteString("\n")
		fmt.Fprintf(&b, "## [%s] %s\n", l.ID, l.Title)
		fields := []models.MetaField{
			{Key: "level", Value: string(l.Level)},
			{Key: "category", Value: string(l.Category)},
			{Key: "rating", Value: models.FormatRating(l.Score)},
			{Key: "uses", Value: strconv.Itoa(l.Uses)},
			{Key: "velocity", Value: strconv.FormatFloat(l.Velocity, 'f', 2, 64)},
			{Key: "learned", Value: l.Learned.Format(dateLayout)},
			{Key: "last_used", Value: l.LastUsed.Format(dateLayout)},
			{Key: "source", Value: string(l.Source)},
		}
		if l.SourceSession != "" {
			fields = append(fields, models.MetaField{Key: "source_session", Value: l.SourceSession})
		}
		fields = append(fields, l.Extra...)
		b.WriteString(formatMetaLine(fields))
		b.WriteString("\n")
		if l.Content != "" {
			b.WriteString("\n")
			b.WriteString(escapeBody(l.Content))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ParseHandoffs parses a handoffs file
func ParseHandoffs(text string) ([]*models.Handoff, []ParseIssue, error) {
	entries, err := splitEntries(text)
	if err != nil {
		return nil, nil, err
	}
	var handoffs []*models.Handoff
	var issues []ParseIssue
	for _, e := range entries {
		if !strings.HasPrefix(e.id, "hf-") {
			issues = append(issues, ParseIssue{Line: e.line, ID: e.id, Reason: "lesson entry in handoffs file", Raw: e.raw()})
			continue
		}
		h, reason := parseHandoffEntry(e)
		if h == nil {
			issues = append(issues, ParseIssue{Line: e.line, ID: e.id, Reason: reason, Raw: e.raw()})
			continue
		}
		handoffs = append(handoffs, h)
	}
	return handoffs, issues, nil
}

var triedLineRe = regexp.MustCompile(`^\d+\. \[(fail|partial|success)\] (.*)$`)

func parseHandoffEntry(e rawEntry) (*models.Handoff, string) {
	h := &models.Handoff{ID: e.id, Title: e.title}
	var metaSeen, inTried bool
	var body []string
	for _, line := range e.body {
		if fields, ok := parseMetaLine(line); ok && !metaSeen {
			metaSeen = true
			if reason := applyHandoffMeta(h, fields); reason != "" {
				return nil, reason
			}
			continue
		}
		if inTried {
			if m := triedLineRe.FindStringSubmatch(line); m != nil {
				h.Tried = append(h.Tried, models.TriedStep{Outcome: models.Outcome(m[1]), Description: m[2]})
				continue
			}
			inTried = false
		}
		switch {
		case strings.HasPrefix(line, "files:"):
			h.Files = splitList(strings.TrimPrefix(line, "files:"))
		case strings.TrimSpace(line) == "tried:":
			inTried = true
		case strings.HasPrefix(line, "next:"):
			h.Next = strings.TrimSpace(strings.TrimPrefix(line, "next:"))
		case strings.HasPrefix(line, "sessions:"):
			h.Sessions = splitList(strings.TrimPrefix(line, "sessions:"))
		default:
			body = append(body, line)
		}
	}
	if !metaSeen {
		return nil, "missing meta line"
	}
	if !models.ValidStatus(string(h.Status)) {
		return nil, fmt.Sprintf("unknown status %q", h.Status)
	}
	if h.Updated.Before(h.Created) {
		return nil, "updated timestamp is before created"
	}
	h.Description = strings.TrimSpace(strings.Join(unescapeBody(body), "\n"))
	return h, ""
}

func applyHandoffMeta(h *models.Handoff, fields []models.MetaField) string {
	for _, f := range fields {
		var err error
		switch f.Key {
		case "status":
			h.Status = models.Status(f.Value)
		case "phase":
			h.Phase = models.Phase(f.Value)
		case "created":
			h.Created, err = time.Parse(timeLayout, f.Value)
		case "updated":
			h.Updated, err = time.Parse(timeLayout, f.Value)
		case "agent":
			h.Agent = f.Value
		case "archived":
			h.Archived = f.Value == "true"
		case "blocked_since":
			h.BlockedSince, err = time.Parse(timeLayout, f.Value)
		default:
			h.Extra = append(h.Extra, f)
		}
		if err != nil {
			return fmt.Sprintf("bad %s value %q", f.Key, f.Value)
		}
	}
	return ""
}

// FormatHandoffs renders handoffs back to the file format
func FormatHandoffs(handoffs []*models.Handoff) string {
	var b strings.Builder
	b.WriteString("# Handoffs\n")
	for _, h := range handoffs {
		b.WriteString("\n")
		fmt.Fprintf(&b, "## [%s] %s\n", h.ID, h.Title)
		fields := []models.MetaField{
			{Key: "status", Value: string(h.Status)},
			{Key: "phase", Value: string(h.Phase)},
			{Key: "created", Value: h.Created.Format(timeLayout)},
			{Key: "updated", Value: h.Updated.Format(timeLayout)},
		}
		if h.Agent != "" {
			fields = append(fields, models.MetaField{Key: "agent", Value: h.Agent})
		}
		if h.Archived {
			fields = append(fields, models.MetaField{Key: "archived", Value: "true"})
		}
		if !h.BlockedSince.IsZero() {
			fields = append(fields, models.MetaField{Key: "blocked_since", Value: h.BlockedSince.Format(timeLayout)})
		}
		fields = append(fields, h.Extra...)
		b.WriteString(formatMetaLine(fields))
		b.WriteString("\n")
		if len(h.Files) > 0 {
			b.WriteString("files: " + strings.Join(h.Files, ", ") + "\n")
		}
		if len(h.Tried) > 0 {
			b.WriteString("tried:\n")
			for i, t := range h.Tried {
				fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, t.Outcome, t.Description)
			}
		}
		if h.Next != "" {
			b.WriteString("next: " + h.Next + "\n")
		}
		if len(h.Sessions) > 0 {
			b.WriteString("sessions: " + strings.Join(h.Sessions, ", ") + "\n")
		}
		if h.Description != "" {
			b.WriteString("\n")
			b.WriteString(escapeBody(h.Description))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// AppendRaw re-appends skipped entries' original text after the formatted
// records, so a rewrite never drops what it could not parse. The preserved
// blocks re-parse to the same issues, keeping the operation idempotent.
func AppendRaw(formatted string, issues []ParseIssue) string {
	var b strings.Builder
	b.WriteString(formatted)
	for _, issue := range issues {
		if issue.Raw == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(issue.Raw)
		b.WriteString("\n")
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
