// Package store owns all persisted records for one project-data directory.
// Every read is a full re-parse and every mutation is lock, re-read, apply,
// atomic write, so concurrent hook invocations never clobber each other.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AbdouB/recall/internal/codec"
	"github.com/AbdouB/recall/internal/models"
)

// LessonStore manages the system- and project-level lesson files
type LessonStore struct {
	projectPath string
	systemPath  string
	lockTimeout time.Duration
}

// NewLessonStore creates a store over the two lesson scopes
func NewLessonStore(projectPath, systemPath string, lockTimeout time.Duration) *LessonStore {
	return &LessonStore{projectPath: projectPath, systemPath: systemPath, lockTimeout: lockTimeout}
}

// List returns all lessons, system scope first, plus any skipped-entry
// issues from either file.
func (s *LessonStore) List() ([]*models.Lesson, []codec.ParseIssue, error) {
	var all []*models.Lesson
	var issues []codec.ParseIssue
	for _, path := range []string{s.systemPath, s.projectPath} {
		text, err := readFileOrEmpty(path)
		if err != nil {
			return nil, nil, err
		}
		lessons, fileIssues, err := codec.ParseLessons(text)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, lessons...)
		issues = append(issues, fileIssues...)
	}
	return all, issues, nil
}

// Get finds a lesson by id in either scope
func (s *LessonStore) Get(id string) (*models.Lesson, error) {
	all, _, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, l := range all {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("lesson %s: %w", id, models.ErrNotFound)
}

// AddLessonInput carries the fields for a new lesson
type AddLessonInput struct {
	Level         models.Level
	Category      models.Category
	Title         string
	Content       string
	Source        models.Source
	SourceSession string
}

// Add appends a new lesson to its level's file with the next monotonic id
func (s *LessonStore) Add(in AddLessonInput, now time.Time) (*models.Lesson, error) {
	if !models.ValidLevel(string(in.Level)) {
		return nil, fmt.Errorf("unknown level %q", in.Level)
	}
	if !models.ValidCategory(string(in.Category)) {
		return nil, fmt.Errorf("unknown category %q", in.Category)
	}
	var added *models.Lesson
	err := s.mutate(s.pathFor(in.Level), func(lessons []*models.Lesson, issues []codec.ParseIssue) ([]*models.Lesson, error) {
		l := models.NewLesson(nextLessonID(lessons, issues), in.Level, in.Category, in.Title, in.Content, now)
		if in.Source != "" {
			l.Source = in.Source
		}
		l.SourceSession = in.SourceSession
		added = l
		return append(lessons, l), nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Cite increments a lesson's reuse counters
func (s *LessonStore) Cite(id string, now time.Time) error {
	return s.mutateByID(id, func(l *models.Lesson) error {
		l.Cite(now)
		return nil
	})
}

// LessonEdit holds optional field replacements; nil means leave unchanged
type LessonEdit struct {
	Title    *string
	Content  *string
	Category *models.Category
}

// Edit updates a lesson's editable fields
func (s *LessonStore) Edit(id string, edit LessonEdit) error {
	return s.mutateByID(id, func(l *models.Lesson) error {
		if edit.Title != nil {
			l.Title = *edit.Title
		}
		if edit.Content != nil {
			l.Content = *edit.Content
		}
		if edit.Category != nil {
			if !models.ValidCategory(string(*edit.Category)) {
				return fmt.Errorf("unknown category %q", *edit.Category)
			}
			l.Category = *edit.Category
		}
		return nil
	})
}

// Demote explicitly lowers a lesson's score by one step
func (s *LessonStore) Demote(id string) error {
	return s.mutateByID(id, func(l *models.Lesson) error {
		l.Demote()
		return nil
	})
}

// Delete removes a lesson from whichever scope holds it
func (s *LessonStore) Delete(id string) error {
	for _, path := range []string{s.projectPath, s.systemPath} {
		found := false
		err := s.mutate(path, func(lessons []*models.Lesson, _ []codec.ParseIssue) ([]*models.Lesson, error) {
			kept := lessons[:0]
			for _, l := range lessons {
				if l.ID == id {
					found = true
					continue
				}
				kept = append(kept, l)
			}
			if !found {
				return nil, errUnchanged
			}
			return kept, nil
		})
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}
	return fmt.Errorf("lesson %s: %w", id, models.ErrNotFound)
}

// DecayConfig controls the periodic velocity decay cycle
type DecayConfig struct {
	StateFile string
	Interval  time.Duration
	Force     bool
}

type decayState struct {
	LastDecay time.Time `json:"last_decay"`
}

// Decay halves every lesson's reuse velocity once per interval, separating
// hot lessons from dormant ones. Returns how many lessons changed.
func (s *LessonStore) Decay(cfg DecayConfig, now time.Time) (int, error) {
	if !cfg.Force {
		var state decayState
		if data, err := os.ReadFile(cfg.StateFile); err == nil {
			json.Unmarshal(data, &state)
		}
		if now.Sub(state.LastDecay) < cfg.Interval {
			return 0, nil
		}
	}

	total := 0
	for _, path := range []string{s.systemPath, s.projectPath} {
		err := s.mutate(path, func(lessons []*models.Lesson, _ []codec.ParseIssue) ([]*models.Lesson, error) {
			changed := false
			for _, l := range lessons {
				decayed := math.Floor(l.Velocity/2*100) / 100
				if decayed < 0.01 {
					decayed = 0
				}
				if decayed != l.Velocity {
					l.Velocity = decayed
					changed = true
					total++
				}
			}
			if !changed {
				return nil, errUnchanged
			}
			return lessons, nil
		})
		if err != nil {
			return total, err
		}
	}

	data, err := json.Marshal(decayState{LastDecay: now})
	if err != nil {
		return total, err
	}
	if err := writeFileAtomic(cfg.StateFile, data); err != nil {
		return total, err
	}
	return total, nil
}

func (s *LessonStore) pathFor(level models.Level) string {
	if level == models.LevelSystem {
		return s.systemPath
	}
	return s.projectPath
}

// errUnchanged signals that fn made no change, so the rewrite is skipped
var errUnchanged = errors.New("no change")

// mutate applies fn to a fresh parse of one lesson file under its lock.
// Entries the codec skipped are re-appended verbatim on the rewrite, so a
// mutation of one record never deletes a malformed neighbor.
func (s *LessonStore) mutate(path string, fn func([]*models.Lesson, []codec.ParseIssue) ([]*models.Lesson, error)) error {
	return withLock(path, s.lockTimeout, func() error {
		text, err := readFileOrEmpty(path)
		if err != nil {
			return err
		}
		lessons, issues, err := codec.ParseLessons(text)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		lessons, err = fn(lessons, issues)
		if errors.Is(err, errUnchanged) {
			return nil
		}
		if err != nil {
			return err
		}
		out := codec.AppendRaw(codec.FormatLessons(lessons), issues)
		return writeFileAtomic(path, []byte(out))
	})
}

// mutateByID finds the file holding id (project scope first) and applies fn
// to that lesson in place. Files that do not hold the id are left untouched.
func (s *LessonStore) mutateByID(id string, fn func(*models.Lesson) error) error {
	for _, path := range []string{s.projectPath, s.systemPath} {
		found := false
		err := s.mutate(path, func(lessons []*models.Lesson, _ []codec.ParseIssue) ([]*models.Lesson, error) {
			for _, l := range lessons {
				if l.ID == id {
					found = true
					if err := fn(l); err != nil {
						return nil, err
					}
					break
				}
			}
			if !found {
				return nil, errUnchanged
			}
			return lessons, nil
		})
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}
	return fmt.Errorf("lesson %s: %w", id, models.ErrNotFound)
}

// nextLessonID assigns the next monotonic id within one file's scope.
// Skipped entries keep their ids reserved.
func nextLessonID(lessons []*models.Lesson, issues []codec.ParseIssue) string {
	max := 0
	for _, l := range lessons {
		if n, ok := idNumber(l.ID, "ls-"); ok && n > max {
			max = n
		}
	}
	for _, issue := range issues {
		if n, ok := idNumber(issue.ID, "ls-"); ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("ls-%04d", max+1)
}

func idNumber(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
