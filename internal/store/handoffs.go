package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/AbdouB/recall/internal/codec"
	"github.com/AbdouB/recall/internal/models"
)

// HandoffStore manages the handoff file and its archive for one project
type HandoffStore struct {
	path        string
	archivePath string
	lockTimeout time.Duration
}

// NewHandoffStore creates a store over the active and archive handoff files
func NewHandoffStore(path, archivePath string, lockTimeout time.Duration) *HandoffStore {
	return &HandoffStore{path: path, archivePath: archivePath, lockTimeout: lockTimeout}
}

// List returns non-archived handoffs in file order plus skipped-entry issues
func (s *HandoffStore) List() ([]*models.Handoff, []codec.ParseIssue, error) {
	text, err := readFileOrEmpty(s.path)
	if err != nil {
		return nil, nil, err
	}
	handoffs, issues, err := codec.ParseHandoffs(text)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return handoffs, issues, nil
}

// Get finds an active handoff by id
func (s *HandoffStore) Get(id string) (*models.Handoff, error) {
	handoffs, _, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, h := range handoffs {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("handoff %s: %w", id, models.ErrNotFound)
}

// Add creates a new handoff with the next sequential id
func (s *HandoffStore) Add(title, description string, now time.Time) (*models.Handoff, error) {
	var added *models.Handoff
	err := s.mutate(func(handoffs []*models.Handoff, issues []codec.ParseIssue) ([]*models.Handoff, error) {
		id, err := s.nextID(handoffs, issues)
		if err != nil {
			return nil, err
		}
		added = models.NewHandoff(id, title, description, now)
		return append(handoffs, added), nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// HandoffEdit holds optional field replacements; nil means leave unchanged
type HandoffEdit struct {
	Description *string
	Next        *string
	Agent       *string
	Phase       *models.Phase
	Files       []string
}

// Update edits a handoff's metadata fields and refreshes updated_at
func (s *HandoffStore) Update(id string, edit HandoffEdit, now time.Time) error {
	return s.mutateByID(id, func(h *models.Handoff) error {
		if !h.Mutable() {
			return fmt.Errorf("handoff %s: %w", h.ID, models.ErrImmutable)
		}
		if edit.Description != nil {
			h.Description = *edit.Description
		}
		if edit.Next != nil {
			h.Next = *edit.Next
		}
		if edit.Agent != nil {
			h.Agent = *edit.Agent
		}
		if edit.Phase != nil {
			if !models.ValidPhase(string(*edit.Phase)) {
				return fmt.Errorf("unknown phase %q", *edit.Phase)
			}
			h.Phase = *edit.Phase
		}
		if edit.Files != nil {
			h.Files = edit.Files
		}
		h.Touch(now)
		return nil
	})
}

// AddTried appends to a handoff's attempt log. The append happens against a
// fresh read under the file lock, so concurrent invocations merge by id and
// step index instead of losing steps to a blind overwrite.
func (s *HandoffStore) AddTried(id string, outcome models.Outcome, description string, now time.Time) error {
	if !models.ValidOutcome(string(outcome)) {
		return fmt.Errorf("unknown outcome %q", outcome)
	}
	return s.mutateByID(id, func(h *models.Handoff) error {
		if !h.Mutable() {
			return fmt.Errorf("handoff %s: %w", h.ID, models.ErrImmutable)
		}
		h.Tried = append(h.Tried, models.TriedStep{Outcome: outcome, Description: description})
		h.Touch(now)
		return nil
	})
}

// Transition applies a lifecycle change and returns the updated handoff
func (s *HandoffStore) Transition(id string, to models.Status, now time.Time) (*models.Handoff, error) {
	var updated *models.Handoff
	err := s.mutateByID(id, func(h *models.Handoff) error {
		if err := h.Transition(to, now); err != nil {
			return err
		}
		copied := *h
		updated = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CompletionResult captures before/after state for downstream lesson
// extraction when a handoff finishes.
type CompletionResult struct {
	Before      models.Handoff `json:"before"`
	After       models.Handoff `json:"after"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Complete transitions a handoff to completed and reports the change
func (s *HandoffStore) Complete(id string, now time.Time) (*CompletionResult, error) {
	var result *CompletionResult
	err := s.mutateByID(id, func(h *models.Handoff) error {
		before := *h
		if err := h.Transition(models.StatusCompleted, now); err != nil {
			return err
		}
		result = &CompletionResult{Before: before, After: *h, CompletedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LinkSession records a session back-reference on a handoff
func (s *HandoffStore) LinkSession(id, sessionID string, now time.Time) error {
	return s.mutateByID(id, func(h *models.Handoff) error {
		if h.Archived {
			return fmt.Errorf("handoff %s: %w", h.ID, models.ErrImmutable)
		}
		if h.LinkSession(sessionID) && h.Mutable() {
			h.Touch(now)
		}
		return nil
	})
}

// Archive moves completed handoffs idle past the cutoff into the archive
// file, flagging them archived on the way. Returns how many moved.
func (s *HandoffStore) Archive(olderThan time.Duration, now time.Time) (int, error) {
	moved := 0
	err := withLock(s.path, s.lockTimeout, func() error {
		text, err := readFileOrEmpty(s.path)
		if err != nil {
			return err
		}
		handoffs, issues, err := codec.ParseHandoffs(text)
		if err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}

		var keep, archive []*models.Handoff
		for _, h := range handoffs {
			if h.Status == models.StatusCompleted && now.Sub(h.Updated) >= olderThan {
				if err := h.ArchiveNow(now); err != nil {
					return err
				}
				archive = append(archive, h)
				continue
			}
			keep = append(keep, h)
		}
		if len(archive) == 0 {
			return nil
		}

		// Append to the archive before rewriting the active file; a crash in
		// between duplicates a record rather than losing one.
		err = withLock(s.archivePath, s.lockTimeout, func() error {
			archText, err := readFileOrEmpty(s.archivePath)
			if err != nil {
				return err
			}
			archived, archIssues, err := codec.ParseHandoffs(archText)
			if err != nil {
				return fmt.Errorf("%s: %w", s.archivePath, err)
			}
			archived = append(archived, archive...)
			out := codec.AppendRaw(codec.FormatHandoffs(archived), archIssues)
			return writeFileAtomic(s.archivePath, []byte(out))
		})
		if err != nil {
			return err
		}

		out := codec.AppendRaw(codec.FormatHandoffs(keep), issues)
		if err := writeFileAtomic(s.path, []byte(out)); err != nil {
			return err
		}
		moved = len(archive)
		return nil
	})
	return moved, err
}

// mutate applies fn to a fresh parse of the active file under its lock.
// Skipped entries are re-appended verbatim on the rewrite.
func (s *HandoffStore) mutate(fn func([]*models.Handoff, []codec.ParseIssue) ([]*models.Handoff, error)) error {
	return withLock(s.path, s.lockTimeout, func() error {
		text, err := readFileOrEmpty(s.path)
		if err != nil {
			return err
		}
		handoffs, issues, err := codec.ParseHandoffs(text)
		if err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}
		handoffs, err = fn(handoffs, issues)
		if errors.Is(err, errUnchanged) {
			return nil
		}
		if err != nil {
			return err
		}
		out := codec.AppendRaw(codec.FormatHandoffs(handoffs), issues)
		return writeFileAtomic(s.path, []byte(out))
	})
}

func (s *HandoffStore) mutateByID(id string, fn func(*models.Handoff) error) error {
	found := false
	err := s.mutate(func(handoffs []*models.Handoff, _ []codec.ParseIssue) ([]*models.Handoff, error) {
		for _, h := range handoffs {
			if h.ID == id {
				found = true
				if err := fn(h); err != nil {
					return nil, err
				}
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("handoff %s: %w", id, models.ErrNotFound)
		}
		return handoffs, nil
	})
	return err
}

// nextID scans both the active and archive files so archived or skipped ids
// are never reused.
func (s *HandoffStore) nextID(active []*models.Handoff, issues []codec.ParseIssue) (string, error) {
	max := 0
	for _, h := range active {
		if n, ok := idNumber(h.ID, "hf-"); ok && n > max {
			max = n
		}
	}
	for _, issue := range issues {
		if n, ok := idNumber(issue.ID, "hf-"); ok && n > max {
			max = n
		}
	}
	archText, err := readFileOrEmpty(s.archivePath)
	if err != nil {
		return "", err
	}
	archived, archIssues, err := codec.ParseHandoffs(archText)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.archivePath, err)
	}
	for _, h := range archived {
		if n, ok := idNumber(h.ID, "hf-"); ok && n > max {
			max = n
		}
	}
	for _, issue := range archIssues {
		if n, ok := idNumber(issue.ID, "hf-"); ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("hf-%07d", max+1), nil
}
