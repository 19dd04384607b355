package store

import (
	"encoding/json"
	"os"
	"time"

	"github.com/AbdouB/recall/internal/models"
)

// SessionIndex maps session ids to the handoff each session is working on.
// It is a rebuildable index over the handoff file's back-references, not a
// second source of truth.
type SessionIndex struct {
	path        string
	lockTimeout time.Duration
}

// NewSessionIndex creates an index backed by a JSON file in the state dir
func NewSessionIndex(path string, lockTimeout time.Duration) *SessionIndex {
	return &SessionIndex{path: path, lockTimeout: lockTimeout}
}

type sessionMapping struct {
	HandoffID string `json:"handoff_id"`
	LinkedAt  string `json:"linked_at,omitempty"`
}

// Get looks up the handoff for a session; empty string when unmapped
func (ix *SessionIndex) Get(sessionID string) (string, error) {
	mappings, err := ix.load()
	if err != nil {
		return "", err
	}
	return mappings[sessionID].HandoffID, nil
}

// Set records a session -> handoff mapping
func (ix *SessionIndex) Set(sessionID, handoffID string, now time.Time) error {
	return withLock(ix.path, ix.lockTimeout, func() error {
		mappings, err := ix.load()
		if err != nil {
			return err
		}
		mappings[sessionID] = sessionMapping{
			HandoffID: handoffID,
			LinkedAt:  now.UTC().Format(time.RFC3339),
		}
		data, err := json.MarshalIndent(mappings, "", "  ")
		if err != nil {
			return err
		}
		return writeFileAtomic(ix.path, data)
	})
}

// Rebuild regenerates the full index from handoff back-references. Used when
// the index file is lost or suspect; the handoff file stays authoritative.
func (ix *SessionIndex) Rebuild(handoffs []*models.Handoff, now time.Time) error {
	return withLock(ix.path, ix.lockTimeout, func() error {
		mappings := make(map[string]sessionMapping)
		for _, h := range handoffs {
			for _, sess := range h.Sessions {
				mappings[sess] = sessionMapping{HandoffID: h.ID}
			}
		}
		data, err := json.MarshalIndent(mappings, "", "  ")
		if err != nil {
			return err
		}
		return writeFileAtomic(ix.path, data)
	})
}

func (ix *SessionIndex) load() (map[string]sessionMapping, error) {
	data, err := os.ReadFile(ix.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]sessionMapping), nil
		}
		return nil, err
	}
	var mappings map[string]sessionMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}
