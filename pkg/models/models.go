// Package models defines the domain models shared by the sync engine, the
// state container and the persistence tiers.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// HistoryKind identifies what a history entry records.
type HistoryKind string

const (
	HistoryStepCompleted    HistoryKind = "step_completed"
	HistoryRoutineCompleted HistoryKind = "routine_completed"
)

// HistoryEntry is a local-only record of completed work. History is never
// sent to the remote store.
type HistoryEntry struct {
	ID    string      `json:"id"`
	Kind  HistoryKind `json:"kind"`
	RefID string      `json:"refId"`
	Title string      `json:"title"`
	At    time.Time   `json:"at"`
}

// Snapshot is the full in-memory state of a session.
type Snapshot struct {
	Pipelines []Pipeline     `json:"pipelines"`
	Routines  []Routine      `json:"routines"`
	History   []HistoryEntry `json:"history"`
}

// RemotePayload is the subset of a snapshot persisted in the remote store.
type RemotePayload struct {
	Pipelines []Pipeline `json:"pipelines"`
	Routines  []Routine  `json:"routines"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Pipelines: make([]Pipeline, len(s.Pipelines)),
		Routines:  make([]Routine, len(s.Routines)),
		History:   make([]HistoryEntry, len(s.History)),
	}
	for i, p := range s.Pipelines {
		out.Pipelines[i] = p.Clone()
	}
	copy(out.Routines, s.Routines)
	copy(out.History, s.History)
	return out
}

// Remote reduces the snapshot to its remotely persisted subset.
func (s Snapshot) Remote() RemotePayload {
	c := s.Clone()
	return RemotePayload{Pipelines: c.Pipelines, Routines: c.Routines}
}

// Empty reports whether the payload holds neither pipelines nor routines.
func (p RemotePayload) Empty() bool {
	return len(p.Pipelines) == 0 && len(p.Routines) == 0
}

// CanonicalJSON encodes the payload deterministically. Nil slices are
// encoded as empty arrays so that "nothing" has exactly one encoding.
func (p RemotePayload) CanonicalJSON() ([]byte, error) {
	c := RemotePayload{Pipelines: p.Pipelines, Routines: p.Routines}
	if c.Pipelines == nil {
		c.Pipelines = []Pipeline{}
	}
	if c.Routines == nil {
		c.Routines = []Routine{}
	}
	pipelines := make([]Pipeline, len(c.Pipelines))
	for i, pl := range c.Pipelines {
		if pl.Steps == nil {
			pl.Steps = []Step{}
		}
		pipelines[i] = pl
	}
	c.Pipelines = pipelines
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// Signature returns the content signature of the payload. Payloads with
// identical content always share a signature.
func (p RemotePayload) Signature() (string, error) {
	b, err := p.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SyncState is the remote sync state exposed to observers.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncLoading SyncState = "loading"
	SyncSaving  SyncState = "saving"
	SyncError   SyncState = "error"
)

// CloudStatus describes the remote tier as seen by the orchestrator.
type CloudStatus struct {
	State       SyncState  `json:"state"`
	LastSavedAt *time.Time `json:"lastSavedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// PullResult is the outcome of a manual pull from the remote store.
type PullResult struct {
	OK           bool   `json:"ok"`
	RequiresAuth bool   `json:"requiresAuth,omitempty"`
	Message      string `json:"message"`
}
