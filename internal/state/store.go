// Package state holds the in-memory session snapshot and notifies
// subscribers of every change.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pipesync/pkg/models"
)

// ErrNotFound is returned when a mutation names an unknown item.
var ErrNotFound = errors.New("not found")

// Listener receives a copy of the snapshot after each change.
type Listener func(models.Snapshot)

// Store is the reactive snapshot container.
type Store struct {
	mu        sync.Mutex
	snap      models.Snapshot
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for history and done dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		snap: models.Snapshot{
			Pipelines: []models.Pipeline{},
			Routines:  []models.Routine{},
			History:   []models.HistoryEntry{},
		},
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Hydrate replaces the whole snapshot.
func (s *Store) Hydrate(snap models.Snapshot) {
	s.update(func(cur *models.Snapshot) error {
		next := snap.Clone()
		*cur = next
		return nil
	})
}

// HydrateRemote replaces pipelines and routines, keeping local history.
func (s *Store) HydrateRemote(p models.RemotePayload) {
	s.update(func(cur *models.Snapshot) error {
		c := models.Snapshot{Pipelines: p.Pipelines, Routines: p.Routines}.Clone()
		cur.Pipelines = c.Pipelines
		cur.Routines = c.Routines
		return nil
	})
}

// update applies fn under the lock and, if it succeeded, notifies listeners
// after the lock is released.
func (s *Store) update(fn func(*models.Snapshot) error) error {
	s.mu.Lock()
	if err := fn(&s.snap); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snap.Clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap.Clone())
	}
	return nil
}

// AddPipeline appends p. An empty id is generated.
func (s *Store) AddPipeline(p models.Pipeline) models.Pipeline {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Steps == nil {
		p.Steps = []models.Step{}
	}
	_ = s.update(func(cur *models.Snapshot) error {
		p.Position = len(cur.Pipelines)
		for i := range p.Steps {
			if p.Steps[i].ID == "" {
				p.Steps[i].ID = uuid.NewString()
			}
			p.Steps[i].Position = i
		}
		cur.Pipelines = append(cur.Pipelines, p.Clone())
		return nil
	})
	return p
}

// RemovePipeline deletes a pipeline with all its steps.
func (s *Store) RemovePipeline(id string) error {
	return s.update(func(cur *models.Snapshot) error {
		i := pipelineIndex(cur, id)
		if i < 0 {
			return fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
		}
		cur.Pipelines = append(cur.Pipelines[:i:i], cur.Pipelines[i+1:]...)
		for j := range cur.Pipelines {
			cur.Pipelines[j].Position = j
		}
		return nil
	})
}

// AddStep appends step to a pipeline. An empty id is generated and an empty
// status defaults to pending.
func (s *Store) AddStep(pipelineID string, step models.Step) (models.Step, error) {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.Status == "" {
		step.Status = models.StepStatusPending
	}
	if !step.Status.Valid() {
		return models.Step{}, fmt.Errorf("unknown step status %q", step.Status)
	}
	err := s.update(func(cur *models.Snapshot) error {
		i := pipelineIndex(cur, pipelineID)
		if i < 0 {
			return fmt.Errorf("pipeline %s: %w", pipelineID, ErrNotFound)
		}
		step.Position = len(cur.Pipelines[i].Steps)
		cur.Pipelines[i].Steps = append(cur.Pipelines[i].Steps, step)
		if step.Status == models.StepStatusDone {
			s.appendHistory(cur, models.HistoryStepCompleted, step.ID, step.Title)
		}
		return nil
	})
	if err != nil {
		return models.Step{}, err
	}
	return step, nil
}

// SetStepStatus changes a step's status. Moving to done records history.
func (s *Store) SetStepStatus(pipelineID, stepID string, status models.StepStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown step status %q", status)
	}
	return s.update(func(cur *models.Snapshot) error {
		i := pipelineIndex(cur, pipelineID)
		if i < 0 {
			return fmt.Errorf("pipeline %s: %w", pipelineID, ErrNotFound)
		}
		for j := range cur.Pipelines[i].Steps {
			st := &cur.Pipelines[i].Steps[j]
			if st.ID != stepID {
				continue
			}
			if status == models.StepStatusDone && st.Status != models.StepStatusDone {
				s.appendHistory(cur, models.HistoryStepCompleted, st.ID, st.Title)
			}
			st.Status = status
			return nil
		}
		return fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	})
}

// RemoveStep deletes a step from its pipeline.
func (s *Store) RemoveStep(pipelineID, stepID string) error {
	return s.update(func(cur *models.Snapshot) error {
		i := pipelineIndex(cur, pipelineID)
		if i < 0 {
			return fmt.Errorf("pipeline %s: %w", pipelineID, ErrNotFound)
		}
		steps := cur.Pipelines[i].Steps
		for j := range steps {
			if steps[j].ID != stepID {
				continue
			}
			steps = append(steps[:j:j], steps[j+1:]...)
			for k := range steps {
				steps[k].Position = k
			}
			cur.Pipelines[i].Steps = steps
			return nil
		}
		return fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	})
}

// AddRoutine appends r. An empty id is generated.
func (s *Store) AddRoutine(r models.Routine) models.Routine {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_ = s.update(func(cur *models.Snapshot) error {
		if r.Done && r.DoneDate == "" {
			r.DoneDate = models.DateOf(s.now())
		}
		cur.Routines = append(cur.Routines, r)
		return nil
	})
	return r
}

// SetRoutineDone marks a routine done for today, or clears it.
func (s *Store) SetRoutineDone(id string, done bool) error {
	return s.update(func(cur *models.Snapshot) error {
		for i := range cur.Routines {
			r := &cur.Routines[i]
			if r.ID != id {
				continue
			}
			if done && !r.Done {
				s.appendHistory(cur, models.HistoryRoutineCompleted, r.ID, r.Title)
			}
			r.Done = done
			r.DoneDate = ""
			if done {
				r.DoneDate = models.DateOf(s.now())
			}
			return nil
		}
		return fmt.Errorf("routine %s: %w", id, ErrNotFound)
	})
}

// RemoveRoutine deletes a routine.
func (s *Store) RemoveRoutine(id string) error {
	return s.update(func(cur *models.Snapshot) error {
		for i := range cur.Routines {
			if cur.Routines[i].ID == id {
				cur.Routines = append(cur.Routines[:i:i], cur.Routines[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("routine %s: %w", id, ErrNotFound)
	})
}

// ResetRoutines clears every routine not completed on today. It reports
// whether anything changed; listeners are only notified on change.
func (s *Store) ResetRoutines(today string) bool {
	changed := false
	errUnchanged := errors.New("unchanged")
	_ = s.update(func(cur *models.Snapshot) error {
		next := models.NormalizeRoutines(cur.Routines, "", today)
		for i := range next {
			if next[i] != cur.Routines[i] {
				changed = true
				break
			}
		}
		if !changed {
			return errUnchanged
		}
		cur.Routines = next
		return nil
	})
	return changed
}

func (s *Store) appendHistory(cur *models.Snapshot, kind models.HistoryKind, refID, title string) {
	cur.History = append(cur.History, models.HistoryEntry{
		ID:    uuid.NewString(),
		Kind:  kind,
		RefID: refID,
		Title: title,
		At:    s.now(),
	})
}

func pipelineIndex(snap *models.Snapshot, id string) int {
	for i := range snap.Pipelines {
		if snap.Pipelines[i].ID == id {
			return i
		}
	}
	return -1
}
