package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipesync/pkg/models"
)

var testNow = time.Date(2026, 10, 16, 8, 0, 0, 0, time.Local)

func newTestStore() *Store {
	return NewStore(WithClock(func() time.Time { return testNow }))
}

func TestStore_PipelineAndSteps(t *testing.T) {
	s := newTestStore()

	p := s.AddPipeline(models.Pipeline{Title: "Launch"})
	require.NotEmpty(t, p.ID)

	draft, err := s.AddStep(p.ID, models.Step{Title: "Draft"})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, draft.Status)
	review, err := s.AddStep(p.ID, models.Step{Title: "Review"})
	require.NoError(t, err)
	assert.Equal(t, 1, review.Position)

	require.NoError(t, s.SetStepStatus(p.ID, draft.ID, models.StepStatusDone))
	// Completing twice records history once.
	require.NoError(t, s.SetStepStatus(p.ID, draft.ID, models.StepStatusDone))

	snap := s.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, models.HistoryStepCompleted, snap.History[0].Kind)
	assert.Equal(t, draft.ID, snap.History[0].RefID)
	assert.Equal(t, testNow, snap.History[0].At)

	require.NoError(t, s.RemoveStep(p.ID, draft.ID))
	snap = s.Snapshot()
	require.Len(t, snap.Pipelines[0].Steps, 1)
	assert.Equal(t, 0, snap.Pipelines[0].Steps[0].Position)

	require.NoError(t, s.RemovePipeline(p.ID))
	assert.Empty(t, s.Snapshot().Pipelines)
}

func TestStore_UnknownItems(t *testing.T) {
	s := newTestStore()

	_, err := s.AddStep("nope", models.Step{Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.RemovePipeline("nope"), ErrNotFound)
	assert.ErrorIs(t, s.SetRoutineDone("nope", true), ErrNotFound)
	assert.ErrorIs(t, s.RemoveRoutine("nope"), ErrNotFound)

	p := s.AddPipeline(models.Pipeline{Title: "Launch"})
	assert.ErrorIs(t, s.SetStepStatus(p.ID, "nope", models.StepStatusDone), ErrNotFound)
	assert.Error(t, s.SetStepStatus(p.ID, "nope", models.StepStatus("archived")))
}

func TestStore_Routines(t *testing.T) {
	s := newTestStore()

	r := s.AddRoutine(models.Routine{Title: "Stretch", Time: "07:30", Period: models.PeriodMorning})
	require.NoError(t, s.SetRoutineDone(r.ID, true))

	snap := s.Snapshot()
	assert.True(t, snap.Routines[0].Done)
	assert.Equal(t, "2026-10-16", snap.Routines[0].DoneDate)
	require.Len(t, snap.History, 1)
	assert.Equal(t, models.HistoryRoutineCompleted, snap.History[0].Kind)

	require.NoError(t, s.SetRoutineDone(r.ID, false))
	snap = s.Snapshot()
	assert.False(t, snap.Routines[0].Done)
	assert.Empty(t, snap.Routines[0].DoneDate)

	require.NoError(t, s.RemoveRoutine(r.ID))
	assert.Empty(t, s.Snapshot().Routines)
}

func TestStore_ResetRoutines(t *testing.T) {
	s := newTestStore()
	r := s.AddRoutine(models.Routine{Title: "Stretch"})
	require.NoError(t, s.SetRoutineDone(r.ID, true))

	var notified int
	s.Subscribe(func(models.Snapshot) { notified++ })

	assert.False(t, s.ResetRoutines("2026-10-16"), "same day keeps routines")
	assert.Zero(t, notified)

	assert.True(t, s.ResetRoutines("2026-10-17"))
	assert.Equal(t, 1, notified)
	got := s.Snapshot().Routines[0]
	assert.False(t, got.Done)
	assert.Empty(t, got.DoneDate)
}

func TestStore_SubscribeReceivesCopies(t *testing.T) {
	s := newTestStore()

	var seen []models.Snapshot
	unsubscribe := s.Subscribe(func(snap models.Snapshot) {
		seen = append(seen, snap)
		// Mutating the copy must not leak into the store.
		if len(snap.Pipelines) > 0 {
			snap.Pipelines[0].Title = "mutated"
		}
	})

	s.AddPipeline(models.Pipeline{Title: "Launch"})
	require.Len(t, seen, 1)
	assert.Equal(t, "Launch", s.Snapshot().Pipelines[0].Title)

	unsubscribe()
	unsubscribe()
	s.AddPipeline(models.Pipeline{Title: "Hiring"})
	assert.Len(t, seen, 1)
}

func TestStore_ListenerMayReadStore(t *testing.T) {
	s := newTestStore()
	var titles []string
	s.Subscribe(func(models.Snapshot) {
		for _, p := range s.Snapshot().Pipelines {
			titles = append(titles, p.Title)
		}
	})

	s.AddPipeline(models.Pipeline{Title: "Launch"})
	assert.Equal(t, []string{"Launch"}, titles)
}

func TestStore_HydrateRemoteKeepsHistory(t *testing.T) {
	s := newTestStore()
	s.Hydrate(models.Snapshot{
		History: []models.HistoryEntry{{ID: "h1", Kind: models.HistoryStepCompleted}},
	})

	s.HydrateRemote(models.RemotePayload{
		Pipelines: []models.Pipeline{{ID: "p1", Title: "Remote"}},
	})

	snap := s.Snapshot()
	require.Len(t, snap.Pipelines, 1)
	assert.Equal(t, "Remote", snap.Pipelines[0].Title)
	assert.Empty(t, snap.Routines)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "h1", snap.History[0].ID)
}

func TestRollover_Run(t *testing.T) {
	s := newTestStore()
	r := s.AddRoutine(models.Routine{Title: "Stretch"})
	require.NoError(t, s.SetRoutineDone(r.ID, true))

	ro := NewRollover(s, nil)
	ro.now = func() time.Time { return testNow.Add(24 * time.Hour) }
	ro.Run()

	assert.False(t, s.Snapshot().Routines[0].Done)
}

func TestRollover_StartStop(t *testing.T) {
	ro := NewRollover(newTestStore(), nil)
	require.NoError(t, ro.Start())
	assert.Len(t, ro.cron.Entries(), 1)
	ro.Stop()
}
