package models

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() RemotePayload {
	return RemotePayload{
		Pipelines: []Pipeline{{
			ID:    "p1",
			Title: "Launch",
			Color: "#ff8800",
			Steps: []Step{
				{ID: "s1", Title: "Draft", Status: StepStatusDone, Position: 0},
				{ID: "s2", Title: "Review", Description: "peer review", Status: StepStatusActive, Position: 1},
			},
		}},
		Routines: []Routine{
			{ID: "r1", Title: "Stretch", Time: "07:30", Period: PeriodMorning, Done: true, DoneDate: "2026-10-16"},
		},
	}
}

func TestCanonicalJSON_Golden(t *testing.T) {
	b, err := samplePayload().CanonicalJSON()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "canonical_payload", b)
}

func TestSignature_StableForEqualContent(t *testing.T) {
	a, err := samplePayload().Signature()
	require.NoError(t, err)
	b, err := samplePayload().Signature()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestSignature_ChangesWithContent(t *testing.T) {
	base, err := samplePayload().Signature()
	require.NoError(t, err)

	changed := samplePayload()
	changed.Pipelines[0].Steps[1].Status = StepStatusDone
	other, err := changed.Signature()
	require.NoError(t, err)

	assert.NotEqual(t, base, other)
}

func TestSignature_NilAndEmptyAreEqual(t *testing.T) {
	nilSig, err := RemotePayload{}.Signature()
	require.NoError(t, err)
	emptySig, err := RemotePayload{Pipelines: []Pipeline{}, Routines: []Routine{}}.Signature()
	require.NoError(t, err)
	assert.Equal(t, nilSig, emptySig)

	withNilSteps, err := RemotePayload{Pipelines: []Pipeline{{ID: "p1", Title: "T"}}}.Signature()
	require.NoError(t, err)
	withEmptySteps, err := RemotePayload{Pipelines: []Pipeline{{ID: "p1", Title: "T", Steps: []Step{}}}}.Signature()
	require.NoError(t, err)
	assert.Equal(t, withNilSteps, withEmptySteps)
}

func TestSnapshotRemote_DropsHistoryAndCopies(t *testing.T) {
	snap := Snapshot{
		Pipelines: samplePayload().Pipelines,
		Routines:  samplePayload().Routines,
		History:   []HistoryEntry{{ID: "h1", Kind: HistoryStepCompleted, RefID: "s1", Title: "Draft"}},
	}

	remote := snap.Remote()
	remote.Pipelines[0].Steps[0].Title = "mutated"

	assert.Equal(t, "Draft", snap.Pipelines[0].Steps[0].Title)
	assert.Len(t, remote.Pipelines, 1)
	assert.Len(t, remote.Routines, 1)
}

func TestRemotePayloadEmpty(t *testing.T) {
	assert.True(t, RemotePayload{}.Empty())
	assert.False(t, RemotePayload{Routines: []Routine{{ID: "r1"}}}.Empty())
}

func TestParseStepStatus(t *testing.T) {
	s, err := ParseStepStatus("locked")
	require.NoError(t, err)
	assert.Equal(t, StepStatusLocked, s)

	_, err = ParseStepStatus("blocked")
	assert.Error(t, err)
}
