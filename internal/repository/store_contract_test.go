package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipesync/pkg/models"
)

// runStoreContract exercises behavior every Store driver must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("workspace lookup", func(t *testing.T) {
		_, err := store.WorkspaceByOwner(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)

		ws := &models.Workspace{ID: uuid.NewString(), OwnerID: "owner-a"}
		require.NoError(t, store.CreateWorkspace(ctx, ws))

		got, err := store.WorkspaceByOwner(ctx, "owner-a")
		require.NoError(t, err)
		assert.Equal(t, ws.ID, got.ID)

		dup := &models.Workspace{ID: uuid.NewString(), OwnerID: "owner-a"}
		assert.Error(t, store.CreateWorkspace(ctx, dup))
	})

	t.Run("upsert list select delete", func(t *testing.T) {
		ws := &models.Workspace{ID: uuid.NewString(), OwnerID: "owner-b"}
		require.NoError(t, store.CreateWorkspace(ctx, ws))

		require.NoError(t, store.UpsertPipelines(ctx, []PipelineRow{
			{ID: "b-p2", WorkspaceID: ws.ID, Title: "Second", Position: 1},
			{ID: "b-p1", WorkspaceID: ws.ID, Title: "First", Color: "#fff", Position: 0},
		}))
		require.NoError(t, store.UpsertSteps(ctx, []StepRow{
			{ID: "b-s1", PipelineID: "b-p1", Title: "One", Status: "done", Position: 0},
			{ID: "b-s2", PipelineID: "b-p1", Title: "Two", Status: "pending", Position: 1},
			{ID: "b-s3", PipelineID: "b-p2", Title: "Three", Status: "active", Position: 0},
		}))
		today := "2026-10-16"
		require.NoError(t, store.UpsertRoutines(ctx, []RoutineRow{
			{ID: "b-r1", WorkspaceID: ws.ID, Title: "Walk", ScheduledTime: "08:00", Period: "morning", Done: true, DoneDate: &today},
			{ID: "b-r2", WorkspaceID: ws.ID, Title: "Read", ScheduledTime: "14:00", Period: "afternoon", Position: 1},
		}))

		// Upsert replaces by id.
		require.NoError(t, store.UpsertPipelines(ctx, []PipelineRow{
			{ID: "b-p2", WorkspaceID: ws.ID, Title: "Second (renamed)", Position: 1},
		}))

		pipes, err := store.ListPipelines(ctx, ws.ID)
		require.NoError(t, err)
		require.Len(t, pipes, 2)
		assert.Equal(t, "b-p1", pipes[0].ID)
		assert.Equal(t, "#fff", pipes[0].Color)
		assert.Equal(t, "Second (renamed)", pipes[1].Title)

		steps, err := store.ListSteps(ctx, []string{"b-p1", "b-p2"})
		require.NoError(t, err)
		require.Len(t, steps, 3)
		assert.Equal(t, []string{"b-s1", "b-s2", "b-s3"}, []string{steps[0].ID, steps[1].ID, steps[2].ID})

		routines, err := store.ListRoutines(ctx, ws.ID)
		require.NoError(t, err)
		require.Len(t, routines, 2)
		require.NotNil(t, routines[0].DoneDate)
		assert.Equal(t, today, *routines[0].DoneDate)
		assert.Nil(t, routines[1].DoneDate)

		ids, err := store.SelectIDs(ctx, TableSteps, By("pipeline_id", "b-p1"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"b-s1", "b-s2"}, ids)

		n, err := store.DeleteIDs(ctx, TableSteps, []string{"b-s2", "missing"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.DeleteIDs(ctx, TableSteps, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("rejects unknown table and column", func(t *testing.T) {
		_, err := store.SelectIDs(ctx, Table("users"), By("id", "x"))
		assert.Error(t, err)
		_, err = store.SelectIDs(ctx, TableSteps, By("title; DROP TABLE steps", "x"))
		assert.Error(t, err)
		_, err = store.DeleteIDs(ctx, Table("workspaces"), []string{"x"})
		assert.Error(t, err)
	})
}
