package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipesync/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Table names a keyed table of the remote store.
type Table string

const (
	TablePipelines Table = "pipelines"
	TableSteps     Table = "steps"
	TableRoutines  Table = "routines"
)

// filterColumns lists, per table, the columns SelectIDs may filter on.
var filterColumns = map[Table]map[string]bool{
	TablePipelines: {"workspace_id": true, "id": true},
	TableSteps:     {"pipeline_id": true, "id": true},
	TableRoutines:  {"workspace_id": true, "id": true},
}

// Filter restricts a select to rows whose Column is one of Values.
type Filter struct {
	Column string
	Values []string
}

// By builds a Filter.
func By(column string, values ...string) Filter {
	return Filter{Column: column, Values: values}
}

func validateFilter(table Table, f Filter) error {
	cols, ok := filterColumns[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if !cols[f.Column] {
		return fmt.Errorf("column %q cannot filter table %q", f.Column, table)
	}
	return nil
}

// WorkspaceRow is the stored form of a workspace.
type WorkspaceRow struct {
	ID        string    `gorm:"primaryKey" db:"id"`
	OwnerID   string    `gorm:"uniqueIndex;not null" db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (WorkspaceRow) TableName() string { return "workspaces" }

// PipelineRow is the stored form of a pipeline, without its steps.
type PipelineRow struct {
	ID          string    `gorm:"primaryKey" db:"id"`
	WorkspaceID string    `gorm:"index;not null" db:"workspace_id"`
	Title       string    `db:"title"`
	Subtitle    string    `db:"subtitle"`
	Color       string    `db:"color"`
	Icon        string    `db:"icon"`
	Position    int       `db:"position"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (PipelineRow) TableName() string { return string(TablePipelines) }

// StepRow is the stored form of a step, stamped with its pipeline.
type StepRow struct {
	ID          string    `gorm:"primaryKey" db:"id"`
	PipelineID  string    `gorm:"index;not null" db:"pipeline_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	Position    int       `db:"position"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (StepRow) TableName() string { return string(TableSteps) }

// RoutineRow is the stored form of a routine. DoneDate is nil when the
// routine has no completion date.
type RoutineRow struct {
	ID            string    `gorm:"primaryKey" db:"id"`
	WorkspaceID   string    `gorm:"index;not null" db:"workspace_id"`
	Title         string    `db:"title"`
	ScheduledTime string    `gorm:"column:scheduled_time" db:"scheduled_time"`
	Period        string    `db:"period"`
	Done          bool      `db:"done"`
	DoneDate      *string   `db:"done_date"`
	Position      int       `db:"position"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (RoutineRow) TableName() string { return string(TableRoutines) }

// Store is a keyed-table store: typed upserts and loads plus generic id
// selects and batched deletes.
type Store interface {
	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// WorkspaceByOwner returns the earliest created workspace owned by
	// ownerID, or ErrNotFound.
	WorkspaceByOwner(ctx context.Context, ownerID string) (*models.Workspace, error)
	// CreateWorkspace inserts a new workspace. It fails if the owner
	// already has one.
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error

	UpsertPipelines(ctx context.Context, rows []PipelineRow) error
	UpsertSteps(ctx context.Context, rows []StepRow) error
	UpsertRoutines(ctx context.Context, rows []RoutineRow) error

	// ListPipelines returns the workspace's pipelines ordered by position.
	ListPipelines(ctx context.Context, workspaceID string) ([]PipelineRow, error)
	// ListSteps returns the steps of the given pipelines ordered by position.
	ListSteps(ctx context.Context, pipelineIDs []string) ([]StepRow, error)
	// ListRoutines returns the workspace's routines ordered by position.
	ListRoutines(ctx context.Context, workspaceID string) ([]RoutineRow, error)

	// SelectIDs returns the ids of rows in table matching f.
	SelectIDs(ctx context.Context, table Table, f Filter) ([]string, error)
	// DeleteIDs deletes rows of table by id and reports how many went away.
	DeleteIDs(ctx context.Context, table Table, ids []string) (int64, error)
}
