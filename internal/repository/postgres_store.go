package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pipesync/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipelines (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	subtitle TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS steps (
	id TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	position INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS routines (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	scheduled_time TEXT NOT NULL DEFAULT '',
	period TEXT NOT NULL DEFAULT '',
	done BOOLEAN NOT NULL DEFAULT false,
	done_date TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pipelines_workspace ON pipelines(workspace_id, position);
CREATE INDEX IF NOT EXISTS idx_steps_pipeline ON steps(pipeline_id, position);
CREATE INDEX IF NOT EXISTS idx_routines_workspace ON routines(workspace_id, position);
`

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// WorkspaceByOwner returns the earliest workspace owned by ownerID.
func (s *PostgresStore) WorkspaceByOwner(ctx context.Context, ownerID string) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.QueryRow(ctx,
		"SELECT id, owner_id, created_at FROM workspaces WHERE owner_id = $1 ORDER BY created_at ASC LIMIT 1",
		ownerID,
	).Scan(&ws.ID, &ws.OwnerID, &ws.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// CreateWorkspace inserts a workspace.
func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	return s.db.QueryRow(ctx,
		"INSERT INTO workspaces (id, owner_id) VALUES ($1, $2) RETURNING created_at",
		ws.ID, ws.OwnerID,
	).Scan(&ws.CreatedAt)
}

// UpsertPipelines inserts or replaces pipelines by id.
func (s *PostgresStore) UpsertPipelines(ctx context.Context, rows []PipelineRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO pipelines (id, workspace_id, title, subtitle, color, icon, position, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO UPDATE SET
				workspace_id = excluded.workspace_id,
				title = excluded.title,
				subtitle = excluded.subtitle,
				color = excluded.color,
				icon = excluded.icon,
				position = excluded.position,
				updated_at = excluded.updated_at`,
			r.ID, r.WorkspaceID, r.Title, r.Subtitle, r.Color, r.Icon, r.Position)
	}
	return s.sendBatch(ctx, batch, "pipelines")
}

// UpsertSteps inserts or replaces steps by id.
func (s *PostgresStore) UpsertSteps(ctx context.Context, rows []StepRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO steps (id, pipeline_id, title, description, status, position, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (id) DO UPDATE SET
				pipeline_id = excluded.pipeline_id,
				title = excluded.title,
				description = excluded.description,
				status = excluded.status,
				position = excluded.position,
				updated_at = excluded.updated_at`,
			r.ID, r.PipelineID, r.Title, r.Description, r.Status, r.Position)
	}
	return s.sendBatch(ctx, batch, "steps")
}

// UpsertRoutines inserts or replaces routines by id.
func (s *PostgresStore) UpsertRoutines(ctx context.Context, rows []RoutineRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO routines (id, workspace_id, title, scheduled_time, period, done, done_date, position, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (id) DO UPDATE SET
				workspace_id = excluded.workspace_id,
				title = excluded.title,
				scheduled_time = excluded.scheduled_time,
				period = excluded.period,
				done = excluded.done,
				done_date = excluded.done_date,
				position = excluded.position,
				updated_at = excluded.updated_at`,
			r.ID, r.WorkspaceID, r.Title, r.ScheduledTime, r.Period, r.Done, r.DoneDate, r.Position)
	}
	return s.sendBatch(ctx, batch, "routines")
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	br := s.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to upsert %s: %w", what, err)
		}
	}
	return br.Close()
}

// ListPipelines returns the workspace's pipelines ordered by position.
func (s *PostgresStore) ListPipelines(ctx context.Context, workspaceID string) ([]PipelineRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workspace_id, title, subtitle, color, icon, position, updated_at
		FROM pipelines WHERE workspace_id = $1 ORDER BY position, id`, workspaceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[PipelineRow])
}

// ListSteps returns the steps of the given pipelines ordered by position.
func (s *PostgresStore) ListSteps(ctx context.Context, pipelineIDs []string) ([]StepRow, error) {
	if len(pipelineIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, pipeline_id, title, description, status, position, updated_at
		FROM steps WHERE pipeline_id = ANY($1) ORDER BY pipeline_id, position, id`, pipelineIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[StepRow])
}

// ListRoutines returns the workspace's routines ordered by position.
func (s *PostgresStore) ListRoutines(ctx context.Context, workspaceID string) ([]RoutineRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workspace_id, title, scheduled_time, period, done, done_date, position, updated_at
		FROM routines WHERE workspace_id = $1 ORDER BY position, id`, workspaceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[RoutineRow])
}

// SelectIDs returns the ids of rows in table whose filter column matches.
// Table and column names come from a fixed whitelist.
func (s *PostgresStore) SelectIDs(ctx context.Context, table Table, f Filter) ([]string, error) {
	if err := validateFilter(table, f); err != nil {
		return nil, err
	}
	if len(f.Values) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ANY($1)", table, f.Column)
	rows, err := s.db.Query(ctx, query, f.Values)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DeleteIDs removes rows of table by id.
func (s *PostgresStore) DeleteIDs(ctx context.Context, table Table, ids []string) (int64, error) {
	if _, ok := filterColumns[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", table), ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
