package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"pipesync/pkg/models"
)

// GormStore implements Store on top of GORM. It backs the sqlite remote
// driver and the gorm-postgres driver.
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens a sqlite database at path.
func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// OpenGormPostgres opens a PostgreSQL database through GORM.
func OpenGormPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// NewGormStore wraps db and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	s := &GormStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&WorkspaceRow{}, &PipelineRow{}, &StepRow{}, &RoutineRow{}); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Ping checks the underlying connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) WorkspaceByOwner(ctx context.Context, ownerID string) (*models.Workspace, error) {
	var row WorkspaceRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.Workspace{ID: row.ID, OwnerID: row.OwnerID, CreatedAt: row.CreatedAt}, nil
}

func (s *GormStore) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	row := WorkspaceRow{ID: ws.ID, OwnerID: ws.OwnerID, CreatedAt: ws.CreatedAt}
	return s.db.WithContext(ctx).Create(&row).Error
}

func upsertByID[T any](ctx context.Context, db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&rows).Error
}

func (s *GormStore) UpsertPipelines(ctx context.Context, rows []PipelineRow) error {
	return upsertByID(ctx, s.db, rows)
}

func (s *GormStore) UpsertSteps(ctx context.Context, rows []StepRow) error {
	return upsertByID(ctx, s.db, rows)
}

func (s *GormStore) UpsertRoutines(ctx context.Context, rows []RoutineRow) error {
	return upsertByID(ctx, s.db, rows)
}

func (s *GormStore) ListPipelines(ctx context.Context, workspaceID string) ([]PipelineRow, error) {
	var out []PipelineRow
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("position, id").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListSteps(ctx context.Context, pipelineIDs []string) ([]StepRow, error) {
	if len(pipelineIDs) == 0 {
		return nil, nil
	}
	var out []StepRow
	err := s.db.WithContext(ctx).
		Where("pipeline_id IN ?", pipelineIDs).
		Order("pipeline_id, position, id").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListRoutines(ctx context.Context, workspaceID string) ([]RoutineRow, error) {
	var out []RoutineRow
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("position, id").
		Find(&out).Error
	return out, err
}

func (s *GormStore) SelectIDs(ctx context.Context, table Table, f Filter) ([]string, error) {
	if err := validateFilter(table, f); err != nil {
		return nil, err
	}
	if len(f.Values) == 0 {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).
		Table(string(table)).
		Where(clause.IN{Column: clause.Column{Name: f.Column}, Values: toAny(f.Values)}).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *GormStore) DeleteIDs(ctx context.Context, table Table, ids []string) (int64, error) {
	model, err := rowModel(table)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(model)
	return res.RowsAffected, res.Error
}

func rowModel(table Table) (any, error) {
	switch table {
	case TablePipelines:
		return &PipelineRow{}, nil
	case TableSteps:
		return &StepRow{}, nil
	case TableRoutines:
		return &RoutineRow{}, nil
	}
	return nil, fmt.Errorf("unknown table %q", table)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
