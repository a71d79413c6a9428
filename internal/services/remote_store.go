package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"pipesync/internal/logging"
	"pipesync/internal/repository"
	"pipesync/pkg/models"
)

const defaultBatchSize = 100

// RemoteStoreService is the Remote Store Adapter. It translates payloads to
// rows of the keyed-table store and reconciles deletions.
type RemoteStoreService struct {
	store     repository.Store
	logger    *logging.Logger
	batchSize int
	now       func() time.Time

	mu         sync.Mutex
	workspaces map[string]string
}

// RemoteStoreOption configures a RemoteStoreService.
type RemoteStoreOption func(*RemoteStoreService)

// WithBatchSize sets how many ids go into one select or delete.
func WithBatchSize(n int) RemoteStoreOption {
	return func(s *RemoteStoreService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithNow overrides the clock used to derive today's date.
func WithNow(now func() time.Time) RemoteStoreOption {
	return func(s *RemoteStoreService) { s.now = now }
}

// NewRemoteStoreService creates a new RemoteStoreService.
func NewRemoteStoreService(store repository.Store, logger *logging.Logger, opts ...RemoteStoreOption) *RemoteStoreService {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &RemoteStoreService{
		store:      store,
		logger:     logger.With("component", "remote_store"),
		batchSize:  defaultBatchSize,
		now:        time.Now,
		workspaces: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteStoreService) today() string {
	return models.DateOf(s.now())
}

// Load returns the user's remote payload, or nil if no workspace exists.
func (s *RemoteStoreService) Load(ctx context.Context, userID string) (*models.RemotePayload, error) {
	if s == nil || s.store == nil {
		return nil, ErrNotConfigured
	}
	wsID, err := s.resolveWorkspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wsID == "" {
		return nil, nil
	}

	pipeRows, err := s.store.ListPipelines(ctx, wsID)
	if err != nil {
		return nil, classify("list pipelines", err)
	}
	pipelineIDs := make([]string, len(pipeRows))
	for i, p := range pipeRows {
		pipelineIDs[i] = p.ID
	}
	stepsByPipeline := make(map[string][]models.Step, len(pipeRows))
	for _, chunk := range chunks(pipelineIDs, s.batchSize) {
		stepRows, err := s.store.ListSteps(ctx, chunk)
		if err != nil {
			return nil, classify("list steps", err)
		}
		for _, st := range stepRows {
			stepsByPipeline[st.PipelineID] = append(stepsByPipeline[st.PipelineID], models.Step{
				ID:          st.ID,
				Title:       st.Title,
				Description: st.Description,
				Status:      models.StepStatus(st.Status),
				Position:    st.Position,
			})
		}
	}
	routineRows, err := s.store.ListRoutines(ctx, wsID)
	if err != nil {
		return nil, classify("list routines", err)
	}

	payload := &models.RemotePayload{
		Pipelines: make([]models.Pipeline, 0, len(pipeRows)),
		Routines:  make([]models.Routine, 0, len(routineRows)),
	}
	for _, p := range pipeRows {
		steps := stepsByPipeline[p.ID]
		if steps == nil {
			steps = []models.Step{}
		}
		payload.Pipelines = append(payload.Pipelines, models.Pipeline{
			ID:       p.ID,
			Title:    p.Title,
			Subtitle: p.Subtitle,
			Color:    p.Color,
			Icon:     p.Icon,
			Steps:    steps,
			Position: p.Position,
		})
	}
	today := s.today()
	for _, r := range routineRows {
		routine := models.Routine{
			ID:     r.ID,
			Title:  r.Title,
			Time:   r.ScheduledTime,
			Period: models.RoutinePeriod(r.Period),
			Done:   r.Done,
		}
		if r.DoneDate != nil && *r.DoneDate != "" {
			routine.DoneDate = *r.DoneDate
			routine.Done = *r.DoneDate == today
		}
		payload.Routines = append(payload.Routines, routine)
	}
	return payload, nil
}

// Save upserts every item of payload and then deletes remote items that
// payload no longer contains.
func (s *RemoteStoreService) Save(ctx context.Context, userID string, payload models.RemotePayload) error {
	if s == nil || s.store == nil {
		return ErrNotConfigured
	}
	wsID, err := s.ensureWorkspace(ctx, userID)
	if err != nil {
		return err
	}

	today := s.today()
	pipeRows := make([]repository.PipelineRow, 0, len(payload.Pipelines))
	var stepRows []repository.StepRow
	localPipelineIDs := make([]string, 0, len(payload.Pipelines))
	localStepIDs := make(map[string]bool)
	for i, p := range payload.Pipelines {
		pipeRows = append(pipeRows, repository.PipelineRow{
			ID:          p.ID,
			WorkspaceID: wsID,
			Title:       p.Title,
			Subtitle:    p.Subtitle,
			Color:       p.Color,
			Icon:        p.Icon,
			Position:    i,
		})
		localPipelineIDs = append(localPipelineIDs, p.ID)
		for j, st := range p.Steps {
			stepRows = append(stepRows, repository.StepRow{
				ID:          st.ID,
				PipelineID:  p.ID,
				Title:       st.Title,
				Description: st.Description,
				Status:      string(st.Status),
				Position:    j,
			})
			localStepIDs[st.ID] = true
		}
	}
	routineRows := make([]repository.RoutineRow, 0, len(payload.Routines))
	localRoutineIDs := make(map[string]bool, len(payload.Routines))
	for i, r := range payload.Routines {
		row := repository.RoutineRow{
			ID:            r.ID,
			WorkspaceID:   wsID,
			Title:         r.Title,
			ScheduledTime: r.Time,
			Period:        string(r.Period),
			Done:          r.Done,
			Position:      i,
		}
		if d := models.RemoteDoneDate(r, today); d != "" {
			row.DoneDate = &d
		}
		routineRows = append(routineRows, row)
		localRoutineIDs[r.ID] = true
	}

	for _, chunk := range chunks(pipeRows, s.batchSize) {
		if err := s.store.UpsertPipelines(ctx, chunk); err != nil {
			return classify("upsert pipelines", err)
		}
	}
	for _, chunk := range chunks(stepRows, s.batchSize) {
		if err := s.store.UpsertSteps(ctx, chunk); err != nil {
			return classify("upsert steps", err)
		}
	}
	for _, chunk := range chunks(routineRows, s.batchSize) {
		if err := s.store.UpsertRoutines(ctx, chunk); err != nil {
			return classify("upsert routines", err)
		}
	}

	return s.reconcile(ctx, wsID, localPipelineIDs, localStepIDs, localRoutineIDs)
}

func (s *RemoteStoreService) reconcile(ctx context.Context, wsID string, localPipelineIDs []string, localStepIDs, localRoutineIDs map[string]bool) error {
	localPipelines := make(map[string]bool, len(localPipelineIDs))
	for _, id := range localPipelineIDs {
		localPipelines[id] = true
	}

	remotePipelines, err := s.store.SelectIDs(ctx, repository.TablePipelines, repository.By("workspace_id", wsID))
	if err != nil {
		return classify("select pipelines", err)
	}
	stalePipelines := missingFrom(remotePipelines, localPipelines)
	if len(stalePipelines) > 0 {
		orphanSteps, err := s.selectIn(ctx, repository.TableSteps, "pipeline_id", stalePipelines)
		if err != nil {
			return err
		}
		if err := s.deleteIn(ctx, repository.TableSteps, orphanSteps); err != nil {
			return err
		}
		if err := s.deleteIn(ctx, repository.TablePipelines, stalePipelines); err != nil {
			return err
		}
	}

	remoteRoutines, err := s.store.SelectIDs(ctx, repository.TableRoutines, repository.By("workspace_id", wsID))
	if err != nil {
		return classify("select routines", err)
	}
	if err := s.deleteIn(ctx, repository.TableRoutines, missingFrom(remoteRoutines, localRoutineIDs)); err != nil {
		return err
	}

	remoteSteps, err := s.selectIn(ctx, repository.TableSteps, "pipeline_id", localPipelineIDs)
	if err != nil {
		return err
	}
	staleSteps := missingFrom(remoteSteps, localStepIDs)
	if err := s.deleteIn(ctx, repository.TableSteps, staleSteps); err != nil {
		return err
	}

	s.logger.Debug("reconciled remote workspace",
		"workspace_id", wsID,
		"stale_pipelines", len(stalePipelines),
		"stale_steps", len(staleSteps))
	return nil
}

func (s *RemoteStoreService) selectIn(ctx context.Context, table repository.Table, column string, values []string) ([]string, error) {
	var out []string
	for _, chunk := range chunks(values, s.batchSize) {
		ids, err := s.store.SelectIDs(ctx, table, repository.By(column, chunk...))
		if err != nil {
			return nil, classify("select "+string(table), err)
		}
		out = append(out, ids...)
	}
	return out, nil
}

func (s *RemoteStoreService) deleteIn(ctx context.Context, table repository.Table, ids []string) error {
	for _, chunk := range chunks(ids, s.batchSize) {
		if _, err := s.store.DeleteIDs(ctx, table, chunk); err != nil {
			return classify("delete "+string(table), err)
		}
	}
	return nil
}

// resolveWorkspace returns the cached or stored workspace id of userID, or
// "" when the user has none.
func (s *RemoteStoreService) resolveWorkspace(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	id, ok := s.workspaces[userID]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	ws, err := s.store.WorkspaceByOwner(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWorkspaceResolution, classify("find workspace", err))
	}

	s.mu.Lock()
	s.workspaces[userID] = ws.ID
	s.mu.Unlock()
	return ws.ID, nil
}

func (s *RemoteStoreService) ensureWorkspace(ctx context.Context, userID string) (string, error) {
	id, err := s.resolveWorkspace(ctx, userID)
	if err != nil || id != "" {
		return id, err
	}

	ws := &models.Workspace{ID: uuid.NewString(), OwnerID: userID}
	if createErr := s.store.CreateWorkspace(ctx, ws); createErr != nil {
		// Another session may have created it first.
		id, err := s.resolveWorkspace(ctx, userID)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("%w: %w", ErrWorkspaceResolution, classify("create workspace", createErr))
		}
		return id, nil
	}

	s.logger.Info("created workspace", "workspace_id", ws.ID, "user_id", userID)
	s.mu.Lock()
	s.workspaces[userID] = ws.ID
	s.mu.Unlock()
	return ws.ID, nil
}

// classify wraps err with the taxonomy sentinel matching its cause.
func classify(op string, err error) error {
	if isTransport(err) {
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrQuery, op, err)
}

func isTransport(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func missingFrom(ids []string, keep map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if !keep[id] {
			out = append(out, id)
		}
	}
	return out
}

func chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
