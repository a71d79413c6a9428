package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"pipesync/internal/auth"
	"pipesync/internal/logging"
	"pipesync/internal/orchestrator"
	"pipesync/pkg/models"
)

// Syncer is the part of the orchestrator exposed over HTTP.
type Syncer interface {
	Status() orchestrator.Status
	SyncFromCloud(ctx context.Context) models.PullResult
	SetIdentity(id auth.Identity)
	Identity() auth.Identity
}

// Snapshotter returns the current session state.
type Snapshotter interface {
	Snapshot() models.Snapshot
}

// Server holds the dependencies for the daemon API.
type Server struct {
	Sync     Syncer
	State    Snapshotter
	Identity auth.Provider
	Logger   *logging.Logger
}

// NewServer creates a new Server.
func NewServer(sync Syncer, state Snapshotter, identity auth.Provider, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{Sync: sync, State: state, Identity: identity, Logger: logger.With("component", "api")}
}

// RegisterHandlers mounts the daemon endpoints on g.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.GET("/status", s.GetStatus)
	g.GET("/snapshot", s.GetSnapshot)
	g.POST("/sync/pull", s.PullFromCloud)
	g.POST("/session/refresh", s.RefreshSession)
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	orchestrator.Status
	Identity auth.Identity `json:"identity"`
}

// GetStatus returns the loading flag, cloud sync status and identity.
// (GET /api/v1/status)
func (s *Server) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{Status: s.Sync.Status(), Identity: s.Sync.Identity()})
}

// GetSnapshot returns the full session state.
// (GET /api/v1/snapshot)
func (s *Server) GetSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.State.Snapshot())
}

// PullFromCloud replaces local state with the remote copy.
// (POST /api/v1/sync/pull)
func (s *Server) PullFromCloud(c echo.Context) error {
	result := s.Sync.SyncFromCloud(c.Request().Context())
	switch {
	case result.OK:
		return c.JSON(http.StatusOK, result)
	case result.RequiresAuth:
		return c.JSON(http.StatusUnauthorized, result)
	default:
		return c.JSON(http.StatusBadGateway, result)
	}
}

// RefreshSession resolves the identity again and applies it, e.g. after a
// login or logout from another process.
// (POST /api/v1/session/refresh)
func (s *Server) RefreshSession(c echo.Context) error {
	if s.Identity == nil {
		return writeError(c, http.StatusNotImplemented, "no identity provider configured")
	}
	id, err := s.Identity.Identity(c.Request().Context())
	if err != nil {
		s.Logger.Error("failed to resolve identity", "error", err)
		return writeError(c, http.StatusInternalServerError, "failed to resolve identity: "+err.Error())
	}
	s.Sync.SetIdentity(id)
	return c.JSON(http.StatusOK, id)
}
