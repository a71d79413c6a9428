package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/natefinch/atomic"

	"pipesync/internal/logging"
	"pipesync/internal/services"
	"pipesync/pkg/models"
)

// Persistence serves the remote file backend: the whole snapshot kept in one
// JSON file.
type Persistence struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewPersistence stores snapshots at path.
func NewPersistence(path string, logger *logging.Logger) *Persistence {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Persistence{path: path, logger: logger.With("component", "persistence")}
}

// Register mounts the load and save endpoints under /persistence.
func (p *Persistence) Register(e *echo.Echo, secret string) {
	g := e.Group("/persistence", RequireSecret(secret))
	g.GET("/load", p.Load)
	g.POST("/save", p.Save)
}

// RequireSecret rejects requests whose X-Persistence-Secret header does not
// match secret. An empty secret disables the check.
func RequireSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}
			got := c.Request().Header.Get(services.SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return writeError(c, http.StatusUnauthorized, "missing or invalid persistence secret")
			}
			return next(c)
		}
	}
}

// Load returns the stored snapshot, or status "empty" when nothing has been
// saved yet.
// (GET /persistence/load)
func (p *Persistence) Load(c echo.Context) error {
	p.mu.Lock()
	data, err := os.ReadFile(p.path)
	p.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return c.JSON(http.StatusOK, services.LoadResponse{Status: services.LoadStatusEmpty})
	}
	if err != nil {
		p.logger.Error("failed to read data file", "error", err)
		return writeError(c, http.StatusInternalServerError, "failed to read stored state")
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		p.logger.Error("data file is corrupt", "error", err)
		return writeError(c, http.StatusInternalServerError, "stored state is corrupt")
	}
	return c.JSON(http.StatusOK, services.LoadResponse{Status: services.LoadStatusOK, Data: &snap})
}

// Save replaces the stored snapshot with the request body.
// (POST /persistence/save)
func (p *Persistence) Save(c echo.Context) error {
	var snap models.Snapshot
	if err := json.NewDecoder(c.Request().Body).Decode(&snap); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	for _, pl := range snap.Pipelines {
		for _, st := range pl.Steps {
			if !st.Status.Valid() {
				return writeError(c, http.StatusBadRequest, fmt.Sprintf("step %s: unknown status %q", st.ID, st.Status))
			}
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	if err := p.write(data); err != nil {
		p.logger.Error("failed to write data file", "error", err)
		return writeError(c, http.StatusInternalServerError, "failed to store state")
	}
	p.logger.Debug("stored snapshot", "pipelines", len(snap.Pipelines), "routines", len(snap.Routines))
	return c.NoContent(http.StatusNoContent)
}

func (p *Persistence) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(p.path, bytes.NewReader(data))
}
