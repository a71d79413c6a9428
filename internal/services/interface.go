package services

import (
	"context"
	"errors"

	"pipesync/pkg/models"
)

// Error taxonomy of the persistence tiers. Returned errors wrap one of these
// and can be tested with errors.Is.
var (
	ErrNotConfigured       = errors.New("remote store not configured")
	ErrWorkspaceResolution = errors.New("workspace resolution failed")
	ErrTransport           = errors.New("transport failure")
	ErrQuery               = errors.New("query failed")
)

// RemoteStore loads and saves the remotely persisted part of a snapshot.
type RemoteStore interface {
	// Load returns the user's payload, or nil when the user has no
	// workspace yet.
	Load(ctx context.Context, userID string) (*models.RemotePayload, error)
	// Save writes payload as the user's complete remote state. Items absent
	// from payload are deleted remotely.
	Save(ctx context.Context, userID string, payload models.RemotePayload) error
}

// FileBackend is the optional HTTP snapshot backend.
type FileBackend interface {
	// Load returns the stored snapshot, or nil when the backend is empty.
	Load(ctx context.Context) (*models.Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, snapshot models.Snapshot) error
}
