package models

import (
	"time"
)

// Workspace is the per-user remote namespace holding pipelines and routines.
type Workspace struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
