package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pipesync/pkg/models"
)

// Keys under which the session state is kept.
const (
	KeyState      = "pipesync:state"
	KeyLastOpened = "pipesync:last-opened"
	KeyIDToken    = "pipesync:id-token"
)

// ErrCorrupt is returned by Load when the stored snapshot could not be
// parsed. The offending value has already been removed.
var ErrCorrupt = errors.New("corrupt snapshot cache")

// SnapshotCache stores the full snapshot and the last-opened date in a KV.
type SnapshotCache struct {
	kv KV
}

func NewSnapshotCache(kv KV) *SnapshotCache {
	return &SnapshotCache{kv: kv}
}

// KV returns the underlying store.
func (c *SnapshotCache) KV() KV { return c.kv }

// Load returns the cached snapshot and whether one was present. A value that
// fails to parse is removed and reported as ErrCorrupt, so the next boot
// starts clean.
func (c *SnapshotCache) Load() (models.Snapshot, bool, error) {
	raw, ok, err := c.kv.Get(KeyState)
	if err != nil || !ok {
		return models.Snapshot{}, false, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		if rmErr := c.kv.Remove(KeyState); rmErr != nil {
			return models.Snapshot{}, false, fmt.Errorf("%w: %w (remove failed: %v)", ErrCorrupt, err, rmErr)
		}
		return models.Snapshot{}, false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return snap, true, nil
}

// Save overwrites the cached snapshot.
func (c *SnapshotCache) Save(snap models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return c.kv.Set(KeyState, string(data))
}

// LastOpened returns the date recorded by the previous session, or "".
func (c *SnapshotCache) LastOpened() (string, error) {
	v, _, err := c.kv.Get(KeyLastOpened)
	return strings.TrimSpace(v), err
}

func (c *SnapshotCache) SetLastOpened(date string) error {
	return c.kv.Set(KeyLastOpened, date)
}
