// Package watch imports pipelines and routines from a user-editable JSON
// file whenever it changes on disk.
package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tailscale/hujson"

	"pipesync/internal/logging"
	"pipesync/pkg/models"
)

// DefaultDebounce is the quiet period after the last write before a file is
// imported.
const DefaultDebounce = 250 * time.Millisecond

// Target receives imported state.
type Target interface {
	HydrateRemote(p models.RemotePayload)
}

// ParseFile reads path as JSON with comments and trailing commas allowed.
func ParseFile(path string) (models.RemotePayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RemotePayload{}, fmt.Errorf("failed to read import file: %w", err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return models.RemotePayload{}, fmt.Errorf("failed to parse import file: %w", err)
	}
	var p models.RemotePayload
	if err := json.Unmarshal(standardized, &p); err != nil {
		return models.RemotePayload{}, fmt.Errorf("failed to decode import file: %w", err)
	}
	for _, pl := range p.Pipelines {
		if pl.ID == "" {
			return models.RemotePayload{}, fmt.Errorf("pipeline %q has no id", pl.Title)
		}
		for _, st := range pl.Steps {
			if !st.Status.Valid() {
				return models.RemotePayload{}, fmt.Errorf("step %q: unknown status %q", st.ID, st.Status)
			}
		}
	}
	for _, r := range p.Routines {
		if r.ID == "" {
			return models.RemotePayload{}, fmt.Errorf("routine %q has no id", r.Title)
		}
	}
	return p, nil
}

// Importer watches one file and hydrates the target from it on change.
type Importer struct {
	path     string
	target   Target
	logger   *logging.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
	// imported counts successful imports.
	imported int
}

// NewImporter creates an Importer. The watcher must be started with Start.
func NewImporter(path string, target Target, logger *logging.Logger) (*Importer, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Importer{
		path:     abs,
		target:   target,
		logger:   logger.With("component", "importer", "path", abs),
		debounce: DefaultDebounce,
		watcher:  watcher,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory, so that editors replacing the file
// are noticed as well.
func (im *Importer) Start() error {
	if err := im.watcher.Add(filepath.Dir(im.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(im.path), err)
	}
	im.wg.Add(1)
	go im.processEvents()
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (im *Importer) Stop() error {
	close(im.done)
	err := im.watcher.Close()
	im.wg.Wait()
	im.mu.Lock()
	if im.timer != nil {
		im.timer.Stop()
	}
	im.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (im *Importer) processEvents() {
	defer im.wg.Done()
	for {
		select {
		case <-im.done:
			return
		case event, ok := <-im.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != im.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				im.schedule()
			}
		case err, ok := <-im.watcher.Errors:
			if !ok {
				return
			}
			im.logger.Warn("watcher error", "error", err)
		}
	}
}

func (im *Importer) schedule() {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.timer != nil {
		im.timer.Stop()
	}
	im.timer = time.AfterFunc(im.debounce, im.importNow)
}

func (im *Importer) importNow() {
	select {
	case <-im.done:
		return
	default:
	}
	p, err := ParseFile(im.path)
	if err != nil {
		im.logger.Warn("import skipped", "error", err)
		return
	}
	im.target.HydrateRemote(p)
	im.mu.Lock()
	im.imported++
	im.mu.Unlock()
	im.logger.Info("imported file", "pipelines", len(p.Pipelines), "routines", len(p.Routines))
}

// Imported reports how many imports have succeeded.
func (im *Importer) Imported() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.imported
}
