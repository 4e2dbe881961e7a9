// Package watcher provides file system monitoring for the active user's
// configuration catalog. When an endpoint, api-type, preset, or workflow
// file changes on disk, the catalog is reloaded and handed to the reload
// callback, so running servers pick up changes without a restart.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/util"
)

// debounceDelay absorbs editor write bursts; a reload runs once per
// burst.
const debounceDelay = 300 * time.Millisecond

// Watcher watches the server config file and the user configuration
// directory and hot-reloads the catalog.
type Watcher struct {
	cfg        *config.Config
	configPath string
	reload     func(*config.Catalog)
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	debounce   *time.Timer
}

// NewWatcher creates a watcher that calls reload with every freshly
// loaded catalog. configPath may be empty when only the catalog should
// be watched.
func NewWatcher(cfg *config.Config, configPath string, reload func(*config.Catalog)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{cfg: cfg, configPath: configPath, reload: reload, watcher: fsw}, nil
}

// Start watches the user directory and its catalog subdirectories, then
// begins processing events until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.cfg.UserDir()
	var dirs []string
	if w.configPath != "" {
		// Watch the parent directory; editors replace files on save and
		// a watch on the file itself would be lost.
		dirs = append(dirs, filepath.Dir(w.configPath))
	}
	dirs = append(dirs, root)
	for _, sub := range []string{"endpoints", "api-types", "presets", "workflows"} {
		dirs = append(dirs, filepath.Join(root, sub))
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			log.Errorf("failed to watch %s: %v", dir, err)
			return err
		}
		log.Debugf("watching configuration directory: %s", dir)
	}

	go w.processEvents(ctx)
	return nil
}

// Stop closes the underlying file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isRelevant(event) {
				continue
			}
			log.Debugf("configuration change detected: %s %s", event.Op, event.Name)
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", err)
		}
	}
}

// scheduleReload coalesces bursts of events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, w.doReload)
}

func (w *Watcher) doReload() {
	if w.configPath != "" {
		if fresh, err := config.LoadConfig(w.configPath); err != nil {
			log.Errorf("server config reload failed, keeping previous settings: %v", err)
		} else {
			// Only the log level applies live; port and user changes
			// need a restart.
			util.SetLogLevel(fresh)
		}
	}
	cat, err := config.LoadCatalog(w.cfg)
	if err != nil {
		log.Errorf("configuration reload failed, keeping previous catalog: %v", err)
		return
	}
	log.Infof("configuration reloaded: %d endpoints, %d workflows", len(cat.Endpoints), len(cat.Workflows))
	w.reload(cat)
}

// isRelevant filters events down to YAML writes, creations, removals and
// renames.
func isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	ext := filepath.Ext(event.Name)
	return ext == ".yaml" || ext == ".yml"
}
