package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/LLMGateAPI/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func seedUserDir(t *testing.T, root string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "user.yaml"), "default-workflow: Main\n")
	writeFile(t, filepath.Join(root, "api-types", "ollama.yaml"),
		"type: ollamaApiChat\nmax-new-tokens-property-name: num_predict\nstream-property-name: stream\ntruncate-length-property-name: num_ctx\n")
	writeFile(t, filepath.Join(root, "endpoints", "local.yaml"),
		"endpoint: http://127.0.0.1:11434\napi-type: ollama\n")
	writeFile(t, filepath.Join(root, "workflows", "Main.yaml"),
		"nodes:\n  - title: respond\n    endpoint: local\n    return-to-user: true\n")
}

func TestWatcherReloadsOnWorkflowChange(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{User: "alice", UsersDir: dir}
	seedUserDir(t, cfg.UserDir())

	reloads := make(chan *config.Catalog, 4)
	w, err := NewWatcher(cfg, "", func(cat *config.Catalog) { reloads <- cat })
	require.NoError(t, err)
	defer func() {
		_ = w.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeFile(t, filepath.Join(cfg.UserDir(), "workflows", "Extra.yaml"),
		"nodes:\n  - title: respond\n    endpoint: local\n    return-to-user: true\n")

	select {
	case cat := <-reloads:
		require.Contains(t, cat.Workflows, "Extra")
		require.Contains(t, cat.Workflows, "Main")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after workflow file change")
	}
}

func TestWatcherKeepsCatalogOnBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{User: "alice", UsersDir: dir}
	seedUserDir(t, cfg.UserDir())

	reloads := make(chan *config.Catalog, 4)
	w, err := NewWatcher(cfg, "", func(cat *config.Catalog) { reloads <- cat })
	require.NoError(t, err)
	defer func() {
		_ = w.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// An endpoint referencing a missing api-type fails the load; the
	// callback must not fire.
	writeFile(t, filepath.Join(cfg.UserDir(), "endpoints", "broken.yaml"),
		"endpoint: http://127.0.0.1:9999\napi-type: nope\n")

	select {
	case <-reloads:
		t.Fatal("broken catalog must not reach the reload callback")
	case <-time.After(time.Second):
	}
}

func TestIsRelevantFiltersNonYAML(t *testing.T) {
	require.True(t, isRelevant(fsnotify.Event{Name: "workflows/Main.yaml", Op: fsnotify.Write}))
	require.True(t, isRelevant(fsnotify.Event{Name: "endpoints/local.yml", Op: fsnotify.Create}))
	require.False(t, isRelevant(fsnotify.Event{Name: "workflows/Main.yaml.swp", Op: fsnotify.Write}))
	require.False(t, isRelevant(fsnotify.Event{Name: "workflows/Main.yaml", Op: fsnotify.Chmod}))
}
