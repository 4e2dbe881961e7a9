// Package cmd wires the service together: configuration, workflow
// engine, lock store, watcher and HTTP server, plus graceful shutdown.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/api"
	"github.com/llmgate/LLMGateAPI/internal/backend"
	"github.com/llmgate/LLMGateAPI/internal/cancellation"
	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/logging"
	"github.com/llmgate/LLMGateAPI/internal/watcher"
	"github.com/llmgate/LLMGateAPI/internal/workflow"
)

// StartService loads the active user's catalog, assembles the workflow
// engine and API server, starts watching the configuration for changes,
// and blocks until a shutdown signal arrives. configPath is the server
// config file, watched for live log-level changes; it may be empty.
func StartService(cfg *config.Config, configPath string) {
	cat, err := config.LoadCatalog(cfg)
	if err != nil {
		log.Fatalf("failed to load user catalog: %v", err)
	}
	log.Infof("loaded catalog for user %q: %d endpoints, %d workflows",
		cfg.User, len(cat.Endpoints), len(cat.Workflows))

	instanceID := uuid.NewString()
	locks, err := workflow.OpenLockStore(cfg.LockDBPath, instanceID)
	if err != nil {
		log.Fatalf("failed to open lock database %s: %v", cfg.LockDBPath, err)
	}
	defer func() {
		_ = locks.Close()
	}()
	if cleared, errStale := locks.ClearStale(); errStale != nil {
		log.Errorf("failed to clear stale workflow locks: %v", errStale)
	} else if cleared > 0 {
		log.Infof("cleared %d stale workflow locks from a previous run", cleared)
	}

	sender := backend.NewSender(cfg, cancellation.Default)
	reqlog := logging.NewRequestLogger(cfg)
	engine := workflow.NewEngine(cat, sender, locks, reqlog)

	apiServer := api.NewServer(cfg, engine, cat.UserCfg)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	w, err := watcher.NewWatcher(cfg, configPath, engine.ReloadCatalog)
	if err != nil {
		log.Errorf("failed to create configuration watcher, hot reload disabled: %v", err)
	} else {
		if err = w.Start(watchCtx); err != nil {
			log.Errorf("failed to start configuration watcher, hot reload disabled: %v", err)
		}
		defer func() {
			_ = w.Stop()
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- apiServer.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errChan:
		if err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	case sig := <-sigChan:
		log.Infof("received %s, shutting down...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err = apiServer.Stop(ctx); err != nil {
			log.Errorf("error stopping API server: %v", err)
		}
		log.Debug("cleanup completed, exiting")
	}
}
