// ///////////////////////////////////////////////////////////////////////////
//
// # TableHash - Merkle digests for sorted tables
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pgedge/tablehash/internal/backend"
	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/internal/metrics"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/taskstore"
)

type APIServer struct {
	env        *backend.Env
	server     *http.Server
	taskStore  *taskstore.Store
	metrics    *metrics.Recorder
	listenAddr string
	useTLS     bool
	jobCtx     context.Context
	jobCancel  context.CancelFunc
	wg         sync.WaitGroup
}

func New(env *backend.Env, rec *metrics.Recorder) (*APIServer, error) {
	if env == nil || env.Config == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	srvCfg := env.Config.Server
	if srvCfg.ListenAddress == "" {
		srvCfg.ListenAddress = "0.0.0.0"
	}
	if srvCfg.ListenPort == 0 {
		return nil, fmt.Errorf("server.listen_port must be configured")
	}
	if (srvCfg.TLSCertFile == "") != (srvCfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("server TLS certificate and key must be configured together")
	}
	if rec == nil {
		rec = metrics.NewRecorder(nil)
	}

	taskStore, err := taskstore.New(env.Config.TaskStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise task store: %w", err)
	}

	apiServer := &APIServer{
		env:        env,
		taskStore:  taskStore,
		metrics:    rec,
		listenAddr: fmt.Sprintf("%s:%d", srvCfg.ListenAddress, srvCfg.ListenPort),
		useTLS:     srvCfg.TLSCertFile != "",
		jobCtx:     context.Background(),
	}

	apiServer.server = &http.Server{
		Addr:              apiServer.listenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return apiServer, nil
}

// Handler returns the routed API, wrapped in request logging.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/compare", s.handleCompare)
	mux.HandleFunc("/api/v1/root-hash", s.handleRootHash)
	mux.HandleFunc("/api/v1/diff", s.handleDiff)
	mux.HandleFunc("/api/v1/tasks", s.handleTaskList)
	mux.HandleFunc("/api/v1/tasks/", s.handleTaskStatus)
	mux.Handle("/metrics", s.metrics.Handler())
	return loggingMiddleware(mux)
}

func (s *APIServer) Run(ctx context.Context) error {
	if s == nil || s.server == nil {
		return fmt.Errorf("api server is not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.jobCtx = runCtx
	s.jobCancel = cancel
	defer func() {
		cancel()
		s.wg.Wait()
		if s.taskStore != nil {
			if err := s.taskStore.Close(); err != nil {
				logger.Warn("failed to close task store: %v", err)
			}
		}
	}()

	cfg := s.env.Config.Server
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.useTLS {
			logger.Info("API server listening on https://%s", s.listenAddr)
			err = s.server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logger.Info("API server listening on http://%s", s.listenAddr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the task store of a server that was never Run.
func (s *APIServer) Close() error {
	if s.jobCancel != nil {
		s.jobCancel()
	}
	s.wg.Wait()
	if s.taskStore == nil {
		return nil
	}
	err := s.taskStore.Close()
	s.taskStore = nil
	return err
}

func (s *APIServer) enqueueTask(taskID string, run func(context.Context) error) error {
	if s == nil {
		return fmt.Errorf("api server unavailable")
	}
	if s.taskStore == nil {
		return fmt.Errorf("task store unavailable")
	}
	if s.jobCtx == nil {
		return fmt.Errorf("api server is not running")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithCancel(s.jobCtx)
		defer cancel()
		if err := run(ctx); err != nil {
			logger.Error("task %s failed: %v", taskID, err)
		}
	}()
	return nil
}

// newTask returns a task wired to the server's task store and metrics.
func (s *APIServer) newTask(ctx context.Context) *mtree.MerkleTask {
	task := s.env.NewTask()
	task.Ctx = ctx
	task.TaskStore = s.taskStore
	task.Observer = mtree.MultiObserver{mtree.LogObserver{}, s.metrics}
	return task
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mtree.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, mtree.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, mtree.ErrNotFound), errors.Is(err, store.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, mtree.ErrAlgorithmMismatch),
		errors.Is(err, mtree.ErrIncomplete),
		errors.Is(err, mtree.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mtree.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("%s %s completed in %s", r.Method, r.URL.Path, time.Since(start))
	})
}
