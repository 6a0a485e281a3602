package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/tablestore/internal/config"
	"github.com/example/tablestore/internal/jobs"
	"github.com/example/tablestore/internal/logging"
	"github.com/example/tablestore/internal/migration"
	"github.com/example/tablestore/internal/naming"
	"github.com/example/tablestore/internal/persistence/sqlite"
	"github.com/example/tablestore/internal/schema"
)

func main() {
	logger := logging.NewLogger(os.Stdout, slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	pool, err := sqlite.Open(cfg.DataDir, cfg.PrimarySchema)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := sqlite.EnsureMetadataTables(ctx, pool, cfg.PrimarySchema); err != nil {
		logger.Error("failed to prepare metadata tables", "error", err)
		os.Exit(1)
	}

	manager := schema.NewManager(pool, cfg.Actor)
	orchestrator := migration.NewOrchestrator(migration.Config{
		PrimarySchema:   cfg.PrimarySchema,
		AllowedSchemas:  cfg.AllowedSchemas,
		BackupRetention: cfg.BackupRetention,
		Actor:           cfg.Actor,
	}, pool, manager, naming.NewUUIDGenerator(), logger)

	runner := jobs.NewRunner(orchestrator, logger)
	defer runner.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /migrations", submitMigration(runner, logger))
	mux.HandleFunc("GET /migrations/{id}", getMigration(runner, logger))
	mux.HandleFunc("GET /schemas", listSchemas(orchestrator))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("tablestore API listening", "addr", server.Addr, "schemas", cfg.AllowedSchemas)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

type migrationRequestBody struct {
	TableID      int64  `json:"tableId"`
	SourceSchema string `json:"sourceSchema"`
	TargetSchema string `json:"targetSchema"`
}

func submitMigration(runner *jobs.Runner, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body migrationRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.TableID <= 0 || body.TargetSchema == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tableId and targetSchema are required"})
			return
		}

		jobID := runner.Submit(migration.Request{
			TableID:      body.TableID,
			SourceSchema: body.SourceSchema,
			TargetSchema: body.TargetSchema,
		})

		logger.Info("migration submitted", "job_id", jobID, "table_id", body.TableID)
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
	}
}

func getMigration(runner *jobs.Runner, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := runner.Get(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}

		response := map[string]interface{}{
			"jobId": job.ID,
			"state": job.State,
		}
		if job.State == jobs.StateSucceeded || job.State == jobs.StateFailed {
			response["result"] = map[string]interface{}{
				"status":          job.Result.Status,
				"message":         job.Result.Message,
				"tableId":         job.Result.TableID,
				"shadowTableName": job.Result.ShadowTableName,
				"targetSchema":    job.Result.TargetSchema,
			}
		}
		if job.Err != "" {
			response["error"] = job.Err
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func listSchemas(orchestrator *migration.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"schemas": orchestrator.AvailableSchemas()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
