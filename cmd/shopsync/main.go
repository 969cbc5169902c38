// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mobiletoly/go-shopsync/shopsync"
)

var rootCmd = &cobra.Command{
	Use:   "shopsync",
	Short: "Offline-sync and stock reconciliation server",
	Long: `shopsync processes offline records queued by disconnected point-of-sale
devices and keeps the server-side inventory projection consistent. It retries
transient failures with backoff, tracks per-session outcomes, and can
reconcile projected stock against the sale ledger.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHOPSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (or SHOPSYNC_DATABASE_URL)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("database-url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(sessionCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	var workers int
	var pollInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync HTTP server and worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			jwtSecret := viper.GetString("jwt-secret")
			if jwtSecret == "" {
				jwtSecret = os.Getenv("SHOPSYNC_JWT_SECRET")
			}
			if jwtSecret == "" {
				return fmt.Errorf("SHOPSYNC_JWT_SECRET is required for bearer auth")
			}
			return withStore(cmd.Context(), logger, func(ctx context.Context, store shopsync.Store) error {
				registry := shopsync.NewProcessorRegistry()
				if err := shopsync.RegisterDefaultProcessors(registry, store, logger); err != nil {
					return err
				}
				hooks := shopsync.NewHookDispatcher(nil, logger)
				metrics := shopsync.NewMetricsHook(nil, logger)
				hooks.Register(metrics)

				scheduler, err := shopsync.NewScheduler(store, registry, hooks, shopsync.DefaultSchedulerConfig(), logger)
				if err != nil {
					return err
				}
				engine := shopsync.NewReconcileEngine(store, shopsync.ReconcileConfig{}, logger)
				auth := shopsync.NewJWTAuth(jwtSecret)
				handlers := shopsync.NewHTTPSyncHandlers(scheduler, engine, auth, logger)

				mux := http.NewServeMux()
				mux.Handle("POST /sync/submit", auth.Middleware(http.HandlerFunc(handlers.HandleSubmit)))
				mux.Handle("POST /sync/enqueue", auth.Middleware(http.HandlerFunc(handlers.HandleEnqueue)))
				mux.Handle("GET /sync/session/{id}", auth.Middleware(http.HandlerFunc(handlers.HandleSessionSummary)))
				mux.Handle("POST /admin/reconcile", auth.Middleware(http.HandlerFunc(handlers.HandleReconcile)))

				pool := shopsync.NewWorkerPool(scheduler, workers, pollInterval, logger)
				go func() {
					if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("Worker pool stopped", "error", err)
					}
				}()

				srv := &http.Server{Addr: addr, Handler: mux}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info("Serving sync API", "addr", addr, "workers", workers)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				completed, failed := metrics.Totals()
				logger.Info("Server stopped", "records_completed", completed, "records_failed", failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of processing workers")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "due record poll interval")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var productID int64
	var initialStock, locationID int64
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile projected stock against the sale ledger",
		Long: `Recomputes the correct on-hand quantity for each product from the sale
ledger and overwrites the inventory projection where it drifted. With
--product only that product is reconciled; otherwise every product with
sales history at the default location.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			return withStore(cmd.Context(), logger, func(ctx context.Context, store shopsync.Store) error {
				cfg := shopsync.ReconcileConfig{InitialStock: initialStock, DefaultLocationID: locationID}
				engine := shopsync.NewReconcileEngine(store, cfg, logger)
				if !viper.GetBool("json") {
					engine.Progress = func(line string) { fmt.Println(line) }
				}

				var reports []shopsync.CorrectionReport
				if cmd.Flags().Changed("product") {
					report, err := engine.ReconcileProduct(ctx, productID)
					if err != nil {
						return err
					}
					reports = []shopsync.CorrectionReport{*report}
				} else {
					var err error
					reports, err = engine.ReconcileAll(ctx)
					if err != nil {
						return err
					}
				}
				return printReports(reports)
			})
		},
	}
	cmd.Flags().Int64Var(&productID, "product", 0, "reconcile a single product id")
	cmd.Flags().Int64Var(&initialStock, "initial-stock", shopsync.DefaultInitialStock, "baseline on-hand quantity per product")
	cmd.Flags().Int64Var(&locationID, "location", shopsync.DefaultReconcileLocation, "location id to reconcile")
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session <id>",
		Short: "Show sync session outcome counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("session id must be a UUID: %w", err)
			}
			logger := newLogger()
			return withStore(cmd.Context(), logger, func(ctx context.Context, store shopsync.Store) error {
				registry := shopsync.NewProcessorRegistry()
				scheduler, err := shopsync.NewScheduler(store, registry, nil, shopsync.DefaultSchedulerConfig(), logger)
				if err != nil {
					return err
				}
				summary, err := scheduler.SessionSummary(ctx, sessionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Session", "Succeeded", "Failed", "Total"})
				tw.AppendRow(table.Row{summary.SessionID, summary.RecordsSucceeded, summary.RecordsFailed, summary.Total})
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- helpers ---

func withStore(ctx context.Context, logger *slog.Logger, fn func(context.Context, shopsync.Store) error) error {
	databaseURL := viper.GetString("database-url")
	if databaseURL == "" {
		return fmt.Errorf("database URL not specified; use --database-url or SHOPSYNC_DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	store, err := shopsync.NewPgStore(ctx, pool, logger)
	if err != nil {
		return err
	}
	return fn(ctx, store)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func printReports(reports []shopsync.CorrectionReport) error {
	if viper.GetBool("json") {
		return printJSON(reports)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Product", "Location", "Sold", "Recorded", "Correct", "Corrected"})
	for _, r := range reports {
		tw.AppendRow(table.Row{
			strconv.FormatInt(r.ProductID, 10),
			strconv.FormatInt(r.LocationID, 10),
			r.TotalSold,
			r.RecordedQuantity,
			r.CorrectQuantity,
			r.Corrected,
		})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
