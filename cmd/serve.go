package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/datapost/internal/config"
	"github.com/nextlevelbuilder/datapost/internal/executor"
	"github.com/nextlevelbuilder/datapost/internal/fetch"
	"github.com/nextlevelbuilder/datapost/internal/http"
	"github.com/nextlevelbuilder/datapost/internal/mail"
	"github.com/nextlevelbuilder/datapost/internal/sandbox"
	"github.com/nextlevelbuilder/datapost/internal/scheduler"
	"github.com/nextlevelbuilder/datapost/internal/store"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := cfg.SetupLogging(); err != nil {
		return err
	}

	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}

	mailer := mail.New(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		UseTLS:   cfg.SMTPUseTLS,
	})
	fetcher := fetch.New(fetch.WithTimeout(cfg.FetchTimeout))
	exec := executor.New(st, fetcher, sandbox.New(), mailer, cfg.ScriptTimeout)

	sched := scheduler.New(cfg.Workers, cfg.Workers*4, func(ctx context.Context, name string) {
		if err := exec.Run(ctx, name); err != nil {
			slog.Debug("run finished with error", "job", name, "error", err)
		}
	})
	sched.LoadAll(st)
	sched.Start()

	mux := nethttp.NewServeMux()
	handler := http.NewJobsHandler(st, sched, exec, cfg.UploadDir)
	handler.RegisterRoutes(mux)

	server := &nethttp.Server{
		Addr:    cfg.HTTPAddr,
		Handler: http.RequestLogger(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		sched.Stop(shutdownTimeout)
		return nil
	})

	slog.Info("scheduled jobs service started", "jobs", len(st.List()), "workers", cfg.Workers)
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("service stopped")
	return nil
}
