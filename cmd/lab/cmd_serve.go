package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chemlab/internal/api"
	"chemlab/internal/experiment"
	"chemlab/internal/logging"
	"chemlab/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the progress persistence endpoint",
	Long: `Serves POST/GET /progress, GET /progress/{experimentID}, GET /experiments,
GET /experiments/{id} and GET /health over HTTP, backed by the local store.

With experiments.watch enabled, definition files are reloaded when they change.`,
	RunE: serve,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := loggers.Get(logging.CategoryAPI)

	cat, err := loadCatalog(ctx)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.Store.Driver, cfg.Store.Path, loggers.Get(logging.CategoryStore))
	if err != nil {
		return fmt.Errorf("failed to open progress store: %w", err)
	}
	defer s.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewRouter(s, cat, api.Options{
			Token:   cfg.Progress.Token,
			Timeout: cfg.GetWriteTimeout(),
			Logger:  log,
		}),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	if cfg.Experiments.Watch && cfg.Experiments.Dir != "" {
		w, err := experiment.NewWatcher(cat, cfg.Experiments.Dir, cfg.GetReloadDebounce(), loggers.Get(logging.CategoryCatalog))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", addr), zap.Int("experiments", cat.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
