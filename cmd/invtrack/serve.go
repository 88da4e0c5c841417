package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/invtrack/internal/config"
	"github.com/vbonduro/invtrack/internal/db"
	"github.com/vbonduro/invtrack/internal/identity"
	"github.com/vbonduro/invtrack/internal/identity/dev"
	"github.com/vbonduro/invtrack/internal/identity/google"
	"github.com/vbonduro/invtrack/internal/service"
	"github.com/vbonduro/invtrack/internal/store"
	"github.com/vbonduro/invtrack/internal/viewsync"
	"github.com/vbonduro/invtrack/internal/web"
	"github.com/vbonduro/invtrack/internal/web/templates"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeWithLog(database, "database", logger)

	items := store.NewItemStore(database)
	svc := service.NewInventoryService(items, logger)

	server, err := web.NewServer(viewsync.FromStore(items), svc, newIdentityProvider(cfg, logger), templates.FS, cfg.SessionCapacity, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items.Watch(gctx, cfg.WatchInterval)
		return nil
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.ListenAddr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newIdentityProvider(cfg *config.Config, logger *slog.Logger) identity.Provider {
	switch cfg.AuthProvider {
	case "google":
		logger.Info("using Google sign-in")
		return google.NewGoogleProvider(google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	default:
		logger.Info("using dev sign-in")
		return dev.NewDevProvider("/login/dev")
	}
}
