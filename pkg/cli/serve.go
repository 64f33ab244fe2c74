package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/humblevault/humblevault/pkg/jobs"
	library "github.com/humblevault/humblevault/pkg/library"
	"github.com/humblevault/humblevault/pkg/library/handler"
	"github.com/humblevault/humblevault/pkg/library/middleware"
	"github.com/humblevault/humblevault/pkg/tools"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(cc *commandContext, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := cc.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			log := logrus.WithField("component", "server")
			if logrus.GetLevel() < logrus.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}

			if _, err := jobs.ScheduleSync(ctx, a.service, jobs.Schedule{
				SyncInterval:      a.cfg.SyncInterval,
				ReconcileInterval: a.cfg.ReconcileInterval,
				SyncOnStart:       a.cfg.SyncOnStart && a.settings.Get().Ready(),
			}); err != nil {
				return err
			}

			auth := middleware.NewAuth(a.cfg.AuthMode, a.settings)
			router := library.NewRouter(version, a.cfg.PublicURL, handler.NewLibraryController(a.service), auth)
			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
				// request contexts end with ctx so event streams let go on shutdown
				BaseContext: func(net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			log.WithFields(logrus.Fields{
				"addr":     a.cfg.ListenAddr,
				"authMode": auth.Mode(),
				"version":  version,
			}).Info("server is running")

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("graceful shutdown failed")
			}
			if err := tools.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("background tasks still running at exit")
			}
			return nil
		},
	}
}
