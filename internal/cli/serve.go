package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/web"
)

const pollerStopTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and the polling scheduler",
	Long: `Start the HTTP server (GitHub webhooks, JSON API, realtime event stream) and,
unless polling is disabled, the background poller that reconciles recent runs
for every active pipeline.

Credentials are held in memory only. Load them with --token, the github.token
config key, GITHUB_TOKEN, or PUT /api/pipelines/{id}/credential.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.Server.Addr = addr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		token, _ := cmd.Flags().GetString("token")
		n, err := a.seedCredentials(ctx, token)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		if n > 0 {
			a.logger.Info("credentials loaded", zap.Int("pipelines", n))
		}

		srv := web.NewServer(a.cfg.Server.Addr, web.Deps{
			Store:       a.db,
			Webhooks:    a.webhooks,
			Syncer:      a.poller,
			Credentials: a.credentials,
			Listeners:   a.broadcaster,
			Logger:      a.logger,
		})

		polling := a.cfg.Polling.PollingEnabled()
		if polling {
			if err := a.poller.Start(); err != nil {
				return err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		if polling {
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), pollerStopTimeout)
				defer cancel()
				return a.poller.Stop(stopCtx)
			})
		} else {
			a.logger.Info("polling disabled")
		}

		err = g.Wait()
		a.credentials.ClearAll()
		a.logger.Info("shutdown complete")
		return err
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("token", "", "GitHub token to use for every active pipeline")
}
