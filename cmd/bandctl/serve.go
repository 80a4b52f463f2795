package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bandctl/internal/httpapi"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pulse, battery and info over HTTP",
	Long: `Keeps a session open and serves the latest readings over HTTP:

  GET /pulse    {"token":"pulse","value":72}
  GET /battery  {"level":80,"charging":false}
  GET /info     device info

The listen address and allowed CORS origins come from the http section of
the config; --addr overrides the address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "Connecting to", func(ctx context.Context, env *commandEnv) error {
			addr := env.cfg.HTTP.Addr
			if serveAddr != "" {
				addr = serveAddr
			}
			server := httpapi.NewServer(env.session, httpapi.Options{
				AllowedOrigins: env.cfg.HTTP.AllowedOrigins,
				RequestTimeout: env.cfg.Session.RequestTimeout * 2,
			}, env.logger)

			printField(cmd.OutOrStdout(), "Listening", addr)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(addr)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return keepAlive(gctx, env)
			})

			err := g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

// keepAlive re-establishes the link after it drops, so the background pulse
// stream resumes without waiting for an HTTP request.
func keepAlive(ctx context.Context, env *commandEnv) error {
	ticker := time.NewTicker(env.cfg.Session.ReconnectBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := env.session.EnsureConnected(ctx); err != nil && ctx.Err() == nil {
				env.logger.WithFields(logrus.Fields{"error": err}).Warn("Keep-alive reconnect failed")
			}
		}
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides http.addr)")
}
