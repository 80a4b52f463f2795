package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bandctl/internal/device"
	goble "github.com/srg/bandctl/internal/device/go-ble"
	"github.com/srg/bandctl/pkg/config"
	"github.com/srg/bandctl/pkg/miband"
)

// newTransport creates the BLE transport. Tests replace it with a fake band.
var newTransport = func(logger *logrus.Logger) device.Transport {
	return goble.NewBLETransport(logger)
}

// loadConfig resolves configuration with the precedence
// defaults < --config < --creds < --mac/--auth-key.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if creds, _ := cmd.Flags().GetString("creds"); creds != "" {
		mac, key, err := config.LoadCredentials(creds)
		if err != nil {
			return nil, err
		}
		cfg.ApplyCredentials(mac, key)
	}

	mac, _ := cmd.Flags().GetString("mac")
	key, _ := cmd.Flags().GetString("auth-key")
	cfg.ApplyCredentials(mac, key)
	return cfg, nil
}

// commandEnv is what every band command runs with.
type commandEnv struct {
	cfg     *config.Config
	logger  *logrus.Logger
	session *miband.Session
}

// newCommandEnv loads configuration, configures logging and creates a session.
func newCommandEnv(cmd *cobra.Command) (*commandEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	var fileLevel *logrus.Level
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		fileLevel = &cfg.LogLevel
	}
	logger, err := configureLogger(cmd, fileLevel)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		return nil, err
	}

	session, err := miband.NewSession(cfg.Band.MACAddress, cfg.Band.AuthKey, newTransport(logger), opts, logger)
	if err != nil {
		return nil, err
	}
	return &commandEnv{cfg: cfg, logger: logger, session: session}, nil
}

// withSession runs fn with a connected session and a context cancelled by
// SIGINT or SIGTERM. The connection phase is shown on stderr until ready.
func withSession(cmd *cobra.Command, desc string, fn func(ctx context.Context, env *commandEnv) error) error {
	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if err := env.session.Disconnect(); err != nil {
			env.logger.WithField("error", err).Debug("Disconnect failed")
		}
	}()

	if env.session.IsFreezed() {
		return env.session.EnsureConnected(ctx)
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("%s %s", desc, env.session.Address()), "Connecting", phaseReady)
	env.session.OnStateChange(progress.StateObserver())
	progress.Start()

	err = env.session.EnsureConnected(ctx)
	progress.Stop()
	if err != nil {
		if !errorIsAuthOnly(err) {
			return err
		}
		printWarn(cmd.ErrOrStderr(), FormatUserError(err))
	}
	return fn(ctx, env)
}

// errorIsAuthOnly reports an authentication failure, after which commands
// that do not need authentication can still run.
func errorIsAuthOnly(err error) bool {
	return miband.KindOf(err) == miband.KindAuthentication
}
