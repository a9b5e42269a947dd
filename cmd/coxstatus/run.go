package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/metrics"
	"github.com/goodtune/coxstatus/internal/poller"
	"github.com/goodtune/coxstatus/internal/systemd"
	"github.com/goodtune/coxstatus/internal/usage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the portal and publish usage until stopped",
	Long: `Run the poll loop: log in when needed, fetch usage every poll interval,
and publish the records to the configured sinks. SIGHUP drops the current
login session so the next cycle logs in again.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stdout)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("account", cfg.Portal.Username).
		Msg("Starting coxstatus")

	// Get systemd socket-activated listeners if available
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Using systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info().
		Str("driver", cfg.Session.Driver).
		Bool("restored", !a.session.Empty()).
		Msg("Login session initialized")

	sinks, closeSinks := openSinks(ctx, cfg, logger)
	defer closeSinks()

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	p := poller.New(
		a.fetcher,
		usage.NewNormalizer(usage.RealClock{}, logger),
		sinks,
		a.session,
		poller.Options{
			Period:        cfg.Portal.UsagePeriod,
			Interval:      config.ParseDuration(cfg.Poll.Interval, time.Hour),
			RetryInterval: config.ParseDuration(cfg.Poll.RetryInterval, 5*time.Minute),
		},
		logger,
	)
	if systemd.IsSystemdService() {
		p.SetHeartbeat(func(records int, cycleErr error) {
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Debug().Err(err).Msg("Failed to send systemd watchdog notification")
			}
			if err := systemd.NotifyStatus(cycleStatus(records, cycleErr, time.Now())); err != nil {
				logger.Debug().Err(err).Msg("Failed to send systemd status notification")
			}
		})
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or session reset)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					logger.Info().Msg("SIGHUP received, dropping login session")
					a.session.Clear()
					continue
				}
				logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, stopping after the current cycle")
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	p.Run(ctx)

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("coxstatus stopped")
	return nil
}

// cycleStatus is the systemd STATUS line describing the last poll cycle.
func cycleStatus(records int, err error, at time.Time) string {
	if err != nil {
		return fmt.Sprintf("Last poll failed at %s (%s): %v", at.Format(time.RFC3339), errs.KindOf(err), err)
	}
	return fmt.Sprintf("Last poll published %d records at %s", records, at.Format(time.RFC3339))
}
