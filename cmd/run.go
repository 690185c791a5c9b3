package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sage3/foresight/cli"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/internal/daemon/engine"
	"github.com/sage3/foresight/internal/daemon/pidfile"
	"github.com/sage3/foresight/internal/daemon/server"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/daemon"
	"github.com/sage3/foresight/pkg/paths"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the `run` command, which runs the daemon in the foreground.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the foresight daemon in the foreground",
		Long: `Connects to the SAGE3 server, mirrors its apps, and proxies code cell
executions to the kernel gateway until interrupted.

SIGINT or SIGTERM starts a bounded shutdown. If background work does not
stop within daemon.shutdown_timeout_seconds the command exits with status 1.

Examples:
  # Use ./foresight.yml or the nearest one above it
  foresight run

  # Explicit config with debug logging
  foresight run -c /etc/foresight/foresight.yml -v`,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := cli.LoadConfig(cli.GetOptions(cmd))
	if err != nil {
		return err
	}
	if err := logging.Init(cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid logging section")
	}
	logger := logging.NewLogger("foresight")

	if err := paths.EnsureDirs(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create state directories")
	}
	pidPath := paths.PidFilePath()
	sockPath := paths.SocketPath()

	if err := pidfile.Acquire(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Errorf("Failed to release pidfile: %v", err)
		}
	}()

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(logger)
	srv.SetEngine(eng)
	srv.SetRunningConfig(runningConfig(cfg, cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfgPath != "" {
		watcher, err := daemon.NewConfigWatcher(cfgPath, 250*time.Millisecond, nil)
		if err != nil {
			logger.WithError(err).Warn("Config file will not be watched")
		} else {
			go watcher.Start(ctx)
		}
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(sockPath) }()

	engErr := make(chan error, 1)
	go func() { engErr <- eng.Run(ctx) }()

	logger.WithField("pid", os.Getpid()).Info("Starting daemon")

	var runErr error
	select {
	case err := <-srvErr:
		if err != nil {
			logger.WithError(err).Error("Status API failed; stopping")
		}
		stop()
		runErr = <-engErr
		if runErr == nil {
			runErr = err
		}
	case runErr = <-engErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}
	_ = os.Remove(sockPath)

	if runErr != nil {
		logger.WithError(runErr).Error("Daemon stopped with error")
		return runErr
	}
	logger.Info("Daemon stopped")
	return nil
}

func runningConfig(cfg *config.Config, path string) *server.RunningConfig {
	return &server.RunningConfig{
		ServerURL:       cfg.Server.URL,
		SocketURL:       cfg.Server.SocketURL,
		KernelURL:       cfg.Kernel.URL,
		RedisAddr:       cfg.Redis.Addr,
		ResultsChannel:  cfg.Redis.ResultsChannel,
		KernelTimeout:   cfg.KernelTimeout(),
		PollInterval:    cfg.PollInterval(),
		HealthInterval:  cfg.HealthInterval(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
		DedupPolicy:     cfg.Daemon.DedupPolicy,
		Rooms:           cfg.Rooms,
		ConfigFile:      path,
		StartedAt:       time.Now(),
	}
}
