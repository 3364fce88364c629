package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrwatch/internal/devicefactory"
	"github.com/srg/hrwatch/internal/emitter"
	"github.com/srg/hrwatch/internal/monitor"
	"github.com/srg/hrwatch/pkg/config"
)

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, cmd.OutOrStdout(), logger)
}

// loadConfig reads the config file and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("hci") {
		cfg.HCIDevice, _ = flags.GetInt("hci")
	}
	if flags.Changed("format") {
		cfg.Output.Format, _ = flags.GetString("format")
	}
	if flags.Changed("csv") {
		cfg.Output.CSVPath, _ = flags.GetString("csv")
	}
	if flags.Changed("dedupe") {
		cfg.Dedupe, _ = flags.GetBool("dedupe")
	}
	if flags.Changed("timeout") {
		cfg.ConnectTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("allow") {
		cfg.Filter.Allow, _ = flags.GetStringSlice("allow")
	}
	if flags.Changed("block") {
		cfg.Filter.Block, _ = flags.GetStringSlice("block")
	}

	return cfg, nil
}

// run wires the backend, emitter and monitor and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, out io.Writer, logger *logrus.Logger) error {
	format, err := emitter.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	var emitOpts []emitter.Option
	if cfg.Output.CSVPath != "" {
		csvLog, err := emitter.OpenCSVLog(cfg.Output.CSVPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := csvLog.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close CSV log")
			}
		}()
		logger.WithField("path", csvLog.Path()).Info("Logging readings to CSV")
		emitOpts = append(emitOpts, emitter.WithCSVLog(csvLog))
	}

	backend, err := devicefactory.NewBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize BLE backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.WithError(err).Debug("Failed to close BLE backend")
		}
	}()

	e := emitter.New(out, format, logger, emitOpts...)
	m := monitor.New(backend, backend, e, logger, &monitor.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		AllowList:      cfg.Filter.Allow,
		BlockList:      cfg.Filter.Block,
		Dedupe:         cfg.Dedupe,
		Buffer:         cfg.Output.Buffer,
	})

	return m.Run(ctx)
}
