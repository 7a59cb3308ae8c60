// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tracecap-demo runs an instrumented workload of contended locks and
// streams its capture either to a collector over TCP or to a recording
// file.
//
// Listen mode (default): accepts one collector at a time on the
// configured address. Each connection is a capture session; when the
// collector disconnects the next one may connect and receives every
// lock announced so far before new events.
//
// Record mode (--record): writes a single self-describing session to a
// file, zstd-compressed when the path ends in .zst.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tracecap/lib/clock"
	"github.com/bureau-foundation/tracecap/lib/config"
	"github.com/bureau-foundation/tracecap/lib/logging"
	"github.com/bureau-foundation/tracecap/lib/netutil"
	"github.com/bureau-foundation/tracecap/lib/process"
	"github.com/bureau-foundation/tracecap/lib/profiler"
	"github.com/bureau-foundation/tracecap/lib/queue"
	"github.com/bureau-foundation/tracecap/lib/recording"
	"github.com/bureau-foundation/tracecap/lib/version"
	"github.com/bureau-foundation/tracecap/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		record     string
		workers    int
		locks      int
		duration   time.Duration
		logLevel   string
		logFormat  string
	)

	flagSet := pflag.NewFlagSet("tracecap-demo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to tracecap config file (default: $TRACECAP_CONFIG, else built-in defaults)")
	flagSet.StringVar(&listen, "listen", "", "TCP address collectors connect to (overrides listen.address)")
	flagSet.StringVar(&record, "record", "", "write the capture to this file instead of listening (overrides record.path)")
	flagSet.IntVar(&workers, "workers", 8, "number of workload goroutines")
	flagSet.IntVar(&locks, "locks", 4, "number of shared locks")
	flagSet.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
	flagSet.StringVar(&logFormat, "log-format", "", "auto, text or json (overrides log.format)")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		fmt.Printf("tracecap-demo %s\n", version.Info())
		return nil
	}
	if workers < 1 || locks < 1 {
		return fmt.Errorf("--workers and --locks must be at least 1")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen.Address = listen
	}
	if record != "" {
		cfg.Record.Path = record
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	flushInterval, err := cfg.FlushInterval()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	wallClock := clock.Real()
	capture := profiler.New(profiler.Options{
		Queue: queue.Options{
			BlockSize: cfg.Queue.BlockSize,
			Capacity:  cfg.Queue.Capacity,
		},
		Clock:                  wallClock,
		Logger:                 logger,
		FlushInterval:          flushInterval,
		TryLockAddressIdentity: cfg.Capture.TryLockAddressIdentity,
		// A recording has no query channel.
		EagerStrings: cfg.Capture.EagerStrings || cfg.Record.Path != "",
		Build:        version.Info(),
	})

	workload := newWorkload(capture, wallClock, locks)
	workloadDone := workload.start(ctx, workers)

	logger.Info("tracecap demo running",
		"workers", workers,
		"locks", locks,
		"listen", cfg.Listen.Address,
		"record", cfg.Record.Path,
		"queue_capacity", cfg.Queue.Capacity,
		"flush_interval", flushInterval,
	)

	if cfg.Record.Path != "" {
		err = serveRecording(ctx, capture, cfg.Record.Path)
	} else {
		err = serveCollectors(ctx, capture, cfg.Listen.Address, logger)
	}

	<-workloadDone
	capture.Close()
	logger.Info("tracecap demo stopped",
		"iterations", workload.iterations.Load(),
		"dropped", capture.Dropped(),
	)
	return err
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

// serveRecording runs one session into a recording file until ctx is
// done.
func serveRecording(ctx context.Context, capture *profiler.Profiler, path string) error {
	writer, err := recording.Create(path)
	if err != nil {
		return err
	}
	serveErr := capture.Serve(ctx, writer, nil)
	closeErr := writer.Close()
	return errors.Join(serveErr, closeErr)
}

// serveCollectors accepts collectors one at a time until ctx is done.
// A failed session is logged and the next collector is accepted.
func serveCollectors(ctx context.Context, capture *profiler.Profiler, address string, logger *slog.Logger) error {
	listener, err := transport.NewTCPListener(address)
	if err != nil {
		return err
	}
	defer listener.Close()
	logger.Info("waiting for collector", "address", listener.Address())

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting collector: %w", err)
		}
		remote := conn.RemoteAddr().String()
		logger.Info("collector connected", "remote", remote)
		if err := capture.Serve(ctx, conn, conn); err != nil {
			if netutil.IsExpectedCloseError(err) {
				logger.Debug("collector closed the connection mid-frame", "remote", remote, "error", err)
			} else {
				logger.Warn("capture session failed", "remote", remote, "error", err)
			}
		}
		conn.Close()
		logger.Info("collector disconnected", "remote", remote)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tracecap-demo runs a lock-contention workload under capture.

Usage:
  tracecap-demo [flags]

Examples:
  # Serve collectors on the default address until interrupted
  tracecap-demo

  # Record ten seconds of capture to a compressed file
  tracecap-demo --record /tmp/demo.trace.zst --duration 10s

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
