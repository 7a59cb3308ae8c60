// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tracecap-inspect is a minimal collector. It prints the events of a
// capture stream one per line and finishes with per-lock contention
// totals.
//
// Recording mode (positional argument): reads a file written by
// tracecap-demo --record. Recordings carry their own string
// resolutions.
//
// Live mode (--connect): connects to an instrumented process, resolves
// strings, goroutine names and source locations by query as they are
// first referenced, and runs until the process ends the session, the
// --duration elapses or the command is interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tracecap/lib/codec"
	"github.com/bureau-foundation/tracecap/lib/logging"
	"github.com/bureau-foundation/tracecap/lib/process"
	"github.com/bureau-foundation/tracecap/lib/protocol"
	"github.com/bureau-foundation/tracecap/lib/recording"
	"github.com/bureau-foundation/tracecap/lib/version"
	"github.com/bureau-foundation/tracecap/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	connect  string
	duration time.Duration
	quiet     bool
	handshake bool
	color     string
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("tracecap-inspect", pflag.ContinueOnError)
	flagSet.StringVar(&opts.connect, "connect", "", "address of an instrumented process to collect from")
	flagSet.DurationVar(&opts.duration, "duration", 0, "stop a live collection after this long (0 waits for the process)")
	flagSet.BoolVarP(&opts.quiet, "quiet", "q", false, "print only the summary")
	flagSet.BoolVar(&opts.handshake, "handshake", false, "also print the raw handshake in CBOR diagnostic notation")
	flagSet.StringVar(&opts.color, "color", "auto", "auto, always or never")
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
		fmt.Printf("tracecap-inspect %s\n", version.Info())
		return nil
	}

	var color bool
	switch opts.color {
	case "auto":
		color = logging.IsTerminal(os.Stdout)
	case "always":
		color = true
	case "never":
	default:
		return fmt.Errorf("--color must be auto, always or never")
	}

	args := flagSet.Args()
	switch {
	case opts.connect != "" && len(args) > 0:
		return fmt.Errorf("give either --connect or a recording path, not both")
	case opts.connect != "":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if opts.duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.duration)
			defer cancel()
		}
		return inspectLive(ctx, opts, color)
	case len(args) == 1:
		return inspectRecording(args[0], opts, color)
	default:
		printHelp(flagSet)
		return fmt.Errorf("expected one recording path or --connect")
	}
}

func inspectRecording(path string, opts options, color bool) error {
	reader, err := recording.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()
	return inspect(reader, nil, os.Stdout, opts, color)
}

func inspectLive(ctx context.Context, opts options, color bool) error {
	dialer := &transport.TCPDialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, opts.connect)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", opts.connect, err)
	}
	// Closing the connection unblocks the stream reader when ctx ends
	// first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	err = inspect(conn, conn, os.Stdout, opts, color)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// inspect reads a capture stream to its end, printing events to output.
// queries, when non-nil, is where resolution queries are written.
func inspect(stream io.Reader, queries io.Writer, output io.Writer, opts options, color bool) error {
	payload, err := protocol.ReadHandshake(stream)
	if err != nil {
		return err
	}
	welcome, err := protocol.DecodeWelcome(payload)
	if err != nil {
		return err
	}
	styles := newPalette(output, color)
	fmt.Fprintf(output, "%s pid %d, %s, frames of %d bytes, build %s\n",
		styles.header.Render(welcome.Program), welcome.PID, welcome.Codec, welcome.TargetFrameSize, welcome.Build)
	if welcome.ProgramDigest != "" {
		fmt.Fprintf(output, "%s\n", styles.dim.Render("blake3 "+welcome.ProgramDigest))
	}
	if opts.handshake {
		notation, err := codec.Diagnose(payload)
		if err != nil {
			return fmt.Errorf("diagnosing handshake: %w", err)
		}
		fmt.Fprintf(output, "%s\n", styles.dim.Render(notation))
	}

	collector := newCollector(queries, welcome)
	decoder := protocol.NewDecoder(stream)
	var streamErr error
	for {
		item, err := decoder.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		if err := collector.observe(&item); err != nil {
			streamErr = fmt.Errorf("sending query: %w", err)
			break
		}
		if opts.quiet {
			continue
		}
		if line := renderItem(collector, styles, &item); line != "" {
			fmt.Fprintln(output, line)
		}
	}
	writeSummary(output, collector, styles)
	return streamErr
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tracecap-inspect prints a capture stream.

Usage:
  tracecap-inspect [flags] <recording>
  tracecap-inspect [flags] --connect host:port

Examples:
  # Summarize a recording
  tracecap-inspect --quiet /tmp/demo.trace.zst

  # Watch a running process for ten seconds
  tracecap-inspect --connect 127.0.0.1:8086 --duration 10s

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
