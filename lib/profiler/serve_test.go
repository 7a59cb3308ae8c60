// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tracecap/lib/clock"
	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/goroutine"
	"github.com/bureau-foundation/tracecap/lib/protocol"
	"github.com/bureau-foundation/tracecap/lib/testutil"
)

const testTimeout = 5 * time.Second

// liveSession is a Serve call connected to the test through pipes, the
// way a collector is connected through a socket.
type liveSession struct {
	decoder *protocol.Decoder
	queries *io.PipeWriter
	output  *io.PipeReader
	cancel  context.CancelFunc
	result  chan error
}

func startSession(t *testing.T, profiler *Profiler) *liveSession {
	t.Helper()
	outputReader, outputWriter := io.Pipe()
	queryReader, queryWriter := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	session := &liveSession{
		queries: queryWriter,
		output:  outputReader,
		cancel:  cancel,
		result:  make(chan error, 1),
	}
	go func() {
		session.result <- profiler.Serve(ctx, outputWriter, queryReader)
	}()
	t.Cleanup(func() {
		cancel()
		outputReader.Close()
		queryWriter.Close()
		testutil.RequireReceive(t, session.result, testTimeout, "session shutdown")
	})

	if _, err := protocol.ReadWelcome(outputReader); err != nil {
		t.Fatalf("ReadWelcome: %v", err)
	}
	session.decoder = protocol.NewDecoder(outputReader)
	return session
}

func (session *liveSession) query(t *testing.T, opcode protocol.Opcode, operand uint64) {
	t.Helper()
	if err := protocol.WriteQuery(session.queries, protocol.Query{Opcode: opcode, Operand: operand}); err != nil {
		t.Fatalf("WriteQuery: %v", err)
	}
}

// next returns the first decoded item of the given type, skipping
// others.
func (session *liveSession) next(t *testing.T, itemType event.Type) event.Item {
	t.Helper()
	items := make(chan event.Item, 1)
	failed := make(chan error, 1)
	go func() {
		for {
			item, err := session.decoder.Next()
			if err != nil {
				failed <- err
				return
			}
			if item.Type == itemType {
				items <- item
				return
			}
		}
	}()
	select {
	case item := <-items:
		return item
	case err := <-failed:
		t.Fatalf("waiting for %s: %v", itemType, err)
	case <-time.After(testTimeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out waiting for %s", itemType)
	}
	panic("unreachable")
}

func TestServeAnswersQueries(t *testing.T) {
	profiler := newTestProfiler(t, Options{FlushInterval: time.Millisecond})
	location := profiler.NewSourceLocation("registry", "pkg.Register", "registry.go", 88, 0x00ff00)
	text := profiler.Intern("hello collector")

	named := make(chan goroutine.Handle, 1)
	go func() {
		profiler.SetThreadName("ingest")
		named <- goroutine.Current()
	}()
	thread := testutil.RequireReceive(t, named, testTimeout, "naming goroutine")

	session := startSession(t, profiler)

	session.query(t, protocol.ResolveString, uint64(text))
	if item := session.next(t, event.TypeStringData); item.ID != uint64(text) || item.Text != "hello collector" {
		t.Fatalf("string answer = %+v", item)
	}

	session.query(t, protocol.ResolveThreadName, uint64(thread))
	if item := session.next(t, event.TypeThreadName); item.Thread != uint64(thread) || item.Text != "ingest" {
		t.Fatalf("thread answer = %+v", item)
	}

	session.query(t, protocol.ResolveSourceLocation, uint64(location.Ref()))
	item := session.next(t, event.TypeSourceLocationData)
	if item.ID != uint64(location.Ref()) || item.Line != 88 || item.Color != 0x00ff00 {
		t.Fatalf("location answer = %+v", item)
	}
	session.query(t, protocol.ResolveString, item.File)
	if file := session.next(t, event.TypeStringData); file.Text != "registry.go" {
		t.Fatalf("file answer = %+v", file)
	}

	// Unknown opcodes are skipped without desynchronizing the stream.
	session.query(t, protocol.Opcode(99), 1)
	session.query(t, protocol.ResolveString, 1<<40)
	if unknown := session.next(t, event.TypeStringData); unknown.ID != 1<<40 || unknown.Text != "" {
		t.Fatalf("unknown ref answer = %+v", unknown)
	}
}

func TestServeStreamsEventsLive(t *testing.T) {
	profiler := newTestProfiler(t, Options{FlushInterval: time.Millisecond})
	session := startSession(t, profiler)

	mutex := NewLockable[sync.Mutex](profiler, nil)
	if announce := session.next(t, event.TypeLockAnnounce); announce.ID != mutex.ID() {
		t.Fatalf("announce = %+v", announce)
	}
	mutex.Lock()
	mutex.Unlock()
	if release := session.next(t, event.TypeLockRelease); release.ID != mutex.ID() {
		t.Fatalf("release = %+v", release)
	}
}

func TestServeRejectsSecondSession(t *testing.T) {
	profiler := newTestProfiler(t, Options{})
	startSession(t, profiler)
	if err := profiler.Serve(context.Background(), io.Discard, nil); !errors.Is(err, ErrServing) {
		t.Fatalf("second Serve = %v, want ErrServing", err)
	}
}

func TestCloseEndsSessionAfterFinalDrain(t *testing.T) {
	profiler := newTestProfiler(t, Options{FlushInterval: time.Hour})
	session := startSession(t, profiler)

	profiler.Message("last words")
	profiler.Close()

	if message := session.next(t, event.TypeMessage); message.Text != "last words" {
		t.Fatalf("message = %+v", message)
	}
	if err := testutil.RequireReceive(t, session.result, testTimeout, "Serve return"); err != nil {
		t.Fatalf("Serve after Close = %v, want nil", err)
	}
	// The cleanup waits on result too.
	session.result <- nil
}

func TestServeReportsWriteFailure(t *testing.T) {
	profiler := newTestProfiler(t, Options{})
	err := profiler.Serve(context.Background(), failingWriter{}, nil)
	if err == nil || !errors.Is(err, errBrokenTransport) {
		t.Fatalf("Serve = %v, want wrapped transport error", err)
	}
}

var errBrokenTransport = errors.New("broken transport")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errBrokenTransport }

func TestFlushIntervalDrivesDrain(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	profiler := newTestProfiler(t, Options{Clock: fake, FlushInterval: time.Second})
	session := startSession(t, profiler)
	fake.WaitForTimers(1)

	profiler.Message("first")
	fake.Advance(time.Second)
	if message := session.next(t, event.TypeMessage); message.Text != "first" {
		t.Fatalf("message = %+v", message)
	}
}
