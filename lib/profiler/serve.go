// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/tracecap/lib/binhash"
	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/goroutine"
	"github.com/bureau-foundation/tracecap/lib/netutil"
	"github.com/bureau-foundation/tracecap/lib/protocol"
	"github.com/bureau-foundation/tracecap/lib/srcloc"
)

// maxDrainPasses bounds how many times one drain revisits producers
// that were held back waiting for a lock announcement.
const maxDrainPasses = 4

// queryBacklog is the number of decoded queries buffered between the
// reading goroutine and the session loop.
const queryBacklog = 64

// Serve runs one capture session. It writes the handshake to writer,
// re-announces every lock earlier sessions saw, then drains the queue
// into compressed frames every FlushInterval. Queries read from reader
// are answered through the event stream; reader may be nil when the
// stream has no return channel.
//
// Serve returns after a final drain and flush when ctx is cancelled,
// the Profiler is closed or reader reports end of stream. It returns an
// error only when writing fails. The goroutine reading queries exits
// when reader returns an error, so the caller should close the
// transport after Serve returns.
//
// Only one session may be served at a time.
func (profiler *Profiler) Serve(ctx context.Context, writer io.Writer, reader io.Reader) error {
	if profiler.closed.Load() {
		return ErrClosed
	}
	if !profiler.serveMutex.TryLock() {
		return ErrServing
	}
	defer profiler.serveMutex.Unlock()

	if err := protocol.WriteWelcome(writer, profiler.welcome()); err != nil {
		return err
	}

	session := &session{
		profiler: profiler,
		logger:   profiler.logger,
		encoder:  protocol.NewEncoder(writer),
		handle:   goroutine.Current(),
	}
	if profiler.options.EagerStrings {
		session.sentStrings = make(map[srcloc.Ref]struct{})
		session.sentThreads = make(map[uint64]struct{})
	}
	session.reportedDrops = profiler.queue.Dropped()

	if err := session.replayAnnouncements(); err != nil {
		return err
	}

	queries := make(chan protocol.Query, queryBacklog)
	readFailed := make(chan error, 1)
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	if reader != nil {
		go profiler.readQueries(reader, queries, readFailed, sessionDone)
	}

	ticker := profiler.clock.NewTicker(profiler.options.FlushInterval)
	defer ticker.Stop()

	profiler.logger.Info("capture session started",
		"flush_interval", profiler.options.FlushInterval,
		"eager_strings", profiler.options.EagerStrings,
		"announced_locks", len(profiler.announced),
	)

	for {
		select {
		case <-ctx.Done():
			return session.finish("context cancelled")
		case <-profiler.done:
			return session.finish("profiler closed")
		case query := <-queries:
			session.answer(query)
		case err := <-readFailed:
			if !netutil.IsExpectedCloseError(err) {
				profiler.logger.Warn("reading collector queries failed", "error", err)
			}
			return session.finish("collector disconnected")
		case <-ticker.C:
			if err := session.flush(); err != nil {
				return err
			}
		}
	}
}

func (profiler *Profiler) welcome() protocol.Welcome {
	welcome := protocol.Welcome{
		ProtocolVersion:       protocol.ProtocolVersion,
		Program:               filepath.Base(os.Args[0]),
		PID:                   os.Getpid(),
		StartUnixNano:         profiler.started.UnixNano(),
		TickPeriodNanoseconds: profiler.ticks.Period().Nanoseconds(),
		TargetFrameSize:       protocol.TargetFrameSize,
		Codec:                 protocol.CodecLZ4,
		Build:                 profiler.options.Build,
	}
	if digest, err := binhash.Executable(); err == nil {
		welcome.ProgramDigest = binhash.FormatDigest(digest)
	} else {
		profiler.logger.Debug("program digest unavailable", "error", err)
	}
	return welcome
}

// readQueries decodes queries until reader fails. Unknown opcodes are
// skipped.
func (profiler *Profiler) readQueries(reader io.Reader, queries chan<- protocol.Query, failed chan<- error, done <-chan struct{}) {
	for {
		query, err := protocol.ReadQuery(reader)
		if errors.Is(err, protocol.ErrUnknownOpcode) {
			profiler.logger.Debug("ignoring collector query", "error", err)
			continue
		}
		if err != nil {
			failed <- err
			return
		}
		select {
		case queries <- query:
		case <-done:
			return
		}
	}
}

// session is the consumer-side state of one Serve call.
type session struct {
	profiler *Profiler
	logger   *slog.Logger
	encoder  *protocol.Encoder

	// handle identifies the serving goroutine, whose producer carries
	// query answers.
	handle goroutine.Handle

	// sentStrings and sentThreads record what EagerStrings already
	// wrote this session. Nil when EagerStrings is off.
	sentStrings map[srcloc.Ref]struct{}
	sentThreads map[uint64]struct{}

	reportedDrops uint64
}

// replayAnnouncements writes an Announce for every lock consumed by an
// earlier session, in LockId order.
func (session *session) replayAnnouncements() error {
	announced := session.profiler.announced
	ids := make([]uint64, 0, len(announced))
	for id := range announced {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		item := event.Item{Type: event.TypeLockAnnounce, ID: id, Location: announced[id]}
		if err := session.write(&item); err != nil {
			return err
		}
	}
	return nil
}

// answer enqueues the response to query. Unknown references are
// answered with empty fields so the collector stops waiting.
func (session *session) answer(query protocol.Query) {
	profiler := session.profiler
	var item event.Item
	switch query.Opcode {
	case protocol.ResolveString:
		text, _ := profiler.table.String(srcloc.Ref(query.Operand))
		item = event.Item{Type: event.TypeStringData, ID: query.Operand, Text: text}
	case protocol.ResolveThreadName:
		name := profiler.names.Lookup(goroutine.Handle(query.Operand))
		item = event.Item{Type: event.TypeThreadName, Thread: query.Operand, Text: name}
	case protocol.ResolveSourceLocation:
		item = sourceLocationItem(profiler.table, srcloc.Ref(query.Operand))
	default:
		return
	}
	profiler.publishAlways(session.handle, item)
}

func sourceLocationItem(table *srcloc.Table, ref srcloc.Ref) event.Item {
	item := event.Item{Type: event.TypeSourceLocationData, ID: uint64(ref)}
	if location, ok := table.Location(ref); ok {
		item.Name = uint64(location.Name)
		item.Function = uint64(location.Function)
		item.File = uint64(location.File)
		item.Line = location.Line
		item.Color = location.Color
	}
	return item
}

// flush drains the queue and writes out any partial frame.
func (session *session) flush() error {
	if err := session.drain(); err != nil {
		return err
	}
	return session.encoder.Flush()
}

// finish performs the final drain of a session and logs its totals.
func (session *session) finish(reason string) error {
	err := session.flush()
	stats := session.encoder.Stats()
	session.logger.Info("capture session ended",
		"reason", reason,
		"frames", stats.Frames,
		"uncompressed_bytes", stats.UncompressedSize,
		"compressed_bytes", stats.CompressedSize,
		"dropped", session.profiler.queue.Dropped(),
	)
	return err
}

// drain consumes every published event. A producer whose next event
// references a lock not yet announced is held back; the announcement is
// on another producer, so later passes retry it once the others have
// been drained. LockIds at or above the counter were not issued by it
// (address-tagged TryLock events) and are never held.
//
// A goroutine can own more than one producer after Detach or
// retirement. Producers are listed in registration order, so once one
// of a goroutine's producers is held its later ones are skipped for the
// rest of the pass.
//
// After draining, empty producers give back their blocks, producers
// idle for idleSweepsBeforeRetire drains are retired, and closed empty
// ones are forgotten.
func (session *session) drain() error {
	profiler := session.profiler
	var writeErr error
	var heldOwners map[uint64]struct{}
	for range maxDrainPasses {
		issued := profiler.lockCounter.Load()
		consumed := 0
		held := false
		clear(heldOwners)
		for _, producer := range profiler.queue.Producers() {
			if _, skip := heldOwners[producer.Owner()]; skip {
				if producer.Pending() > 0 {
					held = true
				}
				continue
			}
			gated := false
			consumed += producer.Drain(func(item *event.Item) bool {
				if item.Type.IsLockEvent() && item.ID < issued {
					if _, ok := profiler.announced[item.ID]; !ok {
						gated = true
						return false
					}
				}
				if writeErr = session.write(item); writeErr != nil {
					return false
				}
				if item.Type == event.TypeLockAnnounce {
					profiler.announced[item.ID] = item.Location
				}
				return true
			})
			if writeErr != nil {
				return writeErr
			}
			if gated {
				held = true
				if heldOwners == nil {
					heldOwners = make(map[uint64]struct{})
				}
				heldOwners[producer.Owner()] = struct{}{}
			}
		}
		if !held || consumed == 0 {
			break
		}
	}

	profiler.queue.Sweep(idleSweepsBeforeRetire)
	profiler.producers.deleteProducers(profiler.queue.Prune())
	session.reportDrops()
	return nil
}

// write serializes item, preceded by the resolution records
// EagerStrings calls for.
func (session *session) write(item *event.Item) error {
	if session.sentStrings != nil {
		if err := session.writeResolutions(item); err != nil {
			return err
		}
	}
	if err := session.encoder.Append(item); err != nil {
		return fmt.Errorf("encoding %s event: %w", item.Type, err)
	}
	return nil
}

func (session *session) writeResolutions(item *event.Item) error {
	switch item.Type {
	case event.TypeLockAnnounce, event.TypeLockMark:
		if err := session.writeLocation(srcloc.Ref(item.Location)); err != nil {
			return err
		}
	}
	switch item.Type {
	case event.TypeLockWait, event.TypeLockObtain, event.TypeLockRelease,
		event.TypeLockMark, event.TypeMessage:
		if _, sent := session.sentThreads[item.Thread]; sent {
			return nil
		}
		name := session.profiler.names.Lookup(goroutine.Handle(item.Thread))
		response := event.Item{Type: event.TypeThreadName, Thread: item.Thread, Text: name}
		if err := session.encoder.Append(&response); err != nil {
			return err
		}
		session.sentThreads[item.Thread] = struct{}{}
	}
	return nil
}

func (session *session) writeLocation(ref srcloc.Ref) error {
	if ref == 0 {
		return nil
	}
	if _, sent := session.sentStrings[ref]; sent {
		return nil
	}
	response := sourceLocationItem(session.profiler.table, ref)
	for _, text := range []srcloc.Ref{srcloc.Ref(response.Name), srcloc.Ref(response.Function), srcloc.Ref(response.File)} {
		if err := session.writeString(text); err != nil {
			return err
		}
	}
	if err := session.encoder.Append(&response); err != nil {
		return err
	}
	session.sentStrings[ref] = struct{}{}
	return nil
}

func (session *session) writeString(ref srcloc.Ref) error {
	if ref == 0 {
		return nil
	}
	if _, sent := session.sentStrings[ref]; sent {
		return nil
	}
	text, _ := session.profiler.table.String(ref)
	response := event.Item{Type: event.TypeStringData, ID: uint64(ref), Text: text}
	if err := session.encoder.Append(&response); err != nil {
		return err
	}
	session.sentStrings[ref] = struct{}{}
	return nil
}

// reportDrops logs drops that happened since the last report.
func (session *session) reportDrops() {
	total := session.profiler.queue.Dropped()
	if total <= session.reportedDrops {
		return
	}
	session.logger.Warn("capture queue dropped events",
		"dropped", total-session.reportedDrops,
		"total", total,
		"producers", len(session.profiler.queue.Producers()),
	)
	session.reportedDrops = total
}
