// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tracecap/lib/clock"
	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/goroutine"
	"github.com/bureau-foundation/tracecap/lib/queue"
	"github.com/bureau-foundation/tracecap/lib/srcloc"
	"github.com/bureau-foundation/tracecap/lib/ticks"
)

// DefaultFlushInterval is how often Serve drains the queue when
// Options.FlushInterval is zero.
const DefaultFlushInterval = 10 * time.Millisecond

// idleSweepsBeforeRetire is the number of consecutive drains a
// goroutine's producer may stay empty before it is retired and its
// table entry dropped. The goroutine registers again if it emits later.
const idleSweepsBeforeRetire = 50

var (
	// ErrClosed is returned by Serve after Close.
	ErrClosed = errors.New("profiler: closed")

	// ErrServing is returned by Serve while another session is active.
	ErrServing = errors.New("profiler: a session is already being served")
)

// Options configures a Profiler. The zero value is usable.
type Options struct {
	// Queue sizes the per-goroutine event buffers. Queue.Capacity
	// bounds unconsumed events per goroutine; zero means unbounded.
	Queue queue.Options

	// Ticks timestamps events. Nil selects ticks.Real().
	Ticks ticks.Source

	// Clock drives Serve's flush ticker and stamps the handshake. Nil
	// selects clock.Real().
	Clock clock.Clock

	// Logger receives session diagnostics. Nil selects slog.Default().
	// Nothing on the event path logs.
	Logger *slog.Logger

	// FlushInterval is the period between drains while serving.
	FlushInterval time.Duration

	// TryLockAddressIdentity tags the Obtain event of a successful
	// TryLock with the address of the wrapped lock instead of its
	// LockId. Collectors written against that convention need it;
	// everything else should leave it off.
	TryLockAddressIdentity bool

	// EagerStrings makes Serve write the text behind every source
	// location and goroutine the first time a session references it,
	// so a stream with no query channel (a recording) is
	// self-describing.
	EagerStrings bool

	// Build is reported to the collector in the handshake.
	Build string
}

// Profiler is the capture registry. All methods are safe for
// concurrent use.
type Profiler struct {
	options Options
	logger  *slog.Logger
	ticks   ticks.Source
	clock   clock.Clock
	started time.Time

	lockCounter atomic.Uint64
	queue       *queue.Queue[event.Item]
	table       *srcloc.Table
	names       *goroutine.Names

	// producers maps each emitting goroutine to its queue producer.
	// Only the goroutine itself stores its entry; the serving
	// goroutine deletes entries of retired producers.
	producers producerTable

	// sites caches Here registrations by program counter.
	sites sync.Map

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	// serveMutex is held for the duration of a Serve call. It guards
	// announced, which persists across sessions so a reconnecting
	// collector can be sent every lock it has not seen.
	serveMutex sync.Mutex
	announced  map[uint64]uint64
}

// New returns a Profiler with its own LockId counter, queue and tables.
func New(options Options) *Profiler {
	if options.Ticks == nil {
		options.Ticks = ticks.Real()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.FlushInterval <= 0 {
		options.FlushInterval = DefaultFlushInterval
	}
	return &Profiler{
		options:   options,
		logger:    options.Logger,
		ticks:     options.Ticks,
		clock:     options.Clock,
		started:   options.Clock.Now(),
		queue:     queue.New[event.Item](options.Queue),
		table:     srcloc.NewTable(),
		names:     goroutine.NewNames(),
		done:      make(chan struct{}),
		announced: make(map[uint64]uint64),
	}
}

var defaultProfiler = sync.OnceValue(func() *Profiler { return New(Options{}) })

// Default returns the process-wide Profiler, creating it with default
// options on first use.
func Default() *Profiler { return defaultProfiler() }

// producerFor returns the queue producer of the goroutine identified by
// handle, registering one on first use. Must be called from that
// goroutine.
func (profiler *Profiler) producerFor(handle goroutine.Handle) *queue.Producer[event.Item] {
	if producer, ok := profiler.producers.load(handle); ok {
		return producer
	}
	producer := profiler.queue.Register(uint64(handle))
	profiler.producers.store(handle, producer)
	return producer
}

// replaceProducer registers a new producer for handle after the serving
// goroutine retired the previous one.
func (profiler *Profiler) replaceProducer(handle goroutine.Handle) *queue.Producer[event.Item] {
	producer := profiler.queue.Register(uint64(handle))
	profiler.producers.store(handle, producer)
	return producer
}

// emit publishes item from the goroutine identified by handle, which
// must be the calling goroutine. The item is stamped with the handle
// and, when timed, the current tick and core. Dropped events are
// counted by the queue.
func (profiler *Profiler) emit(handle goroutine.Handle, item event.Item, timed bool) {
	if profiler.closed.Load() {
		return
	}
	producer := profiler.producerFor(handle)
	slot, sequence, ok := producer.Reserve()
	if !ok {
		if !producer.Closed() {
			return
		}
		producer = profiler.replaceProducer(handle)
		if slot, sequence, ok = producer.Reserve(); !ok {
			return
		}
	}
	item.Thread = uint64(handle)
	if timed {
		item.Time, item.Core = profiler.ticks.Now()
	}
	*slot = item
	producer.Publish(sequence)
}

// emitAlways publishes an event that must not be dropped.
func (profiler *Profiler) emitAlways(handle goroutine.Handle, item event.Item) {
	if profiler.closed.Load() {
		return
	}
	profiler.publishAlways(handle, item)
}

// publishAlways enqueues item on handle's producer regardless of
// capacity and of Close. Serve uses it for query answers.
func (profiler *Profiler) publishAlways(handle goroutine.Handle, item event.Item) {
	producer := profiler.producerFor(handle)
	slot, sequence, ok := producer.ReserveAlways()
	if !ok {
		producer = profiler.replaceProducer(handle)
		if slot, sequence, ok = producer.ReserveAlways(); !ok {
			return
		}
	}
	*slot = item
	producer.Publish(sequence)
}

// NewSourceLocation registers a call-site descriptor. Call it once per
// site and keep the result; every call creates a new location.
func (profiler *Profiler) NewSourceLocation(name, function, file string, line, color uint32) *srcloc.SourceLocation {
	return profiler.table.Register(name, function, file, line, color)
}

// Here returns the source location of its caller, registering it the
// first time that call site is reached. name labels the location.
func (profiler *Profiler) Here(name string) *srcloc.SourceLocation {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		return profiler.NewSourceLocation(name, "", "", 0, 0)
	}
	if value, ok := profiler.sites.Load(pc); ok {
		return value.(*srcloc.SourceLocation)
	}
	function := ""
	if details := runtime.FuncForPC(pc); details != nil {
		function = details.Name()
	}
	location := profiler.NewSourceLocation(name, function, file, uint32(line), 0)
	actual, _ := profiler.sites.LoadOrStore(pc, location)
	return actual.(*srcloc.SourceLocation)
}

// Intern registers text and returns the reference a collector resolves
// with a ResolveString query.
func (profiler *Profiler) Intern(text string) srcloc.Ref {
	return profiler.table.Intern(text)
}

// SetThreadName labels the calling goroutine for ResolveThreadName
// queries. An empty name reverts to the default label.
func (profiler *Profiler) SetThreadName(name string) {
	profiler.names.Set(goroutine.Current(), name)
}

// Message records a timestamped text marker from the calling
// goroutine. Text longer than event.MaxTextLength is truncated.
func (profiler *Profiler) Message(text string) {
	profiler.emit(goroutine.Current(), event.Item{Type: event.TypeMessage, Text: event.TruncateText(text)}, true)
}

// Go runs fn on a new goroutine and releases that goroutine's producer
// when fn returns.
func (profiler *Profiler) Go(fn func()) {
	go func() {
		defer profiler.Detach()
		fn()
	}()
}

// Detach releases the calling goroutine's producer. Events it already
// published are still drained. A goroutine that emits again after
// Detach gets a fresh producer; Serve does not consume from it until
// the released one is empty, so the goroutine's events keep their
// order.
//
// Goroutines that never call Detach are reclaimed once their producer
// stays empty for a while. Detach only releases the memory sooner.
func (profiler *Profiler) Detach() {
	if producer, ok := profiler.producers.loadAndDelete(goroutine.Current()); ok {
		profiler.queue.Deregister(producer)
	}
}

// Dropped returns how many events were discarded because a goroutine's
// buffer was full.
func (profiler *Profiler) Dropped() uint64 {
	return profiler.queue.Dropped()
}

// Close stops capture. Events emitted afterwards are discarded. An
// active Serve drains what was already published, flushes and returns.
func (profiler *Profiler) Close() {
	profiler.closeOnce.Do(func() {
		profiler.closed.Store(true)
		close(profiler.done)
	})
}
