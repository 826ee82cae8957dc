// Package stream provides a debounced, filterable live query over the
// record store.
//
// A Stream holds a single filter string and keeps a current result set
// for it. Filter changes are debounced: every SetFilter restarts one
// shared timer, and only the value in place when the timer elapses
// triggers a store query (last-write-wins on rapid typing). A store
// change notification re-queries immediately with the current filter,
// bypassing the debounce - the data changed, not the filter.
//
// Queries are raced against supersession, not serialized: starting a new
// query bumps a generation counter and cancels the context of the
// in-flight one, and a completed query delivers only if its generation
// is still current. Stale results are discarded, never delivered out of
// order. Each delivery carries the filter that produced it.
//
// With no subscribers the stream suspends querying entirely; changes
// arriving meanwhile mark it dirty, and the next Subscribe replays the
// current result immediately and re-queries once.
package stream

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Sashemishi/userdir/internal/record"
)

// Querier is the store surface the stream needs: cheaply re-issuable
// reads plus commit notifications. *store.Store satisfies it.
type Querier interface {
	// QuerySubstring returns records matching text; blank text means
	// all records.
	QuerySubstring(ctx context.Context, text string) ([]record.Record, error)

	// Subscribe registers a commit listener and returns its signal
	// channel plus an unsubscribe func.
	Subscribe() (<-chan struct{}, func())
}

// Config holds configuration for the stream.
type Config struct {
	// DebounceInterval is how long the filter must stay unchanged
	// before a query runs. Store-change re-queries ignore it.
	DebounceInterval time.Duration

	// Logger for stream activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[stream] ", log.LstdFlags),
	}
}

// Result is one delivered snapshot together with the filter that
// produced it.
type Result struct {
	Filter  string
	Records []record.Record
}

// Stream is a live view over the record store for one filter input.
type Stream struct {
	store  Querier
	config *Config

	mu          sync.Mutex
	filter      string
	gen         uint64
	timer       *time.Timer
	queryCancel context.CancelFunc
	subs        map[int]chan Result
	nextSub     int
	current     Result
	delivered   bool
	dirty       bool
	running     bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	changes <-chan struct{}
	unsub   func()
}

// New creates a Stream over the given store.
// The stream must be started with Start before it delivers results.
func New(st Querier, config *Config) *Stream {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	return &Stream{
		store:  st,
		config: config,
		subs:   make(map[int]chan Result),
	}
}

// Start subscribes to store changes and issues the initial query for the
// current filter, so the first subscriber sees currently-stored data
// immediately - before any remote refresh completes.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("stream already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.changes, s.unsub = s.store.Subscribe()
	s.running = true

	s.wg.Add(1)
	go s.watchChanges()

	s.startQueryLocked()
	return nil
}

// Stop releases the debounce timer, the store subscription, and any
// in-flight query, then closes all subscriber channels. It blocks until
// background work has exited.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.queryCancel != nil {
		s.queryCancel()
		s.queryCancel = nil
	}
	s.cancel()
	s.unsub()

	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// SetFilter sets the filter text. Fire-and-forget: the updated result
// set arrives on subscriber channels once the input quiesces for the
// debounce interval. Blank text means no filtering.
func (s *Stream) SetFilter(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filter = text

	if !s.running {
		return
	}
	if len(s.subs) == 0 {
		s.dirty = true
		return
	}

	// Single active timer: each filter event replaces the pending one.
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.config.DebounceInterval, s.debounceElapsed)
}

// Filter returns the current filter text.
func (s *Stream) Filter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Subscribe registers an observer and returns its result channel plus a
// cancel func.
//
// The current result, if any, is replayed immediately. The channel has
// capacity one with latest-wins semantics: a slow observer only ever
// misses intermediate snapshots, never the newest. Cancel must be called
// exactly once; it closes the channel.
func (s *Stream) Subscribe() (<-chan Result, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++

	ch := make(chan Result, 1)
	s.subs[id] = ch

	if s.delivered {
		ch <- s.current
	}
	if s.running && (s.dirty || !s.delivered) {
		s.startQueryLocked()
	}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}

// watchChanges re-queries whenever the store commits an upsert.
func (s *Stream) watchChanges() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case _, ok := <-s.changes:
			if !ok {
				return
			}

			s.mu.Lock()
			if !s.running {
				s.mu.Unlock()
				return
			}
			if len(s.subs) == 0 {
				s.dirty = true
				s.mu.Unlock()
				continue
			}
			s.startQueryLocked()
			s.mu.Unlock()
		}
	}
}

// debounceElapsed fires when the filter has quiesced.
func (s *Stream) debounceElapsed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timer = nil
	if !s.running || len(s.subs) == 0 {
		return
	}
	s.startQueryLocked()
}

// startQueryLocked launches a query for the current filter, superseding
// any query still in flight. Caller must hold s.mu.
func (s *Stream) startQueryLocked() {
	s.gen++
	gen := s.gen
	filter := s.filter

	if s.queryCancel != nil {
		s.queryCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.queryCancel = cancel

	s.wg.Add(1)
	go s.runQuery(ctx, gen, filter)
}

// runQuery executes the store read and delivers the result if it is
// still the most recently started query.
func (s *Stream) runQuery(ctx context.Context, gen uint64, filter string) {
	defer s.wg.Done()

	records, err := s.store.QuerySubstring(ctx, filter)
	if err != nil {
		if ctx.Err() == nil {
			s.config.Logger.Printf("Query failed for filter %q: %v", filter, err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Superseded while in flight; drop the result.
	if gen != s.gen || !s.running {
		return
	}

	s.current = Result{Filter: filter, Records: records}
	s.delivered = true
	s.dirty = false

	for _, ch := range s.subs {
		sendLatest(ch, s.current)
	}
}

// sendLatest delivers onto a capacity-one channel, displacing a pending
// undelivered snapshot. All sends are serialized under s.mu, so the
// drain cannot race another sender.
func sendLatest(ch chan Result, res Result) {
	for {
		select {
		case ch <- res:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
