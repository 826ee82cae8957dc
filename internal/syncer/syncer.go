// Package syncer reconciles the remote record set into the local store.
//
// The syncer is offline-tolerant by design: a failed fetch or a failed
// batch write is logged and recorded, but never propagated to the
// caller. The read path keeps serving whatever is currently committed.
// Malformed remote entries are skipped individually; the rest of the
// fetch is still applied.
package syncer

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Sashemishi/userdir/internal/record"
	"github.com/Sashemishi/userdir/internal/remote"
	"github.com/Sashemishi/userdir/internal/store"
)

// Refresher triggers a one-shot reconciliation of remote state into the
// local store.
type Refresher interface {
	// Refresh fetches from the remote source, validates and maps each
	// entry, and upserts the batch into the store.
	//
	// Refresh never fails its caller. On any error - network, format,
	// or storage - the store is left with its last-known-good content,
	// the failure is logged, and LastError reports it until the next
	// successful refresh.
	//
	// Each invocation is independent; given the same remote payload the
	// store ends up with the same content.
	Refresh(ctx context.Context)
}

// Syncer implements Refresher against a store and a remote source.
type Syncer struct {
	store  *store.Store
	source remote.Source
	logger *log.Logger

	mu       sync.Mutex
	lastSync time.Time
	synced   bool
	lastErr  error
}

// New creates a Syncer.
//
// The store must be opened and have its schema initialized. If logger is
// nil, a default logger writing to stderr is used.
func New(st *store.Store, source remote.Source, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Syncer{
		store:  st,
		source: source,
		logger: logger,
	}
}

// Refresh implements Refresher.
func (s *Syncer) Refresh(ctx context.Context) {
	remoteRecords, err := s.source.FetchAll(ctx)
	if err != nil {
		s.logger.Printf("Refresh skipped, keeping local data: %v", err)
		s.setError(err)
		return
	}

	records, skipped := mapRecords(remoteRecords, s.logger)

	if err := s.store.UpsertAll(ctx, records); err != nil {
		s.logger.Printf("Refresh failed to commit, store unchanged: %v", err)
		s.setError(err)
		return
	}

	s.setSynced()
	s.logger.Printf("Refresh complete: %d records upserted, %d skipped", len(records), skipped)
}

// LastSync returns when the last successful refresh committed, and
// whether one has happened at all. Consumers can use it to surface
// staleness age.
func (s *Syncer) LastSync() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.synced
}

// LastError returns the failure from the most recent refresh, or nil if
// it succeeded.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Syncer) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Syncer) setSynced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = time.Now()
	s.synced = true
	s.lastErr = nil
}

// mapRecords validates and coerces remote entries, skipping malformed
// ones. Individual failures are logged but don't stop the batch.
func mapRecords(remoteRecords []record.RemoteRecord, logger *log.Logger) ([]record.Record, int) {
	records := make([]record.Record, 0, len(remoteRecords))
	skipped := 0

	for i := range remoteRecords {
		rr := &remoteRecords[i]
		if err := rr.Validate(); err != nil {
			logger.Printf("WARNING: Skipping malformed remote record: %v", err)
			skipped++
			continue
		}
		records = append(records, rr.ToRecord())
	}

	return records, skipped
}
