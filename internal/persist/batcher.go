package persist

import (
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/logger"
)

// Batcher accumulates per-session output and flushes it to the store when
// either the flush interval elapses or a session's pending bytes reach the
// size threshold, whichever comes first. Rename, delete, and shutdown force a
// flush before the mutation so no batched output is attributed to the wrong
// identifier or lost. All store errors are logged and swallowed; pending
// bytes are kept for retry on the next flush.
type Batcher struct {
	store    Store
	interval time.Duration
	size     int

	mu      sync.Mutex
	pending map[string][]byte
	// flushMu serializes flushes per session so a size-triggered flush can
	// never race the ticker or a rename/delete flush and reorder chunks
	flushMu map[string]*sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	done     chan struct{}
}

// NewBatcher wraps a store with output batching
func NewBatcher(store Store, interval time.Duration, size int) *Batcher {
	return &Batcher{
		store:    store,
		interval: interval,
		size:     size,
		pending:  make(map[string][]byte),
		flushMu:  make(map[string]*sync.Mutex),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the interval flush loop
func (b *Batcher) Start() {
	b.started = true
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.FlushAll()
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Append queues output for a session. Never blocks on the store: a full
// batch is flushed on a separate goroutine.
func (b *Batcher) Append(id string, chunk []byte) {
	b.mu.Lock()
	b.pending[id] = append(b.pending[id], chunk...)
	full := len(b.pending[id]) >= b.size
	b.mu.Unlock()

	if full {
		go b.flushSession(id)
	}
}

// CreateSession records a new session in the store
func (b *Batcher) CreateSession(rec SessionRecord) {
	go func() {
		if err := b.store.CreateSession(rec); err != nil {
			logger.Warnf("store create failed for session %s: %v", rec.ID, err)
		}
	}()
}

// UpdateStatus records a partial status update, off the hot path
func (b *Batcher) UpdateStatus(id string, upd StatusUpdate) {
	go func() {
		if err := b.store.UpdateSessionStatus(id, upd); err != nil {
			logger.Warnf("store status update failed for session %s: %v", id, err)
		}
	}()
}

// Rename flushes pending output for the old identifier, re-keys whatever the
// flush could not deliver, then renames the session in the store.
func (b *Batcher) Rename(oldID, newID string) {
	b.flushSession(oldID)

	b.mu.Lock()
	if left, ok := b.pending[oldID]; ok {
		b.pending[newID] = append(b.pending[newID], left...)
		delete(b.pending, oldID)
	}
	delete(b.flushMu, oldID)
	b.mu.Unlock()

	if err := b.store.RenameSession(oldID, newID); err != nil {
		logger.Warnf("store rename %s -> %s failed: %v", oldID, newID, err)
	}
}

// Delete flushes pending output and removes the session from the store
func (b *Batcher) Delete(id string) {
	b.flushSession(id)

	b.mu.Lock()
	delete(b.pending, id)
	delete(b.flushMu, id)
	b.mu.Unlock()

	if err := b.store.DeleteSession(id); err != nil {
		logger.Warnf("store delete failed for session %s: %v", id, err)
	}
}

// FlushAll flushes every session with pending output
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.flushSession(id)
	}
}

// MarkOrphanedSessions forwards the startup orphan sweep to the store
func (b *Batcher) MarkOrphanedSessions() {
	if err := b.store.MarkOrphanedSessions(); err != nil {
		logger.Warnf("store orphan sweep failed: %v", err)
	}
}

// Shutdown stops the flush loop, flushes everything, and shuts the store down
func (b *Batcher) Shutdown() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	if b.started {
		<-b.done
	}

	b.FlushAll()
	if err := b.store.Shutdown(); err != nil {
		logger.Warnf("store shutdown failed: %v", err)
	}
}

func (b *Batcher) sessionFlushMu(id string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	mu, ok := b.flushMu[id]
	if !ok {
		mu = &sync.Mutex{}
		b.flushMu[id] = mu
	}
	return mu
}

func (b *Batcher) flushSession(id string) {
	mu := b.sessionFlushMu(id)
	mu.Lock()
	defer mu.Unlock()

	b.mu.Lock()
	chunk := b.pending[id]
	if len(chunk) == 0 {
		b.mu.Unlock()
		return
	}
	delete(b.pending, id)
	b.mu.Unlock()

	if err := b.store.AppendOutput(id, chunk); err != nil {
		logger.Warnf("store append failed for session %s, keeping %d bytes: %v", id, len(chunk), err)
		b.mu.Lock()
		b.pending[id] = append(chunk, b.pending[id]...)
		b.mu.Unlock()
	}
}
