package cursor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Flusher periodically saves the current cursor while the firehose
// connection is open. The relay starts it on connect and stops it on
// disconnect; save failures are logged but never fatal, so a crash can
// lose up to one interval of progress. The relay's idempotent mutation
// semantics absorb the resulting re-delivery.
type Flusher struct {
	store    *Store
	interval time.Duration
	current  atomic.Int64

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFlusher creates a Flusher writing to store every interval. The
// initial cursor value seeds the in-memory position.
func NewFlusher(store *Store, interval time.Duration, initial int64) *Flusher {
	f := &Flusher{store: store, interval: interval}
	f.current.Store(initial)
	return f
}

// Set records the latest processed cursor. Safe to call concurrently
// with the flush loop.
func (f *Flusher) Set(v int64) {
	f.current.Store(v)
}

// Cursor returns the latest recorded cursor.
func (f *Flusher) Cursor() int64 {
	return f.current.Load()
}

// Start launches the periodic flush loop. Calling Start while already
// running is a no-op.
func (f *Flusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return
	}

	stop := make(chan struct{})
	f.stop = stop
	f.wg.Add(1)

	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.flush()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the flush loop and writes the cursor one final time so a
// clean disconnect loses nothing.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if f.stop == nil {
		f.mu.Unlock()
		return
	}
	close(f.stop)
	f.stop = nil
	f.mu.Unlock()

	f.wg.Wait()
	f.flush()
}

func (f *Flusher) flush() {
	v := f.current.Load()
	if v == 0 {
		return
	}
	if err := f.store.Save(v); err != nil {
		log.Printf("Warning: cursor save failed: %v", err)
	}
}
