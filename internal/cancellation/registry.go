// Package cancellation tracks cooperative cancellation flags for requests
// running in this process.
package cancellation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is both how often the sweep runs and the age at
// which entries are evicted.
const DefaultSweepInterval = 15 * time.Minute

type entry struct {
	cancelled   bool
	finalizing  bool
	lastTouched time.Time
}

// Registry is a process-local table of cancellation flags. An id that is
// unknown is never reported as cancelled.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewRegistry(log *zap.Logger, interval time.Duration) *Registry {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Registry{
		entries:  make(map[string]*entry),
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Register creates a fresh uncancelled entry
func (r *Registry) Register(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[requestID] = &entry{lastTouched: r.now()}
}

// IsCancelled reports the flag for requestID
func (r *Registry) IsCancelled(requestID string) bool {
	r.mu.Lock()
	e, ok := r.entries[requestID]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("cancellation check for unknown request", zap.String("request_id", requestID))
		return false
	}
	return e.cancelled
}

// Cancel sets the flag and reports whether it was accepted. Unknown ids
// and runs already finalizing refuse it.
func (r *Registry) Cancel(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[requestID]
	if !ok || e.finalizing {
		return false
	}
	e.cancelled = true
	e.lastTouched = r.now()
	return true
}

// Finalize marks requestID as past its last checkpoint, after which Cancel
// refuses. It reports false when a cancel was accepted first.
func (r *Registry) Finalize(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[requestID]
	if !ok {
		e = &entry{}
		r.entries[requestID] = e
	}
	if e.cancelled {
		return false
	}
	e.finalizing = true
	e.lastTouched = r.now()
	return true
}

// Finalizing reports whether requestID is past its last checkpoint
func (r *Registry) Finalizing(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[requestID]
	return ok && e.finalizing
}

// Known reports whether requestID has an entry
func (r *Registry) Known(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[requestID]
	return ok
}

// Cleanup removes the entry for requestID
func (r *Registry) Cleanup(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, requestID)
}

// Len returns the number of tracked requests
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts entries not touched within the sweep interval
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.interval)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, e := range r.entries {
		if e.lastTouched.Before(cutoff) {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted
}

// Run sweeps on every interval until ctx is done
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Info("evicted stale cancellation entries", zap.Int("count", n))
			}
		}
	}
}
