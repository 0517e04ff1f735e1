package resilience

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/stackmesh/browserpool/pkg/errors"
)

// Bulkhead limits the number of concurrent operations in one named
// partition so that one workload cannot starve another. Each name owns
// its own permit budget.
type Bulkhead struct {
	name     string
	capacity int64
	sem      *semaphore.Weighted

	mu        sync.Mutex
	active    int
	maxActive int
	rejected  int64
}

// NewBulkhead creates a bulkhead with the given permit capacity.
func NewBulkhead(name string, maxConcurrent int) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}

	return &Bulkhead{
		name:     name,
		capacity: int64(maxConcurrent),
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Name returns the bulkhead's partition name.
func (b *Bulkhead) Name() string {
	return b.name
}

// Acquire takes one permit, suspending the caller until one is free or
// the context is done.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
	return nil
}

// TryAcquire takes one permit without suspending; it fails fast with a
// bulkhead-full error when none is free.
func (b *Bulkhead) TryAcquire() error {
	if !b.sem.TryAcquire(1) {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return errors.NewBulkheadFullError(b.name)
	}

	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
	return nil
}

// Release returns one permit.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	b.sem.Release(1)
}

// Execute runs the operation holding one permit. The permit is released
// on every exit path, including panic and context cancellation.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// BulkheadStats contains bulkhead counters.
type BulkheadStats struct {
	Name          string `json:"name"`
	Active        int    `json:"active"`
	MaxActive     int    `json:"max_active"`
	MaxConcurrent int    `json:"max_concurrent"`
	Rejected      int64  `json:"rejected"`
}

// Stats returns current bulkhead counters.
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadStats{
		Name:          b.name,
		Active:        b.active,
		MaxActive:     b.maxActive,
		MaxConcurrent: int(b.capacity),
		Rejected:      b.rejected,
	}
}

// BulkheadRegistry owns one bulkhead per name, created lazily with a
// shared default capacity. Capacity is partitioned per name, not
// shared process-wide.
type BulkheadRegistry struct {
	mu              sync.RWMutex
	bulkheads       map[string]*Bulkhead
	defaultCapacity int
}

// NewBulkheadRegistry creates a registry with the given per-name capacity.
func NewBulkheadRegistry(defaultCapacity int) *BulkheadRegistry {
	if defaultCapacity <= 0 {
		defaultCapacity = 100
	}

	return &BulkheadRegistry{
		bulkheads:       make(map[string]*Bulkhead),
		defaultCapacity: defaultCapacity,
	}
}

// Get returns the bulkhead for the given name, creating it on first use.
func (r *BulkheadRegistry) Get(name string) *Bulkhead {
	r.mu.RLock()
	b, ok := r.bulkheads[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bulkheads[name]; ok {
		return b
	}

	b = NewBulkhead(name, r.defaultCapacity)
	r.bulkheads[name] = b
	return b
}

// Stats returns counters for every registered bulkhead.
func (r *BulkheadRegistry) Stats() map[string]BulkheadStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]BulkheadStats, len(r.bulkheads))
	for name, b := range r.bulkheads {
		stats[name] = b.Stats()
	}
	return stats
}
