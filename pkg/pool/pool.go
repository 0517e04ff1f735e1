package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackmesh/browserpool/pkg/config"
	"github.com/stackmesh/browserpool/pkg/errors"
	"github.com/stackmesh/browserpool/pkg/logging"
	"github.com/stackmesh/browserpool/pkg/resilience"
)

// MetricsRecorder receives pool lifecycle events. Implemented by
// pkg/metrics; a nil recorder disables instrumentation.
type MetricsRecorder interface {
	RecordAcquire(wait time.Duration, outcome string)
	RecordRelease(outcome string)
	RecordEviction(reason string)
}

// waiter is one caller suspended until a connection frees up.
// Fulfillment is a buffered channel so the releaser never blocks.
type waiter struct {
	id         string
	enqueuedAt time.Time
	settle     chan waiterResult
}

type waiterResult struct {
	conn *PoolConnection
	err  error
}

// ConnectionPool owns a set of transport connections, the idle/in-use
// partition, a FIFO waiter queue and a background health-check loop.
// The connection map and waiter queue are guarded by one mutex; breaker
// and bulkhead state live elsewhere so independent structures never
// contend.
type ConnectionPool struct {
	factory ConnectionFactory
	logger  *logging.Logger
	metrics MetricsRecorder
	retrier *resilience.Retrier

	mu             sync.Mutex
	cfg            config.PoolConfig
	conns          map[string]*PoolConnection
	waiters        []*waiter
	pendingCreates int
	closed         bool

	stopOnce   sync.Once
	stopHealth chan struct{}
	healthDone chan struct{}

	// cumulative counters, guarded by mu
	totalAcquired  uint64
	totalReleased  uint64
	totalEvicted   uint64
	totalCreated   uint64
	totalWaitTime  time.Duration
	totalWaitCount uint64
}

// Option configures optional pool collaborators.
type Option func(*ConnectionPool)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *ConnectionPool) { p.metrics = m }
}

// WithLogger overrides the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *ConnectionPool) { p.logger = l }
}

// New creates a connection pool, pre-fills it to the configured
// minimum and starts the background health-check loop. A configuration
// with min above max is rejected, not clamped.
func New(cfg config.PoolConfig, factory ConnectionFactory, opts ...Option) (*ConnectionPool, error) {
	if cfg.MinConnections > cfg.MaxConnections {
		return nil, errors.NewInvalidPoolSizeError(cfg.MinConnections, cfg.MaxConnections)
	}
	if cfg.MaxConnections <= 0 {
		return nil, errors.NewInvalidPoolSizeError(cfg.MinConnections, cfg.MaxConnections)
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = time.Minute
	}
	if cfg.MaxSessionsPerConnection <= 0 {
		cfg.MaxSessionsPerConnection = 50
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryAttempts
	}
	retryCfg.InitialDelay = 50 * time.Millisecond
	retryCfg.RetryableTypes = []errors.ErrorType{
		errors.ErrorTypeConnectionCreation,
		errors.ErrorTypePoolExhausted,
	}

	p := &ConnectionPool{
		factory:    factory,
		logger:     logging.GetLogger(),
		retrier:    resilience.NewRetrier(retryCfg),
		cfg:        cfg,
		conns:      make(map[string]*PoolConnection),
		stopHealth: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ensureMinConnections(context.Background())
	go p.healthLoop()

	p.logger.LogPoolEvent("pool_started", "", map[string]interface{}{
		"min_connections": cfg.MinConnections,
		"max_connections": cfg.MaxConnections,
	})

	return p, nil
}

// AcquireConnection returns a healthy connection, creating one if the
// pool has headroom or suspending in FIFO order until one frees up.
// Transient creation failures and waiter timeouts are absorbed by the
// pool's own retry budget before surfacing.
func (p *ConnectionPool) AcquireConnection(ctx context.Context) (*PoolConnection, error) {
	var conn *PoolConnection
	err := p.retrier.Execute(ctx, func(ctx context.Context) error {
		var attemptErr error
		conn, attemptErr = p.acquireOnce(ctx)
		return attemptErr
	})
	if err != nil {
		// Surface the caller-visible kind, not the retry wrapper.
		if appErr, ok := err.(*errors.AppError); ok && appErr.Type == errors.ErrorTypeRetryExhausted && appErr.Cause != nil {
			err = appErr.Cause
		}
		if p.metrics != nil {
			p.metrics.RecordAcquire(0, "failure")
		}
		return nil, err
	}
	return conn, nil
}

// acquireOnce performs one acquisition attempt: idle reuse, growth, or
// FIFO wait.
func (p *ConnectionPool) acquireOnce(ctx context.Context) (*PoolConnection, error) {
	started := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.NewPoolShutdownError()
	}

	// 1) idle healthy connection
	if conn := p.lockedFindIdle(); conn != nil {
		p.lockedLease(conn)
		p.mu.Unlock()
		p.recordAcquire(started, "reused")
		return conn, nil
	}

	// 2) grow the pool
	if len(p.conns)+p.pendingCreates < p.cfg.MaxConnections {
		p.pendingCreates++
		p.mu.Unlock()

		conn, err := p.createConnection(ctx)

		p.mu.Lock()
		p.pendingCreates--
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if p.closed {
			p.mu.Unlock()
			p.factory.Dispose(conn.handle)
			return nil, errors.NewPoolShutdownError()
		}
		p.conns[conn.id] = conn
		p.lockedLease(conn)
		p.mu.Unlock()

		p.recordAcquire(started, "created")
		return conn, nil
	}

	// 3) pool is saturated, wait in line
	w := &waiter{
		id:         uuid.New().String(),
		enqueuedAt: time.Now(),
		settle:     make(chan waiterResult, 1),
	}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	select {
	case res := <-w.settle:
		if res.err != nil {
			return nil, res.err
		}
		p.recordAcquire(started, "handoff")
		return res.conn, nil
	case <-timer.C:
		return p.abandonWait(w, started, errors.NewPoolExhaustedError("no connection became available within the connection timeout"))
	case <-ctx.Done():
		return p.abandonWait(w, started, ctx.Err())
	}
}

// abandonWait removes a timed-out waiter from the queue so it cannot
// leak. If a hand-off already raced the timeout, the delivered
// connection wins and the caller gets it instead of the error.
func (p *ConnectionPool) abandonWait(w *waiter, started time.Time, failure error) (*PoolConnection, error) {
	p.mu.Lock()
	for i, queued := range p.waiters {
		if queued.id == w.id {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return nil, failure
		}
	}
	p.mu.Unlock()

	// no longer queued: a releaser has settled (or is settling) us
	res := <-w.settle
	if res.err != nil {
		return nil, res.err
	}
	p.recordAcquire(started, "handoff")
	return res.conn, nil
}

// ReleaseConnection returns a connection to the pool. An untracked id
// is a caller error. A connection that fails its health re-check is
// evicted and the pool refilled; a healthy one is handed to the oldest
// waiter before ever going idle.
func (p *ConnectionPool) ReleaseConnection(id string) error {
	p.mu.Lock()
	conn, ok := p.conns[id]
	if !ok {
		p.mu.Unlock()
		return errors.NewUnknownConnectionError(id)
	}

	p.totalReleased++

	if p.closed {
		delete(p.conns, id)
		handle := conn.handle
		p.mu.Unlock()
		p.factory.Dispose(handle)
		return nil
	}

	if !p.lockedStillHealthy(conn) {
		delete(p.conns, id)
		p.totalEvicted++
		handle := conn.handle
		p.mu.Unlock()

		p.factory.Dispose(handle)
		p.recordRelease("evicted")
		p.recordEviction("unhealthy_on_release")
		p.logger.LogPoolEvent("connection_evicted", id, map[string]interface{}{"reason": "unhealthy_on_release"})

		p.ensureMinConnections(context.Background())
		return nil
	}

	// fairness rule: oldest waiter gets the connection before it idles
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.lockedLease(conn)
		wait := time.Since(w.enqueuedAt)
		p.totalWaitTime += wait
		p.totalWaitCount++
		w.settle <- waiterResult{conn: conn}
		p.mu.Unlock()
		p.recordRelease("handoff")
		return nil
	}

	// shrunk pool: surplus connections are retired as they come back
	// instead of going idle, so occupancy converges on the new maximum
	if len(p.conns) > p.cfg.MaxConnections {
		delete(p.conns, id)
		p.totalEvicted++
		handle := conn.handle
		p.mu.Unlock()

		p.factory.Dispose(handle)
		p.recordRelease("evicted")
		p.recordEviction("over_capacity")
		p.logger.LogPoolEvent("connection_evicted", id, map[string]interface{}{"reason": "over_capacity"})
		return nil
	}

	conn.inUse = false
	conn.lastUsedAt = time.Now()
	p.mu.Unlock()
	p.recordRelease("idle")
	return nil
}

// HealthCheck verifies every connection once: idle failures are
// evicted immediately, in-use failures are only marked so release
// evicts them, and the pool is topped back up to its minimum.
func (p *ConnectionPool) HealthCheck() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	type evicted struct {
		id     string
		handle Connection
	}
	var toDispose []evicted

	now := time.Now()
	for id, conn := range p.conns {
		healthy := p.factory.IsAlive(conn.handle) &&
			conn.sessionCount < p.cfg.MaxSessionsPerConnection &&
			(conn.inUse || p.cfg.MaxIdleTime <= 0 || now.Sub(conn.lastUsedAt) <= p.cfg.MaxIdleTime)

		if healthy {
			continue
		}

		if conn.inUse {
			// never preempt a caller; evict on release instead
			conn.healthy = false
			continue
		}

		delete(p.conns, id)
		p.totalEvicted++
		toDispose = append(toDispose, evicted{id: id, handle: conn.handle})
	}
	p.mu.Unlock()

	for _, e := range toDispose {
		p.factory.Dispose(e.handle)
		p.recordEviction("health_check")
		p.logger.LogPoolEvent("connection_evicted", e.id, map[string]interface{}{"reason": "health_check"})
	}

	p.ensureMinConnections(context.Background())
}

// Cleanup disposes every connection, fails all queued waiters and
// stops the health-check loop. Safe to call more than once and
// concurrently with in-flight acquires and releases.
func (p *ConnectionPool) Cleanup() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for _, w := range p.waiters {
		w.settle <- waiterResult{err: errors.NewPoolShutdownError()}
	}
	p.waiters = nil

	handles := make([]Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		handles = append(handles, conn.handle)
	}
	p.conns = make(map[string]*PoolConnection)
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopHealth) })
	<-p.healthDone

	for _, h := range handles {
		p.factory.Dispose(h)
	}

	p.logger.LogPoolEvent("pool_stopped", "", nil)
}

// Resize changes the pool bounds. A min above max is rejected and the
// pool left untouched. Shrinking evicts idle connections only; in-use
// connections age out on release.
func (p *ConnectionPool) Resize(min, max int) error {
	if min > max || max <= 0 {
		return errors.NewInvalidPoolSizeError(min, max)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.NewPoolShutdownError()
	}
	p.cfg.MinConnections = min
	p.cfg.MaxConnections = max

	var surplus []Connection
	for id, conn := range p.conns {
		if len(p.conns) <= max {
			break
		}
		if !conn.inUse {
			delete(p.conns, id)
			p.totalEvicted++
			surplus = append(surplus, conn.handle)
		}
	}
	p.mu.Unlock()

	for _, h := range surplus {
		p.factory.Dispose(h)
		p.recordEviction("resize")
	}

	p.ensureMinConnections(context.Background())

	p.logger.LogPoolEvent("pool_resized", "", map[string]interface{}{"min": min, "max": max})
	return nil
}

// ensureMinConnections tops the pool up to its configured minimum.
// Individual creation failures are logged, never surfaced to callers.
func (p *ConnectionPool) ensureMinConnections(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.closed || len(p.conns)+p.pendingCreates >= p.cfg.MinConnections {
			p.mu.Unlock()
			return
		}
		p.pendingCreates++
		p.mu.Unlock()

		conn, err := p.createConnection(ctx)

		p.mu.Lock()
		p.pendingCreates--
		if err != nil {
			p.mu.Unlock()
			p.logger.Warn("Failed to create minimum connection",
				"error", err.Error(),
			)
			return
		}
		if p.closed {
			p.mu.Unlock()
			p.factory.Dispose(conn.handle)
			return
		}
		p.conns[conn.id] = conn
		p.mu.Unlock()
	}
}

// createConnection calls the factory bounded by the connection timeout.
func (p *ConnectionPool) createConnection(ctx context.Context) (*PoolConnection, error) {
	createCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	handle, err := p.factory.Create(createCtx)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeConnectionCreation) {
			return nil, err
		}
		return nil, errors.NewConnectionCreationError("connection factory failed").WithCause(err)
	}

	now := time.Now()
	conn := &PoolConnection{
		id:         uuid.New().String(),
		handle:     handle,
		createdAt:  now,
		lastUsedAt: now,
		healthy:    true,
	}

	p.mu.Lock()
	p.totalCreated++
	p.mu.Unlock()

	p.logger.LogPoolEvent("connection_created", conn.id, nil)
	return conn, nil
}

// healthLoop runs HealthCheck on the configured interval until Cleanup.
func (p *ConnectionPool) healthLoop() {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.HealthCheck()
		case <-p.stopHealth:
			return
		}
	}
}

// lockedFindIdle returns an idle healthy connection or nil. Caller
// holds the mutex.
func (p *ConnectionPool) lockedFindIdle() *PoolConnection {
	for _, conn := range p.conns {
		if !conn.inUse && conn.healthy && conn.sessionCount < p.cfg.MaxSessionsPerConnection {
			return conn
		}
	}
	return nil
}

// lockedLease marks a connection as leased out. Caller holds the mutex.
func (p *ConnectionPool) lockedLease(conn *PoolConnection) {
	conn.inUse = true
	conn.lastUsedAt = time.Now()
	conn.sessionCount++
	p.totalAcquired++
}

// lockedStillHealthy re-checks a connection at release time. Caller
// holds the mutex.
func (p *ConnectionPool) lockedStillHealthy(conn *PoolConnection) bool {
	if !conn.healthy {
		return false
	}
	if !p.factory.IsAlive(conn.handle) {
		return false
	}
	if conn.sessionCount >= p.cfg.MaxSessionsPerConnection {
		return false
	}
	return true
}

func (p *ConnectionPool) recordAcquire(started time.Time, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordAcquire(time.Since(started), outcome)
	}
}

func (p *ConnectionPool) recordRelease(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordRelease(outcome)
	}
}

func (p *ConnectionPool) recordEviction(reason string) {
	if p.metrics != nil {
		p.metrics.RecordEviction(reason)
	}
}
