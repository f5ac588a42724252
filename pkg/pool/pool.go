package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/types"
)

// idleFloor is the minimum number of connections Cleanup keeps around,
// bounded by the configured pool size.
const idleFloor = 5

// Conn is one reusable backend connection owned by a pool.
type Conn struct {
	ID         string
	PoolID     string // owning database instance
	CreatedAt  time.Time
	LastUsedAt time.Time
	InUse      bool
	ClientID   string // empty exactly when InUse is false
}

// waiter is a parked Acquire call. The channel is buffered so a release can
// hand a connection over without blocking; a closed channel signals disposal.
type waiter struct {
	clientID string
	ch       chan *Conn
	removed  bool
}

type pool struct {
	cfg     types.PoolConfig
	conns   []*Conn
	waiters []*waiter
}

// Manager maintains bounded per-instance connection pools with FIFO waiter
// queues. All state is guarded by one mutex; a release hands its connection
// directly to the head waiter, so a concurrent Acquire can never steal it.
type Manager struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	pools  map[string]*pool
	logger zerolog.Logger
}

// NewManager creates an empty pool manager.
func NewManager(clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		clock:  clock,
		pools:  make(map[string]*pool),
		logger: log.WithComponent("pool"),
	}
}

// Configure creates an empty pool for the instance. Reconfiguring an existing
// instance tears the old pool down first: pending waiters fail as disposed.
func (m *Manager) Configure(instanceID string, cfg types.PoolConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.pools[instanceID]; ok {
		disposeWaiters(old)
	}
	m.pools[instanceID] = &pool{cfg: cfg}
	m.logger.Debug().Str("instance_id", instanceID).Int("pool_size", cfg.DefaultPoolSize).Msg("pool configured")
}

// Acquire returns an idle connection, creates one below the size cap, or
// parks the caller FIFO until a release hands one over or the timeout
// elapses. Fails with NotFound (unconfigured), LimitExceeded (timeout or
// waiter queue full) or CompareFailed (pool disposed while waiting).
func (m *Manager) Acquire(ctx context.Context, instanceID, clientID string, timeout time.Duration) (*Conn, error) {
	m.mu.Lock()
	p, ok := m.pools[instanceID]
	if !ok {
		m.mu.Unlock()
		return nil, trace.NotFound("no pool configured for instance %q", instanceID)
	}

	// Fast path: reuse an idle connection.
	for _, c := range p.conns {
		if !c.InUse {
			m.checkout(c, clientID)
			m.mu.Unlock()
			return c, nil
		}
	}

	// Grow below the cap.
	if len(p.conns) < p.cfg.DefaultPoolSize {
		now := m.clock.Now()
		c := &Conn{
			ID:         uuid.New().String(),
			PoolID:     instanceID,
			CreatedAt:  now,
			LastUsedAt: now,
			InUse:      true,
			ClientID:   clientID,
		}
		p.conns = append(p.conns, c)
		m.mu.Unlock()
		return c, nil
	}

	if p.cfg.MaxClientConns > 0 && len(p.waiters) >= p.cfg.MaxClientConns {
		m.mu.Unlock()
		return nil, trace.LimitExceeded("pool for instance %q is at capacity with a full waiter queue", instanceID)
	}

	// Park FIFO until a release hands us a connection.
	w := &waiter{clientID: clientID, ch: make(chan *Conn, 1)}
	p.waiters = append(p.waiters, w)
	m.mu.Unlock()

	timer := m.clock.After(timeout)
	select {
	case c, ok := <-w.ch:
		if !ok {
			return nil, trace.CompareFailed("pool for instance %q was disposed", instanceID)
		}
		return c, nil
	case <-timer:
		return m.expireWaiter(instanceID, w)
	case <-ctx.Done():
		m.abandonWaiter(instanceID, w)
		return nil, trace.Wrap(ctx.Err())
	}
}

// expireWaiter removes a timed-out waiter from the queue. If a release won
// the race and already handed over a connection, the handoff stands.
func (m *Manager) expireWaiter(instanceID string, w *waiter) (*Conn, error) {
	m.mu.Lock()
	select {
	case c, ok := <-w.ch:
		m.mu.Unlock()
		if !ok {
			return nil, trace.CompareFailed("pool for instance %q was disposed", instanceID)
		}
		return c, nil
	default:
	}
	w.removed = true
	if p, ok := m.pools[instanceID]; ok {
		removeWaiter(p, w)
	}
	m.mu.Unlock()
	return nil, trace.LimitExceeded("timed out acquiring connection for instance %q", instanceID)
}

// abandonWaiter removes a context-cancelled waiter. A connection that raced
// in is handed to the next live waiter so the queue stays FIFO; it goes back
// to the free list only when nobody is parked.
func (m *Manager) abandonWaiter(instanceID string, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.removed = true
	p, ok := m.pools[instanceID]
	if ok {
		removeWaiter(p, w)
	}
	select {
	case c, open := <-w.ch:
		if open && ok {
			m.handoffLocked(p, c)
		}
	default:
	}
}

// Release returns a connection to its pool. Unknown connections are ignored.
// If waiters are queued, the connection is handed directly to the head waiter
// without re-entering the free list.
func (m *Manager) Release(instanceID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[instanceID]
	if !ok {
		return
	}

	var conn *Conn
	for _, c := range p.conns {
		if c.ID == connID {
			conn = c
			break
		}
	}
	if conn == nil {
		return
	}
	m.handoffLocked(p, conn)
}

// handoffLocked passes a connection to the first live waiter, FIFO, or marks
// it idle when nobody is parked. Caller holds the lock.
func (m *Manager) handoffLocked(p *pool, conn *Conn) {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.removed {
			continue
		}
		m.checkout(conn, w.clientID)
		w.ch <- conn
		return
	}
	conn.InUse = false
	conn.ClientID = ""
	conn.LastUsedAt = m.clock.Now()
}

// Cleanup trims idle connections above min(idleFloor, pool size) that have
// been unused longer than maxIdle.
func (m *Manager) Cleanup(instanceID string, maxIdle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[instanceID]
	if !ok {
		return
	}

	floor := idleFloor
	if p.cfg.DefaultPoolSize < floor {
		floor = p.cfg.DefaultPoolSize
	}

	now := m.clock.Now()
	for len(p.conns) > floor {
		idx := -1
		for i, c := range p.conns {
			if !c.InUse && now.Sub(c.LastUsedAt) > maxIdle {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
	}
}

// Destroy drops the pool and its configuration. Pending waiters fail as
// disposed. Idempotent.
func (m *Manager) Destroy(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[instanceID]
	if !ok {
		return
	}
	disposeWaiters(p)
	delete(m.pools, instanceID)
	m.logger.Debug().Str("instance_id", instanceID).Msg("pool destroyed")
}

// Stats returns a snapshot of the pool's counters.
func (m *Manager) Stats(instanceID string) (types.PoolStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[instanceID]
	if !ok {
		return types.PoolStats{}, trace.NotFound("no pool configured for instance %q", instanceID)
	}

	stats := types.PoolStats{Size: len(p.conns)}
	for _, c := range p.conns {
		if c.InUse {
			stats.InUse++
		} else {
			stats.Idle++
		}
	}
	for _, w := range p.waiters {
		if !w.removed {
			stats.Waiters++
		}
	}
	return stats, nil
}

// Configured reports whether a pool exists for the instance.
func (m *Manager) Configured(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pools[instanceID]
	return ok
}

// checkout marks a connection as claimed by a client. Caller holds the lock.
func (m *Manager) checkout(c *Conn, clientID string) {
	c.InUse = true
	c.ClientID = clientID
	c.LastUsedAt = m.clock.Now()
}

func disposeWaiters(p *pool) {
	for _, w := range p.waiters {
		if !w.removed {
			w.removed = true
			close(w.ch)
		}
	}
	p.waiters = nil
}

func removeWaiter(p *pool, w *waiter) {
	for i, x := range p.waiters {
		if x == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
