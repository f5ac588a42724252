/*
Package pool implements bounded per-instance connection pools with FIFO
waiter queues.

Each database instance gets one pool sized by its PoolConfig. Acquire reuses
idle connections, grows the pool up to the configured size, and otherwise
parks the caller in a FIFO queue until a Release hands a connection over or
the acquisition timeout elapses.

# Fairness

Waiters are strictly FIFO. A Release transfers ownership of the released
connection directly to the head waiter while holding the manager lock, so a
concurrent Acquire arriving in the same scheduling quantum cannot steal it.
Every release wakes at most one waiter; under contention releases propagate
one-for-one.

# Invariants

  - pool size never exceeds the configured DefaultPoolSize
  - a connection is in use exactly when it carries a client attribution
  - a released connection is either idle or handed to a waiter, never lost

Cleanup trims idle connections above min(5, pool size); Destroy drops the
pool and fails all pending waiters as disposed.
*/
package pool
