/*
Package supervisor maintains warm pools of worker processes and routes
invocations to them.

Each deployed function owns a set of instances, every instance being one
worker subprocess listening on a loopback port. Invocations prefer a ready
instance, fall back to a busy one with spare concurrency, and spawn a new
instance when the warm cap allows it. A function at its warm cap with no
spare concurrency fails fast with LimitExceeded rather than queueing.

# Scale-up

acquireInstance reserves a capacity slot by appending a "starting"
placeholder under the supervisor lock, then launches the process outside
the lock so slow cold starts never serialize unrelated invocations. The
placeholder counts against the warm cap, which keeps concurrent acquires
honest about capacity.

# Reaper

A background loop runs every ReapInterval and removes two kinds of
instances: crashed ones, whose process has exited underneath us, and idle
ones that have been unused longer than IdleTimeout. Idle reaping always
keeps at least one warm instance per function so the next invocation skips
the cold start. Ports are released only after the process is gone, never
while it may still hold the socket.

# Telemetry

Per-function counters (invocations, errors, moving average duration) live
on the Function record. Latency percentiles are computed nearest-rank over
a bounded ring of recent samples, and RPS over a 1-minute sliding window of
invocation start times. Worker stdout/stderr feeds a bounded per-function
line ring served by Logs.
*/
package supervisor
