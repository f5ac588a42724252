/*
Package cron fires schedules against an externally supplied invoker on a
minute-granular heartbeat.

A tick selects every active schedule whose NextRunAt has arrived and
submits its firing without awaiting; distinct schedules fire concurrently
and overlapping firings of the same schedule are permitted. NextRunAt is
advanced at submission time so a long-running firing never double-fires on
the next tick.

Each firing runs up to MaxRetries+1 sequential attempts with RetryDelay
between them; every attempt races the invoker against the schedule
timeout. Outcomes are recorded on an Execution held in a per-schedule FIFO
capped at 100 entries. When the trailing five executions are all
non-success the schedule is moved to error and drops out of the ticker
until resumed.

Pause, Resume, Delete and TriggerManually are owner-gated. The scheduler
keeps all state in memory and journals schedules to the store for restart
visibility; executions are ephemeral by design.
*/
package cron
