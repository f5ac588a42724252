/*
Package types defines the core data structures used throughout Roost.

This package contains all fundamental types that represent Roost's domain
model: functions and their running instances, invocations, database instances
with their backups and replicas, connection pool configuration, and cron
schedules with their execution history. These types are used by all other
packages for state management and orchestration logic.

# Core Types

Worker runtime:
  - Function: A deployable unit of tenant code, referenced by content-hash
  - Instance: One running subprocess realizing a Function on a loopback port
  - Invocation: One in-flight or completed call with captured logs
  - WorkerEnv: The curated, typed environment passed to spawned workers

Database lifecycle:
  - DatabaseInstance: A tenant database driven through its state machine
  - DatabaseConfig: Sizing, pool, retention and access configuration
  - Backup: A dump stored in the content store, referenced by CID
  - Replica: A read replica or standby of a relational instance

Connection pooling:
  - PoolConfig: Per-instance pool sizing and timeouts
  - PoolStats: Point-in-time pool counters

Scheduling:
  - CronSchedule: A recurring job definition targeting a function
  - CronExecution: One firing of a schedule, including retry attempts

# State Machines

Database instances follow:

	pending → provisioning → running ↔ scaling ↔ backing_up ↔ restoring ↔ stopped → running
	running|stopped → terminated
	any → failed (unrecoverable provisioning error)

Instances follow:

	starting → ready ↔ busy → stopping → stopped
	any → error (process exit or spawn failure)

# Design Patterns

All enums use typed string constants for safety and clarity:

	type BackupStatus string
	const (
	    BackupStatusPending   BackupStatus = "pending"
	    BackupStatusCompleted BackupStatus = "completed"
	)

All types are JSON-serializable for the journaling store. Mutations must be
synchronized by the owning component; types carry no locks of their own.
*/
package types
