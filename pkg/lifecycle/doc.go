/*
Package lifecycle drives tenant database instances through their state
machine and coordinates the pool manager and the backup worker.

States move pending → provisioning → running, with running branching into
scaling, backing_up, restoring and stopped and returning; running or
stopped may terminate, and any state may fail on an unrecoverable
provisioning error. Illegal transitions are rejected outright; the
transitions table is the single source of truth.

Create returns immediately with the instance in pending while a background
goroutine provisions it: deterministic credentials and endpoint derived
from the identifier, a connection string per engine, and a configured
connection pool for the relational engine. Provisioning failures are
terminal and surface only through the failed status and its message, never
as a masked success.

CreateBackup parks the instance in backing_up and enqueues a job on the
backup worker; the job is observable exclusively through its Backup record
and the instance returns to running when it finishes, stamping
lastBackupAt on success. RestoreBackup requires a completed backup and runs
synchronously through restoring. Replicas are relational-only, derived
deterministically, and promotion is a status change.

All operations are owner-gated. Terminated instances retain their record
for audit with credentials and pool dropped.
*/
package lifecycle
