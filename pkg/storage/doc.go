/*
Package storage is the durable persistence collaborator.

The core keeps authoritative state in memory and journals entity mutations
(functions, database instances, backups, cron schedules) through the Store
interface, which mirrors the entity maps with get/put/list by identifier.
Live runtime state (worker instances, pool connections) is not journaled;
it is rebuilt on restart.

BoltStore persists entities as JSON in per-entity BoltDB buckets.
MemoryStore is the volatile implementation used by tests.
*/
package storage
