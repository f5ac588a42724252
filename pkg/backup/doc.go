/*
Package backup streams dumps from live database instances into the content
store and restores them back.

One job runs per instance at a time; the lifecycle controller guarantees
that by parking the instance in backing_up before handing the job over. A
job reports progress exclusively through its Backup record: Run mutates the
record's status, timestamps, byte size and content-hash, and never returns
results through any other channel.

Two engine adapters produce the dump stream. The document engine is dumped
over HTTP: a POST to the instance's backup endpoint, with a SQL-dump
fallback through the query endpoint when the backup endpoint declines. The
relational engine shells out to the external dump utility and captures its
stdout. Either way the bytes are gzip-wrapped and uploaded permanent with a
backup-<id>.sql.gz filename hint.

Restore reverses the flow: download by content-hash, gunzip when the gzip
magic is present (anything else passes through unchanged), then POST to the
restore endpoint or pipe into the restore utility. The restore utility
exits non-zero on mere warnings, so a non-zero exit fails the restore only
when stderr carries non-warning lines.
*/
package backup
