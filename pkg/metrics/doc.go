/*
Package metrics defines the Prometheus metrics exported by Roost.

Metrics are package-level collectors registered in init and updated directly
by the owning components: the supervisor (instances, invocations), the cron
scheduler (schedules, executions), the pool manager (connections, timeouts),
the lifecycle controller (databases, backups) and the HTTP adapter (request
counts and latency). Handler exposes the standard /metrics endpoint.
*/
package metrics
