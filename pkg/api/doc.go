/*
Package api is the HTTP adapter over the supervisor, scheduler and
lifecycle controller.

It owns no domain state: every handler decodes a request, calls one
operation on a collaborator and renders the result. Errors map onto a
stable surface: 404 for unknown identifiers, 401 for missing or mismatched
owner identity, 503 for exhausted capacity, 409 for illegal state, 400 for
invalid input and 500 for upstream failures. Error bodies are structured
JSON with a message and, in debug mode only, a stack trace.

Owner-gated operations read the caller identity from the X-Owner-ID
header. /v1/invoke/{id}/... forwards requests verbatim to a worker
instance; /v1/events streams broker events as newline-delimited JSON.
Prometheus metrics are served on /metrics and every request is counted and
timed.
*/
package api
