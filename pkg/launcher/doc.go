/*
Package launcher turns code artifacts into running worker subprocesses.

Launch materializes a content-addressed artifact into a per-instance work
directory (gzip-wrapped tars are extracted, anything else is a single source
file), writes a bootstrap shim around the resolved entry point, spawns the
worker runtime with a curated environment allow-list, and polls GET /health
on the allocated loopback port until the worker is ready.

A 200 or a 404 from the probe both count as ready: 404 means the process
bound the port without registering a health route. The probe has a hard 30
second budget; on expiry the process is killed and the caller releases the
port.

The Process handle reaps the subprocess in the background, exposes exit
state, and implements graceful stop (SIGTERM, then SIGKILL after a grace
period).
*/
package launcher
