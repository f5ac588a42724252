/*
Package netalloc manages loopback port reservations for worker instances.

The allocator owns a configured inclusive range and hands out ports that are
neither reserved by it nor bound at the OS level. Every spawned worker gets
its port from here and returns it on teardown, which keeps port uniqueness a
process-wide invariant with a single source of truth.
*/
package netalloc
