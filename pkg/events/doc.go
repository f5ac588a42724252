/*
Package events provides an in-process publish/subscribe broker for
control-plane events.

Components publish typed events (function deployed, instance reaped, schedule
fired, backup completed, database status change); subscribers receive them on
buffered channels. Slow subscribers are skipped rather than blocking the
broker, so delivery is best-effort by design.
*/
package events
