// Package cronexpr evaluates five-field extended cron expressions.
//
// Fields are minute (0-59), hour (0-23), day-of-month (1-31), month (1-12) and
// day-of-week (0-6, Sunday=0), separated by whitespace. Each field accepts "*",
// single integers, comma lists, ranges "a-b", and steps "*/n" or "a-b/n".
// Values outside a field's range are discarded.
//
// Day-of-month and day-of-week are conjunctive: an instant matches only when
// both fields match. This deliberately differs from the Vixie-cron disjunctive
// behavior (and from robfig/cron), which is why the evaluator is hand-rolled.
//
// Next performs a bounded search of at most one year of minutes and fails when
// no matching instant exists (e.g. "0 0 31 2 *").
package cronexpr
