/*
Package log provides structured logging for Roost built on zerolog.

Init configures the global logger once at process start; components then
derive child loggers carrying stable identity fields:

	logger := log.WithComponent("supervisor")
	logger.Info().Str("function_id", fn.ID).Msg("function deployed")

Console output is the default; JSON output is used when running under a
collector. Levels: debug, info, warn, error.
*/
package log
