// Package logx is the bot's structured logger: a thin wrapper over zerolog.
//
// Sinks:
//   - console: short timestamp and caller, human readable
//   - file: JSON lines, rotated by lumberjack
//   - telegram: warn+ events forwarded to a log chat, rate limited
//
// The zero Logger is a no-op. Loggers derived from a Service follow its
// Apply calls, so hot-reloaded levels and sinks take effect everywhere.
package logx
