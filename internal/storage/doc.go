// Package storage persists the bot's state: the user directory, admins and
// bans, runtime settings, the archive index and the audit log.
//
// Drivers:
//   - "memory": process-local maps, used by tests and dry runs
//   - "file": snapshot + journal files, no external database
//   - "sqlite": single-file SQLite (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via lib/pq
package storage
