// Package database manages the bun connection pool for PostgreSQL, MySQL and
// SQLite, creates the entity tables, seeds data from SQL files, and runs
// caller code inside transactions opened at an explicit isolation level.
package database
