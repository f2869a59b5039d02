// Package postgres is the PostgreSQL backend, built on pgx/v5 with
// pgxpool connection pooling. Lock claims rely on a primary-key insert
// for cross-process atomicity; migrations are embedded SQL files applied
// through a tracking table.
package postgres
