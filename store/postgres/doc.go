// Package postgres implements the atlasauth repositories on PostgreSQL with
// pgx. The schema ships as embedded goose migrations; run Migrate before
// first use.
//
// Repositories accept any DB, which *pgxpool.Pool satisfies.
package postgres
