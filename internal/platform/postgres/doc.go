// Package postgres provides the PostgreSQL-backed implementation of the job
// store. It handles the details of query execution, atomic claim semantics
// (FOR UPDATE SKIP LOCKED), and data mapping between job records and
// database rows.
package postgres
