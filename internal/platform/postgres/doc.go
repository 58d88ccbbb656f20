// Package postgres provides the PostgreSQL implementation of store.JobStore,
// for deployments that run several producers or worker processes against a
// shared server database. It handles connection setup, embedded migrations,
// query execution and the mapping of driver errors to store errors.
package postgres
