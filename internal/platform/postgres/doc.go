// Package postgres provides the PostgreSQL implementation of the task store
// defined in the internal/store package. It handles query execution, data
// mapping between domain tasks and database rows, and change subscriptions
// built on LISTEN/NOTIFY.
package postgres
