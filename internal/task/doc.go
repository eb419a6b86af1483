// Package task is the background task orchestration core. It owns the task
// state machine (lifecycle manager), executes transformations with progress
// checkpoints and crash resumption (runner), and delivers exactly one
// user-facing notification per finished task across sessions (dispatcher).
// Durable state lives behind the store.TaskStore interface; the only
// coordination primitive is the store's change-notification stream.
package task
