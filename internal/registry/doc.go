// Package registry keeps the table of live worker processes.
//
// Task workers are keyed by (working directory, task id). Lobby workers are
// keyed by (working directory, lobby session id) and may carry an assigned
// task id while they execute one. Every subprocess the crew starts is
// registered here so it can be found, inspected and torn down in bulk.
package registry
