// Package crew runs batches of agent tasks as worker subprocesses.
//
// A Pool admits tasks up to a live Concurrency limit and collects one
// AgentResult per task in completion order. Each task runs through
// Runner.RunAgent, which resolves the agent's model, thinking level, tools
// and output budget, spawns the worker runtime, folds its NDJSON event
// stream into a progress snapshot published on the live broadcast, and
// archives input, output, events and metadata as best-effort artifacts.
//
// Cancelling the batch context stops admission and runs the Shutdown
// protocol on every running worker: an inbox message first, then SIGTERM,
// then SIGKILL.
package crew
