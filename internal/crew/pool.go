package crew

import (
	"context"
	"log/slog"

	"github.com/nicobailon/pi-messenger-sub001/internal/feed"
	"github.com/nicobailon/pi-messenger-sub001/internal/logging"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// ErrCancelledBeforeStart is the result error of a task the batch never started.
const ErrCancelledBeforeStart = "cancelled before start"

// AgentRunner executes one task. *Runner implements it.
type AgentRunner interface {
	RunAgent(ctx context.Context, task models.AgentTask, index int) models.AgentResult
}

// TaskStore is the task-graph store. The pool reports task-bound results
// to it; its implementation lives outside this repository.
type TaskStore interface {
	Start(taskID string) error
	Complete(taskID, summary string) error
	Block(taskID, reason string) error
}

// Ledger records batch history.
type Ledger interface {
	StartRun(runID, cwd string, tasks int) error
	RecordResult(runID string, res models.AgentResult) error
	FinishRun(runID string, succeeded, failed int) error
}

// PoolConfig wires a Pool.
type PoolConfig struct {
	Runner      AgentRunner
	Concurrency *Concurrency
	RunID       string
	Cwd         string
	Store       TaskStore
	Ledger      Ledger
	Feed        *feed.Feed
	Logger      *slog.Logger
}

// Pool runs a batch of tasks with bounded concurrency.
type Pool struct {
	runner AgentRunner
	conc   *Concurrency
	runID  string
	cwd    string
	store  TaskStore
	ledger Ledger
	feed   *feed.Feed
	logger *slog.Logger
}

// NewPool builds a Pool. A nil Concurrency means one worker at a time.
func NewPool(pc PoolConfig) *Pool {
	p := &Pool{
		runner: pc.Runner,
		conc:   pc.Concurrency,
		runID:  pc.RunID,
		cwd:    pc.Cwd,
		store:  pc.Store,
		ledger: pc.Ledger,
		feed:   pc.Feed,
		logger: pc.Logger,
	}
	if p.conc == nil {
		p.conc = NewConcurrency(1)
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.runID == "" {
		p.runID = NewRunID()
	}
	return p
}

// Concurrency returns the live limit so callers can change it mid-run.
func (p *Pool) Concurrency() *Concurrency { return p.conc }

type completion struct {
	index int
	res   models.AgentResult
}

// Run executes tasks and returns one result per task in completion order.
// Cancelling ctx stops admission; running tasks receive the shutdown
// protocol and unstarted ones come back failed.
func (p *Pool) Run(ctx context.Context, tasks []models.AgentTask) []models.AgentResult {
	p.ledgerStart(len(tasks))

	results := make([]models.AgentResult, 0, len(tasks))
	done := make(chan completion)
	next, running := 0, 0

	for {
		changed := p.conc.Changed()
		limit := p.conc.Limit()

		for ctx.Err() == nil && running < limit && next < len(tasks) {
			p.start(ctx, next, tasks[next], done)
			next++
			running++
		}

		if running == 0 && (next == len(tasks) || ctx.Err() != nil) {
			break
		}

		select {
		case c := <-done:
			running--
			results = append(results, c.res)
			p.finish(c.res)
		case <-changed:
		case <-ctx.Done():
			// Admission is already blocked; keep draining running tasks.
			// Waiting on done alone avoids spinning on the closed channel.
			c := <-done
			running--
			results = append(results, c.res)
			p.finish(c.res)
		}
	}

	for ; next < len(tasks); next++ {
		res := cancelledResult(tasks[next])
		results = append(results, res)
		p.finish(res)
	}

	p.ledgerFinish(results)
	return results
}

func (p *Pool) start(ctx context.Context, index int, task models.AgentTask, done chan<- completion) {
	p.logger.Debug("dispatching task", "run_id", p.runID, "index", index, "agent", task.Agent, "task_id", task.TaskID)
	if task.TaskID != "" && p.store != nil {
		if err := p.store.Start(task.TaskID); err != nil {
			p.logger.Warn("task store start failed", "task_id", task.TaskID, "error", err)
		}
	}
	p.feed.Append(feed.Event{Type: feed.TaskStarted, Agent: task.Agent, TaskID: task.TaskID, Text: firstLine(task.Task)})

	go func() {
		res := p.runner.RunAgent(ctx, task, index)
		done <- completion{index: index, res: res}
	}()
}

func (p *Pool) finish(res models.AgentResult) {
	evType := feed.TaskCompleted
	if !res.Succeeded() {
		evType = feed.TaskFailed
	}
	p.feed.Append(feed.Event{Type: evType, Agent: res.Agent, Name: res.Name, TaskID: res.TaskID, Text: firstLine(summary(res))})

	if res.TaskID != "" && p.store != nil {
		var err error
		if res.Succeeded() {
			err = p.store.Complete(res.TaskID, summary(res))
		} else {
			err = p.store.Block(res.TaskID, summary(res))
		}
		if err != nil {
			p.logger.Warn("task store update failed", "task_id", res.TaskID, "error", err)
		}
	}
	if p.ledger != nil {
		if err := p.ledger.RecordResult(p.runID, res); err != nil {
			p.logger.Warn("ledger record failed", "run_id", p.runID, "error", err)
		}
	}
}

func (p *Pool) ledgerStart(n int) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.StartRun(p.runID, p.cwd, n); err != nil {
		p.logger.Warn("ledger start failed", "run_id", p.runID, "error", err)
	}
}

func (p *Pool) ledgerFinish(results []models.AgentResult) {
	if p.ledger == nil {
		return
	}
	ok, failed := 0, 0
	for _, r := range results {
		if r.Succeeded() {
			ok++
		} else {
			failed++
		}
	}
	if err := p.ledger.FinishRun(p.runID, ok, failed); err != nil {
		p.logger.Warn("ledger finish failed", "run_id", p.runID, "error", err)
	}
}

func cancelledResult(task models.AgentTask) models.AgentResult {
	return models.AgentResult{
		Agent:    task.Agent,
		TaskID:   task.TaskID,
		ExitCode: 1,
		Error:    ErrCancelledBeforeStart,
		Progress: models.Progress{Agent: task.Agent, Status: models.ProgressFailed, Error: ErrCancelledBeforeStart},
	}
}

func summary(res models.AgentResult) string {
	if res.Succeeded() {
		return res.Output
	}
	if res.Error != "" {
		return res.Error
	}
	return res.Output
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > 120 {
		s = cutBytes(s, 117) + "..."
	}
	return s
}
