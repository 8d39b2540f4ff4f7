package crew

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

type blockingRunner struct {
	started chan int
	release []chan struct{}

	mu         sync.Mutex
	running    int
	maxRunning int
}

func newBlockingRunner(n int) *blockingRunner {
	r := &blockingRunner{started: make(chan int, n), release: make([]chan struct{}, n)}
	for i := range r.release {
		r.release[i] = make(chan struct{})
	}
	return r
}

func (r *blockingRunner) RunAgent(ctx context.Context, task models.AgentTask, index int) models.AgentResult {
	r.mu.Lock()
	r.running++
	if r.running > r.maxRunning {
		r.maxRunning = r.running
	}
	r.mu.Unlock()
	r.started <- index

	exit := 0
	select {
	case <-r.release[index]:
	case <-ctx.Done():
		exit = 1
	}

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	return models.AgentResult{Agent: task.Agent, TaskID: task.TaskID, ExitCode: exit, Output: "done " + task.Task}
}

func (r *blockingRunner) peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRunning
}

func makeTasks(n int) []models.AgentTask {
	tasks := make([]models.AgentTask, n)
	for i := range tasks {
		tasks[i] = models.AgentTask{Agent: "crew-worker", Task: fmt.Sprintf("t%d", i), TaskID: fmt.Sprintf("task-%d", i)}
	}
	return tasks
}

func expectStart(t *testing.T, r *blockingRunner) int {
	t.Helper()
	select {
	case i := <-r.started:
		return i
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a task to start")
	}
	return -1
}

func expectNoStart(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case i := <-r.started:
		t.Fatalf("task %d started while the pool was full", i)
	case <-time.After(50 * time.Millisecond):
	}
}

func runPool(p *Pool, ctx context.Context, tasks []models.AgentTask) <-chan []models.AgentResult {
	out := make(chan []models.AgentResult, 1)
	go func() { out <- p.Run(ctx, tasks) }()
	return out
}

func waitResults(t *testing.T, ch <-chan []models.AgentResult) []models.AgentResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not finish")
	}
	return nil
}

func TestPoolRespectsLimit(t *testing.T) {
	runner := newBlockingRunner(3)
	pool := NewPool(PoolConfig{Runner: runner, Concurrency: NewConcurrency(2)})
	done := runPool(pool, context.Background(), makeTasks(3))

	a := expectStart(t, runner)
	b := expectStart(t, runner)
	expectNoStart(t, runner)

	close(runner.release[b])
	c := expectStart(t, runner)
	if c != 2 {
		t.Errorf("third start = %d, want 2", c)
	}
	close(runner.release[a])
	close(runner.release[c])

	results := waitResults(t, done)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].TaskID != fmt.Sprintf("task-%d", b) {
		t.Errorf("first result = %s, want task-%d (completion order)", results[0].TaskID, b)
	}
	if runner.peak() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", runner.peak())
	}
}

func TestPoolLimitRaiseAdmitsImmediately(t *testing.T) {
	runner := newBlockingRunner(3)
	conc := NewConcurrency(1)
	pool := NewPool(PoolConfig{Runner: runner, Concurrency: conc})
	done := runPool(pool, context.Background(), makeTasks(3))

	expectStart(t, runner)
	expectNoStart(t, runner)

	conc.Set(3)
	expectStart(t, runner)
	expectStart(t, runner)

	for _, ch := range runner.release {
		close(ch)
	}
	if got := len(waitResults(t, done)); got != 3 {
		t.Errorf("got %d results", got)
	}
}

func TestPoolCancelReturnsUnstartedAsFailed(t *testing.T) {
	runner := newBlockingRunner(3)
	pool := NewPool(PoolConfig{Runner: runner, Concurrency: NewConcurrency(1)})
	ctx, cancel := context.WithCancel(context.Background())
	done := runPool(pool, ctx, makeTasks(3))

	expectStart(t, runner)
	cancel()

	results := waitResults(t, done)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	cancelled := 0
	for _, r := range results {
		if r.Error == ErrCancelledBeforeStart {
			cancelled++
			if r.ExitCode == 0 || r.Progress.Status != models.ProgressFailed {
				t.Errorf("cancelled result should be failed: %+v", r)
			}
		}
	}
	if cancelled != 2 {
		t.Errorf("cancelled = %d, want 2", cancelled)
	}
	expectNoStart(t, runner)
}

func TestPoolEmpty(t *testing.T) {
	pool := NewPool(PoolConfig{Runner: newBlockingRunner(0)})
	if got := pool.Run(context.Background(), nil); len(got) != 0 {
		t.Errorf("got %d results", len(got))
	}
}

type recordingStore struct {
	mu       sync.Mutex
	started  []string
	complete []string
	blocked  []string
}

func (s *recordingStore) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
	return nil
}

func (s *recordingStore) Complete(id, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = append(s.complete, id)
	return nil
}

func (s *recordingStore) Block(id, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append(s.blocked, id)
	return nil
}

type recordingLedger struct {
	mu       sync.Mutex
	runs     []string
	results  int
	ok, fail int
}

func (l *recordingLedger) StartRun(runID, _ string, _ int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, runID)
	return nil
}

func (l *recordingLedger) RecordResult(string, models.AgentResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results++
	return nil
}

func (l *recordingLedger) FinishRun(_ string, ok, failed int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ok, l.fail = ok, failed
	return nil
}

type scriptedRunner struct{}

func (scriptedRunner) RunAgent(_ context.Context, task models.AgentTask, _ int) models.AgentResult {
	exit := 0
	if task.Task == "fail" {
		exit = 2
	}
	return models.AgentResult{Agent: task.Agent, TaskID: task.TaskID, ExitCode: exit}
}

func TestPoolReportsToStoreAndLedger(t *testing.T) {
	store := &recordingStore{}
	ledger := &recordingLedger{}
	pool := NewPool(PoolConfig{
		Runner:      scriptedRunner{},
		Concurrency: NewConcurrency(2),
		RunID:       "run-x",
		Store:       store,
		Ledger:      ledger,
	})

	tasks := []models.AgentTask{
		{Agent: "w", Task: "ok", TaskID: "task-1"},
		{Agent: "w", Task: "fail", TaskID: "task-2"},
		{Agent: "w", Task: "ok"},
	}
	results := pool.Run(context.Background(), tasks)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if len(store.started) != 2 {
		t.Errorf("store started = %v, want only task-bound ids", store.started)
	}
	if len(store.complete) != 1 || store.complete[0] != "task-1" {
		t.Errorf("completed = %v", store.complete)
	}
	if len(store.blocked) != 1 || store.blocked[0] != "task-2" {
		t.Errorf("blocked = %v", store.blocked)
	}
	if len(ledger.runs) != 1 || ledger.runs[0] != "run-x" || ledger.results != 3 {
		t.Errorf("ledger = %+v", ledger)
	}
	if ledger.ok != 2 || ledger.fail != 1 {
		t.Errorf("ledger totals = %d/%d, want 2/1", ledger.ok, ledger.fail)
	}
}
