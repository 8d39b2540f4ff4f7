package crew

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nicobailon/pi-messenger-sub001/internal/agents"
	"github.com/nicobailon/pi-messenger-sub001/internal/config"
	"github.com/nicobailon/pi-messenger-sub001/internal/logging"
	"github.com/nicobailon/pi-messenger-sub001/internal/mailbox"
	"github.com/nicobailon/pi-messenger-sub001/internal/namer"
	"github.com/nicobailon/pi-messenger-sub001/internal/progress"
	"github.com/nicobailon/pi-messenger-sub001/internal/registry"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// maxStderr caps how much stderr is kept per worker.
const maxStderr = 64 * 1024

// Environment variables identifying a worker subprocess.
const (
	EnvWorker    = "PI_CREW_WORKER"
	EnvAgentName = "PI_AGENT_NAME"
)

// ShutdownMessage is the text sent to a worker asked to stop.
const ShutdownMessage = "SHUTDOWN REQUESTED: Stop working now. Release all of your file reservations, " +
	"leave any incomplete task marked as not done, do not commit anything, and exit."

// AgentSource resolves agent definitions by name.
type AgentSource interface {
	Get(name string) (agents.Definition, bool)
}

// RunnerConfig wires a Runner. Zero fields get working defaults.
type RunnerConfig struct {
	Cwd       string
	RunID     string
	Config    *config.Config
	Agents    AgentSource
	Registry  *registry.Registry
	Broadcast *progress.Broadcast
	Mailbox   *mailbox.Mailbox
	Artifacts *ArtifactWriter
	Names     *namer.Namer
	Logger    *slog.Logger
	Clock     Clock
}

// Runner spawns one worker subprocess per task and supervises it.
type Runner struct {
	cwd       string
	runID     string
	cfg       *config.Config
	agents    AgentSource
	registry  *registry.Registry
	broadcast *progress.Broadcast
	mailbox   *mailbox.Mailbox
	artifacts *ArtifactWriter
	names     *namer.Namer
	logger    *slog.Logger
	clock     Clock

	command func(name string, args ...string) *exec.Cmd
}

// NewRunner builds a Runner from rc.
func NewRunner(rc RunnerConfig) *Runner {
	r := &Runner{
		cwd:       rc.Cwd,
		runID:     rc.RunID,
		cfg:       rc.Config,
		agents:    rc.Agents,
		registry:  rc.Registry,
		broadcast: rc.Broadcast,
		mailbox:   rc.Mailbox,
		artifacts: rc.Artifacts,
		names:     rc.Names,
		logger:    rc.Logger,
		clock:     rc.Clock,
		command:   exec.Command,
	}
	if r.runID == "" {
		r.runID = NewRunID()
	}
	if r.cfg == nil {
		r.cfg = config.Default()
	}
	if r.agents == nil {
		r.agents = &agents.Catalog{}
	}
	if r.registry == nil {
		r.registry = registry.New()
	}
	if r.mailbox == nil {
		r.mailbox = mailbox.New(config.MessengerDir(r.cwd))
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	if r.broadcast == nil {
		r.broadcast = progress.NewBroadcast(progress.WithLogger(r.logger))
	}
	if r.artifacts == nil {
		r.artifacts = NewArtifactWriter(r.cfg.Crew.ArtifactsDir(r.cwd), r.runID, r.cfg.Crew.Artifacts.Enabled, r.logger)
	}
	if r.names == nil {
		r.names = namer.New()
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	return r
}

// NewRunID returns a short unique run id.
func NewRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// RunID returns the id used to prefix artifacts.
func (r *Runner) RunID() string { return r.runID }

// Registry returns the worker registry.
func (r *Runner) Registry() *registry.Registry { return r.registry }

// Broadcast returns the live progress table.
func (r *Runner) Broadcast() *progress.Broadcast { return r.broadcast }

// RunAgent runs task to completion and returns its result. It never
// returns an error: every failure is reported through the result.
// Cancelling ctx starts the graceful shutdown protocol.
func (r *Runner) RunAgent(ctx context.Context, task models.AgentTask, index int) models.AgentResult {
	start := r.clock.Now()
	res := models.AgentResult{Agent: task.Agent, TaskID: task.TaskID}

	def, ok := r.agents.Get(task.Agent)
	if !ok {
		return r.fail(res, start, fmt.Sprintf("unknown agent %q", task.Agent))
	}
	inv := Resolve(task, def, &r.cfg.Crew)
	res.Name = r.names.Next()

	liveID := task.TaskID
	if liveID == "" {
		liveID = r.runID + "-" + res.Name
	}
	logger := r.logger.With("run_id", r.runID, "agent", task.Agent, "task_id", liveID, "name", res.Name)

	var arts models.Artifacts
	if o := r.artifacts.WriteInput(task.Agent, index, task.Task); o.OK() {
		arts.Input = o.Path
	}

	promptFile := ""
	if def.SystemPrompt != "" {
		path, err := writePromptFile(def.SystemPrompt)
		if err != nil {
			return r.fail(res, start, fmt.Sprintf("write system prompt: %v", err))
		}
		promptFile = path
		defer os.Remove(path)
	}

	args := BuildArgs(inv, r.cfg.Crew.Extension, promptFile, task.Task)
	cmd := r.command(r.cfg.Crew.Runtime, args...)
	cmd.Dir = r.cwd
	cmd.Env = r.env(inv.Role, res.Name)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	proc, err := registry.StartProcess(cmd)
	if err != nil {
		stdoutW.Close()
		stderrW.Close()
		logger.Error("spawn failed", "runtime", r.cfg.Crew.Runtime, "error", err)
		return r.fail(res, start, err.Error())
	}
	logger.Info("worker started", "pid", proc.Pid(), "model", inv.Model, "role", string(inv.Role))

	r.registry.Register(registry.Handle{
		Kind:      registry.KindTask,
		Cwd:       r.cwd,
		TaskID:    liveID,
		Name:      res.Name,
		Process:   proc,
		StartedAt: start,
	})
	if inv.Role == models.RoleWorker {
		// Workers adopt PI_AGENT_NAME as their coordination identity.
		r.registry.SetIdentity(r.cwd, liveID, res.Name)
	}
	defer r.registry.Unregister(r.cwd, liveID)

	acc := NewProgressAccumulator(task.Agent, start)
	acc.now = r.clock.Now
	live := progress.LiveWorker{Cwd: r.cwd, TaskID: liveID, Agent: task.Agent, Name: res.Name, StartedAt: start}
	live.Progress = acc.Snapshot()
	r.broadcast.Set(live)
	defer r.broadcast.Remove(r.cwd, liveID)

	events := r.artifacts.OpenEvents(task.Agent, index)
	stderr := &cappedBuffer{max: maxStderr}

	var g errgroup.Group
	g.Go(func() error {
		return pumpLines(stdoutR, func(line []byte) {
			if !acc.Apply(line) {
				return
			}
			live.Progress = acc.Snapshot()
			r.broadcast.Set(live)
			events.Append(line)
		})
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, stderrR)
		return err
	})

	shutdownDone := make(chan *ShutdownResult, 1)
	go func() {
		select {
		case <-ctx.Done():
			sd := NewShutdown(proc, r.notifier(liveID), r.clock, r.cfg.Crew.ShutdownGrace, logger)
			out := sd.Run()
			logger.Info("shutdown finished", "state", out.Final.String(), "delivered", out.Delivered)
			shutdownDone <- &out
		case <-proc.Done():
			shutdownDone <- nil
		}
	}()

	<-proc.Done()
	stdoutW.Close()
	stderrW.Close()
	if err := g.Wait(); err != nil {
		logger.Warn("output pump failed", "error", err)
	}
	if err := proc.WaitErr(); err != nil {
		logger.Warn("wait failed", "error", err)
	}
	sd := <-shutdownDone
	events.Close()

	res.ExitCode = proc.ExitCode()
	res.GracefulShutdown = sd != nil && sd.requested()
	acc.Finish(res.ExitCode)
	res.Progress = acc.Snapshot()
	res.Duration = r.clock.Now().Sub(start)

	if res.ExitCode != 0 {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			res.Error = msg
		}
	}

	full := acc.Output()
	res.Output, res.Truncated = Truncate(full, inv.Budget)
	if r.artifacts.Enabled() {
		if o := r.artifacts.WriteOutput(task.Agent, index, full); o.OK() {
			arts.Output = o.Path
		}
		arts.Events = events.Path()
		if o := r.artifacts.WriteMetadata(task.Agent, index, r.metadata(task, index, inv, res)); o.OK() {
			arts.Metadata = o.Path
		}
	}
	if !arts.IsZero() {
		res.Artifacts = &arts
	}

	logger.Info("worker exited", "exit_code", res.ExitCode, "duration", res.Duration.String(),
		"truncated", res.Truncated, "graceful", res.GracefulShutdown)
	return res
}

func (r *Runner) fail(res models.AgentResult, start time.Time, reason string) models.AgentResult {
	res.ExitCode = 1
	res.Error = reason
	res.Progress = models.Progress{Agent: res.Agent, Status: models.ProgressFailed, StartedAt: start, Error: reason}
	res.Duration = r.clock.Now().Sub(start)
	r.logger.Warn("task failed before start", "agent", res.Agent, "task_id", res.TaskID, "reason", reason)
	return res
}

func (r *Runner) env(role models.Role, name string) []string {
	return WorkerEnv(&r.cfg.Crew, role, name)
}

// WorkerEnv is the environment a worker subprocess starts with: the
// current environment, the worker variables for the worker role, extra,
// then crew.env sorted by key so later entries win deterministically.
func WorkerEnv(cfg *config.CrewConfig, role models.Role, name string, extra ...string) []string {
	env := os.Environ()
	if role == models.RoleWorker {
		env = append(env, EnvWorker+"=1", EnvAgentName+"="+name)
	}
	env = append(env, extra...)
	if cfg == nil {
		return env
	}
	overrides := cfg.EnvMap()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

type runMetadata struct {
	RunID      string       `json:"runId"`
	Agent      string       `json:"agent"`
	Index      int          `json:"index"`
	TaskID     string       `json:"taskId,omitempty"`
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	Thinking   string       `json:"thinking,omitempty"`
	Role       models.Role  `json:"role"`
	ExitCode   int          `json:"exitCode"`
	DurationMs int64        `json:"durationMs"`
	Truncated  bool         `json:"truncated"`
	Graceful   bool         `json:"gracefulShutdown"`
	Tokens     models.Usage `json:"tokens"`
	ToolCount  int          `json:"toolCount"`
	Error      string       `json:"error,omitempty"`
}

func (r *Runner) metadata(task models.AgentTask, index int, inv Invocation, res models.AgentResult) runMetadata {
	return runMetadata{
		RunID:      r.runID,
		Agent:      task.Agent,
		Index:      index,
		TaskID:     task.TaskID,
		Name:       res.Name,
		Model:      inv.Model,
		Thinking:   inv.Thinking,
		Role:       inv.Role,
		ExitCode:   res.ExitCode,
		DurationMs: res.Duration.Milliseconds(),
		Truncated:  res.Truncated,
		Graceful:   res.GracefulShutdown,
		Tokens:     res.Progress.Tokens,
		ToolCount:  res.Progress.ToolCount,
		Error:      res.Error,
	}
}

func (r *Runner) notifier(taskID string) Notifier {
	return &messengerNotifier{
		mailbox:  r.mailbox,
		registry: r.registry,
		cwd:      r.cwd,
		taskID:   taskID,
		logger:   r.logger,
	}
}

// messengerNotifier asks a worker to stop through its coordination inbox.
type messengerNotifier struct {
	mailbox  *mailbox.Mailbox
	registry *registry.Registry
	cwd      string
	taskID   string
	logger   *slog.Logger
}

func (n *messengerNotifier) Notify(pid int) (string, bool) {
	identity := n.registry.Identity(n.cwd, n.taskID)
	if identity == "" {
		if d, ok := n.mailbox.FindByPID(pid); ok {
			identity = d.Name
		}
	}
	if identity == "" {
		return "", false
	}
	if _, err := n.mailbox.Deliver("crew", identity, ShutdownMessage); err != nil {
		if !errors.Is(err, mailbox.ErrNoInbox) {
			n.logger.Warn("shutdown message not delivered", "identity", identity, "error", err)
		}
		return identity, false
	}
	return identity, true
}

func (n *messengerNotifier) Cleanup(identity string) {
	if err := n.mailbox.RemoveDescriptor(identity); err != nil {
		n.logger.Warn("descriptor cleanup failed", "identity", identity, "error", err)
	}
}

func (s ShutdownResult) requested() bool {
	for _, st := range s.History {
		if st == StateShutdownRequested {
			return true
		}
	}
	return false
}

// pumpLines calls fn for every line of rd, including a final line with
// no trailing newline.
func pumpLines(rd io.Reader, fn func([]byte)) error {
	br := bufio.NewReader(rd)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			fn(bytes.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func writePromptFile(prompt string) (string, error) {
	f, err := os.CreateTemp("", "crew-prompt-*.md")
	if err != nil {
		return "", err
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if _, err := f.WriteString(prompt); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }
