package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/reflex/internal/checkpoint"
	"github.com/ShayCichocki/reflex/internal/cost"
	"github.com/ShayCichocki/reflex/internal/interrupt"
	"github.com/ShayCichocki/reflex/internal/memory"
	"github.com/ShayCichocki/reflex/internal/reflection"
	"github.com/ShayCichocki/reflex/pkg/models"
)

// Defaults for a new Loop.
const (
	DefaultMaxIterations = 100
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultEventBuffer   = 256
	summaryLength        = 240
)

// Loop composes the gate, governor, compressor and checkpoint store around
// one serialized action step. One action is in flight at a time.
type Loop struct {
	planner  Planner
	executor Executor
	human    Human

	// signalHuman is set when human answers from the interrupt channel.
	signalHuman bool

	gate        *reflection.Gate
	governor    *cost.Governor
	memory      *memory.Compressor
	checkpoints *checkpoint.Store
	interrupts  *interrupt.Channel

	mode          Mode
	maxIterations int
	pollInterval  time.Duration
	eventBuffer   int
	events        *emitter
	logger        zerolog.Logger

	mu        sync.Mutex
	running   bool
	listening bool
	state     State
	iteration int
	goal      string
	paused    bool
	stopped   bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithGate sets the reflection gate.
func WithGate(g *reflection.Gate) Option { return func(l *Loop) { l.gate = g } }

// WithGovernor sets the cost governor.
func WithGovernor(g *cost.Governor) Option { return func(l *Loop) { l.governor = g } }

// WithMemory sets the conversation compressor.
func WithMemory(m *memory.Compressor) Option { return func(l *Loop) { l.memory = m } }

// WithCheckpoints sets the checkpoint store.
func WithCheckpoints(s *checkpoint.Store) Option { return func(l *Loop) { l.checkpoints = s } }

// WithInterrupts sets the interrupt channel drained at boundaries.
func WithInterrupts(ch *interrupt.Channel) Option { return func(l *Loop) { l.interrupts = ch } }

// WithHuman sets who answers confirmations. Defaults to a SignalHuman on
// the interrupt channel.
func WithHuman(h Human) Option { return func(l *Loop) { l.human = h } }

// WithMode sets the interaction mode.
func WithMode(m Mode) Option { return func(l *Loop) { l.mode = m } }

// WithMaxIterations sets the hard step cap.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithPollInterval sets the paused-wait poll period.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.eventBuffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.logger = logger.With().Str("component", "loop").Logger() }
}

// New creates a loop. Collaborators that are not supplied get defaults.
// The default human answers from the interrupt channel and declines when
// Run is called with interrupts disabled.
func New(planner Planner, executor Executor, opts ...Option) *Loop {
	l := &Loop{
		planner:       planner,
		executor:      executor,
		mode:          ModeAutonomous,
		maxIterations: DefaultMaxIterations,
		pollInterval:  DefaultPollInterval,
		eventBuffer:   DefaultEventBuffer,
		logger:        zerolog.Nop(),
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.gate == nil {
		l.gate = reflection.NewGate(nil)
	}
	if l.governor == nil {
		l.governor = cost.NewGovernor()
	}
	if l.memory == nil {
		l.memory = memory.NewCompressor()
	}
	if l.checkpoints == nil {
		l.checkpoints = checkpoint.NewStore()
	}
	if l.interrupts == nil {
		l.interrupts = interrupt.NewChannel()
	}
	if l.human == nil {
		l.human = NewSignalHuman(l.interrupts, l.pollInterval, l.logger)
		l.signalHuman = true
	}
	l.events = newEmitter(l.eventBuffer)
	return l
}

// Events returns the event stream. It is closed by Close.
func (l *Loop) Events() <-chan Event { return l.events.events }

// DroppedEvents returns how many events did not fit the buffer.
func (l *Loop) DroppedEvents() uint64 { return l.events.dropped.Load() }

// Close closes the event stream.
func (l *Loop) Close() { l.events.close() }

// Interrupts returns the interrupt channel.
func (l *Loop) Interrupts() *interrupt.Channel { return l.interrupts }

// Gate returns the reflection gate.
func (l *Loop) Gate() *reflection.Gate { return l.gate }

// Governor returns the cost governor.
func (l *Loop) Governor() *cost.Governor { return l.governor }

// Checkpoints returns the checkpoint store.
func (l *Loop) Checkpoints() *checkpoint.Store { return l.checkpoints }

// Status is a point-in-time view of the loop.
type Status struct {
	State     State  `json:"state"`
	Iteration int    `json:"iteration"`
	Goal      string `json:"goal"`
	Paused    bool   `json:"paused"`
	Running   bool   `json:"running"`
	Mode      Mode   `json:"mode"`
}

// Status returns the current loop status.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:     l.state,
		Iteration: l.iteration,
		Goal:      l.goal,
		Paused:    l.paused,
		Running:   l.running,
		Mode:      l.mode,
	}
}

// Rollback soft-resets the iteration counter and state tag to checkpoint
// index (0 is the oldest retained). Nothing else is restored.
func (l *Loop) Rollback(index int) (checkpoint.Checkpoint, error) {
	cp, err := l.checkpoints.Rollback(index)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	l.resetTo(cp)
	return cp, nil
}

func (l *Loop) resetTo(cp checkpoint.Checkpoint) {
	l.mu.Lock()
	l.iteration = cp.Iteration
	l.state = State(cp.State)
	l.mu.Unlock()

	l.logger.Info().Int("iteration", cp.Iteration).Str("state", cp.State).Msg("soft reset to checkpoint")
	l.emit(EventRollback, "", fmt.Sprintf("reset to iteration %d", cp.Iteration))
}

// Run drives the loop until the planner completes, a Stop signal is
// honored, the step cap is reached, the context ends, or an error is not
// continued past. The step counter behind the cap is never reset, so the
// loop always terminates. The returned error is Result.Err.
func (l *Loop) Run(ctx context.Context, request string, interruptsEnabled bool) (*Result, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	l.running = true
	l.listening = interruptsEnabled
	l.goal = request
	l.iteration = 0
	l.paused = false
	l.stopped = false
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	res := &Result{Rejections: []Rejection{}}
	l.memory.Add(memory.RoleUser, request)
	l.logger.Info().Str("mode", string(l.mode)).Int("max_iterations", l.maxIterations).Msg("run started")

	steps := 0
	for {
		if ctx.Err() != nil {
			return l.finish(res, steps, StopCancelled, StateStopped, ctx.Err())
		}

		// Boundary: every queued signal is applied before the next step.
		if interruptsEnabled {
			l.applySignals()
			if l.isPaused() && !l.isStopped() {
				l.waitWhilePaused(ctx)
			}
			if l.isStopped() {
				return l.finish(res, steps, StopStopped, StateStopped, nil)
			}
			if ctx.Err() != nil {
				return l.finish(res, steps, StopCancelled, StateStopped, ctx.Err())
			}
		}

		if steps >= l.maxIterations {
			l.logger.Warn().Int("steps", steps).Msg("iteration cap reached")
			return l.finish(res, steps, StopMaxIterations, StateStopped, nil)
		}
		steps++
		l.mu.Lock()
		l.iteration++
		l.mu.Unlock()

		done, err := l.step(ctx, steps, res)
		if err == nil && done {
			return l.finish(res, steps, StopComplete, StateCompleted, nil)
		}
		if err == nil {
			continue
		}

		l.setState(StateError)
		l.logger.Error().Err(err).Int("step", steps).Msg("step failed")
		l.memory.Add(memory.RoleObservation, "Error: "+err.Error())

		if ctx.Err() != nil {
			return l.finish(res, steps, StopCancelled, StateStopped, ctx.Err())
		}
		if l.mode == ModeAutonomous {
			return l.finish(res, steps, StopError, StateError, err)
		}

		ok, herr := l.ask(ctx, fmt.Sprintf("Step %d failed: %v. Continue?", steps, err))
		if herr != nil {
			return l.finish(res, steps, StopCancelled, StateError, herr)
		}
		if !ok {
			return l.finish(res, steps, StopDeclined, StateError, err)
		}
		if cp, ok := l.checkpoints.Latest(); ok {
			l.resetTo(cp)
		}
	}
}

func (l *Loop) finish(res *Result, steps int, reason StopReason, state State, err error) (*Result, error) {
	l.setState(state)

	l.mu.Lock()
	res.State = state
	res.StopReason = reason
	res.Iterations = l.iteration
	res.Goal = l.goal
	l.mu.Unlock()
	res.Steps = steps
	res.Err = err

	ev := l.logger.Info()
	if err != nil {
		ev = l.logger.Warn().Err(err)
	}
	ev.Str("reason", string(reason)).Int("steps", steps).Msg("run finished")
	l.emit(EventFinished, "", string(reason))
	return res, err
}

// step runs one iteration. It reports done when the planner completes.
func (l *Loop) step(ctx context.Context, steps int, res *Result) (bool, error) {
	l.setState(StateAnalyzing)
	view := l.view(steps)

	l.setState(StateThinking)
	thought, err := l.planner.Think(ctx, view)
	if err != nil {
		return false, fmt.Errorf("think: %w", err)
	}
	if thought.Reasoning != "" {
		l.memory.Add(memory.RoleAssistant, thought.Reasoning)
	}
	if thought.Done {
		res.Answer = thought.Answer
		return true, nil
	}

	l.setState(StateSelectingTool)
	call, err := l.planner.SelectTool(ctx, view, thought)
	if err != nil {
		return false, fmt.Errorf("select tool: %w", err)
	}

	// Admission precedes validation.
	var rec *cost.Recommendation
	if call.Prompt != "" {
		adm, err := l.governor.Admit(ctx, cost.AdmitRequest{
			Prompt:     call.Prompt,
			Complexity: call.Complexity,
			Provider:   call.Provider,
			Params:     call.Params,
		})
		if err != nil {
			return false, fmt.Errorf("admit: %w", err)
		}
		rec = &adm.Recommendation
		call.Provider, call.Model = rec.Provider, rec.Model
	}

	activity, err := l.gate.Before(call.Agent, call.Type, call.Description, call.Inputs, call.ExpectedOutputs)
	if errors.Is(err, reflection.ErrRejected) {
		l.reject(res, activity, activity.Errors)
		l.observe()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate: %w", err)
	}

	proceed, err := l.confirmActivity(ctx, activity)
	if err != nil {
		return false, err
	}
	if !proceed {
		l.gate.Withdraw(activity.ID)
		reasons := append([]string{"not confirmed for execution"}, activity.Warnings...)
		l.reject(res, activity, reasons)
		l.observe()
		return false, nil
	}

	l.setState(StateExecuting)
	outputs, fromCache := l.cachedOutputs(rec)
	if rec != nil && rec.Cached && !fromCache {
		// Admitted as free but about to run for real.
		if err := l.governor.CheckBudget(); err != nil {
			l.gate.Withdraw(activity.ID)
			if _, aerr := l.gate.After(activity.ID, nil, false, err.Error()); aerr != nil {
				l.logger.Warn().Err(aerr).Msg("record budget failure")
			}
			return false, fmt.Errorf("admit: %w", err)
		}
	}
	var execErr error
	if !fromCache {
		outputs, execErr = l.executor.Execute(ctx, call)
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	done, err := l.gate.After(activity.ID, outputs, execErr == nil, errMsg)
	if err != nil {
		return false, fmt.Errorf("verify: %w", err)
	}

	l.setState(StateObserving)
	if rec != nil {
		l.recordCost(call, rec, outputs, fromCache, execErr == nil)
	}
	if call.Release && activity.ResourceID != "" {
		l.gate.Release(call.Agent, activity.ResourceID)
	}
	if execErr != nil {
		return false, fmt.Errorf("%w: %v", ErrExecutionFailure, execErr)
	}

	l.memory.Add(memory.RoleObservation, describeOutcome(done, outputs, fromCache))
	l.emit(EventExecuted, done.ID, done.Description)
	l.observe()
	return false, nil
}

// confirmActivity decides whether a validated activity may run.
func (l *Loop) confirmActivity(ctx context.Context, a *models.Activity) (bool, error) {
	review := a.Status == models.StatusRequiresReview
	caveats := a.Status == models.StatusWarning && l.mode == ModeCollaborative
	if !review && !caveats {
		return true, nil
	}
	if review && l.mode == ModeAutonomous {
		l.logger.Warn().Str("activity", a.ID).Msg("review required in autonomous mode, skipping")
		return false, nil
	}

	q := fmt.Sprintf("%s by %s (%s) is %s: %s. Proceed?",
		a.Type, a.Agent, a.Description, a.Status, strings.Join(a.Warnings, "; "))
	ok, err := l.ask(ctx, q)
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}

// ask puts a question to the human. Without interrupts nothing can answer
// the channel-backed human, so the answer is no.
func (l *Loop) ask(ctx context.Context, question string) (bool, error) {
	l.mu.Lock()
	listening := l.listening
	l.mu.Unlock()

	if l.signalHuman && !listening {
		l.logger.Warn().Str("question", question).Msg("interrupts disabled, declining")
		return false, nil
	}
	return l.human.Confirm(ctx, question)
}

func (l *Loop) reject(res *Result, a *models.Activity, reasons []string) {
	res.Rejections = append(res.Rejections, Rejection{
		ActivityID: a.ID,
		Agent:      a.Agent,
		Type:       a.Type,
		Reasons:    append([]string{}, reasons...),
	})
	msg := fmt.Sprintf("Rejected %s by %s: %s", a.Type, a.Agent, strings.Join(reasons, "; "))
	l.memory.Add(memory.RoleObservation, msg)
	l.emit(EventRejected, a.ID, msg)
}

// cachedOutputs returns the cached response for an admitted call.
func (l *Loop) cachedOutputs(rec *cost.Recommendation) (map[string]any, bool) {
	if rec == nil || !rec.Cached {
		return nil, false
	}
	var outputs map[string]any
	if err := json.Unmarshal(rec.Payload, &outputs); err != nil {
		l.logger.Warn().Err(err).Msg("undecodable cached response, executing instead")
		return nil, false
	}
	return outputs, true
}

// Output keys an executor may set to report measured token usage.
const (
	OutputInputTokens  = "input_tokens"
	OutputOutputTokens = "output_tokens"
)

func (l *Loop) recordCost(call ToolCall, rec *cost.Recommendation, outputs map[string]any, fromCache, success bool) {
	in, out := rec.InputTokens, rec.OutputTokens
	if n, ok := tokenCount(outputs[OutputInputTokens]); ok {
		in = n
	}
	if n, ok := tokenCount(outputs[OutputOutputTokens]); ok {
		out = n
	}

	status := l.governor.Record(cost.CallInput{
		Provider:     rec.Provider,
		Model:        rec.Model,
		Operation:    call.Operation,
		InputTokens:  in,
		OutputTokens: out,
		Complexity:   call.Complexity,
		Cached:       fromCache,
	})
	if status.Exceeded() {
		l.emit(EventBudgetExceeded, "", fmt.Sprintf("daily $%.4f weekly $%.4f", status.DailySpend, status.WeeklySpend))
	}

	if success && !fromCache {
		payload, err := json.Marshal(outputs)
		if err == nil {
			err = l.governor.StoreResponse(call.Prompt, rec.Provider, rec.Model, call.Params, payload)
		}
		if err != nil {
			l.logger.Warn().Err(err).Msg("cache response")
		}
	}
}

func tokenCount(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// observe runs the end-of-iteration bookkeeping: compaction and checkpoint.
func (l *Loop) observe() {
	if c, ok := l.memory.MaybeCompress(); ok {
		l.emit(EventCompacted, "", fmt.Sprintf("%d -> %d chars, %d entries folded", c.Before, c.After, c.Removed))
	}

	l.mu.Lock()
	iter, state := l.iteration, l.state
	l.mu.Unlock()

	if cp, ok := l.checkpoints.MaybeSnapshot(iter, string(state), l.memory.Summary(summaryLength)); ok {
		l.emit(EventCheckpoint, "", fmt.Sprintf("iteration %d", cp.Iteration))
	}
}

func (l *Loop) view(steps int) View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return View{
		Request:   firstUserEntry(l.memory.Entries()),
		Goal:      l.goal,
		Iteration: l.iteration,
		Step:      steps,
		Entries:   l.memory.Entries(),
	}
}

func firstUserEntry(entries []memory.Entry) string {
	for _, e := range entries {
		if e.Role == memory.RoleUser {
			return e.Content
		}
	}
	return ""
}

// applySignals drains the channel and applies every signal in order.
func (l *Loop) applySignals() {
	for _, s := range l.interrupts.Drain() {
		l.mu.Lock()
		switch s.Type {
		case interrupt.SignalPause:
			l.paused = true
		case interrupt.SignalContinue:
			l.paused = false
		case interrupt.SignalStop:
			l.stopped = true
		case interrupt.SignalModifyGoal:
			l.goal = s.Text
		}
		l.mu.Unlock()

		switch s.Type {
		case interrupt.SignalModifyGoal:
			l.memory.Add(memory.RoleSystem, "Goal updated: "+s.Text)
		case interrupt.SignalAddContext:
			l.memory.Add(memory.RoleUser, "Additional context: "+s.Text)
		case interrupt.SignalFeedback:
			l.memory.Add(memory.RoleUser, "Feedback: "+s.Text)
		}

		l.logger.Info().Str("signal", string(s.Type)).Str("text", s.Text).Msg("signal applied")
		l.emit(EventSignalApplied, "", s.String())
	}
}

// waitWhilePaused polls the channel until Continue, Stop, or ctx ends.
func (l *Loop) waitWhilePaused(ctx context.Context) {
	l.setState(StatePaused)
	for l.isPaused() && !l.isStopped() {
		if ctx.Err() != nil {
			return
		}
		l.interrupts.Wait(ctx, l.pollInterval)
		l.applySignals()
	}
}

func (l *Loop) isPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	iter := l.iteration
	l.mu.Unlock()

	if prev != s {
		l.logger.Debug().Str("from", string(prev)).Str("to", string(s)).Int("iteration", iter).Msg("state")
		l.emit(EventStateChanged, "", string(s))
	}
}

func (l *Loop) emit(t EventType, activityID, msg string) {
	l.mu.Lock()
	state, iter := l.state, l.iteration
	l.mu.Unlock()

	l.events.emit(Event{
		Type:       t,
		State:      state,
		Iteration:  iter,
		ActivityID: activityID,
		Message:    msg,
		Timestamp:  time.Now(),
	})
}

func describeOutcome(a *models.Activity, outputs map[string]any, fromCache bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s by %s succeeded", a.Type, a.Agent)
	if fromCache {
		b.WriteString(" (cached)")
	}
	if len(outputs) > 0 {
		keys := make([]string, 0, len(outputs))
		for k := range outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, outputs[k]))
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if len(a.Warnings) > 0 {
		fmt.Fprintf(&b, " [warnings: %s]", strings.Join(a.Warnings, "; "))
	}
	return b.String()
}
