package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AISecurityAssurance/cortex-arema/internal/logging"
)

// ErrCanceled is returned by Run when Cancel reset the run before it
// finished.
var ErrCanceled = errors.New("pipeline run canceled")

// Observer receives a copy of the execution state after every transition.
// Observers are called synchronously and must not call Run or Cancel.
type Observer interface {
	OnState(st ExecutionState)
}

// ObserverFunc adapts an ordinary function to Observer.
type ObserverFunc func(st ExecutionState)

func (f ObserverFunc) OnState(st ExecutionState) { f(st) }

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver registers o to receive state transitions.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithParallel lets up to n independent nodes of the same dependency level
// run at once. n <= 1 keeps strictly sequential execution. A failure still
// stops the run: no further level starts once any node has failed.
func WithParallel(n int) RunnerOption {
	return func(r *Runner) { r.parallel = n }
}

// WithWaitingStatus marks every planned node waiting when a run starts,
// instead of leaving not-yet-reached nodes idle.
func WithWaitingStatus() RunnerOption {
	return func(r *Runner) { r.waiting = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the logger used for run and node events.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// Runner executes pipeline snapshots using a HandlerRegistry. It holds the
// state of the latest run; one Runner drives one run at a time and callers
// must not start a second Run while one is in progress.
type Runner struct {
	handlerReg HandlerRegistry
	observers  []Observer
	parallel   int
	waiting    bool
	now        func() time.Time
	logger     *slog.Logger

	notifyMu sync.Mutex
	mu       sync.Mutex
	state    ExecutionState
	gen      uint64
	cur      *runProgress
}

// runProgress is the per-run bookkeeping guarded by Runner.mu.
type runProgress struct {
	total     int
	completed int
	running   int
	results   map[string]any
}

// NewRunner creates a Runner. reg must not be nil.
func NewRunner(reg HandlerRegistry, opts ...RunnerOption) (*Runner, error) {
	if reg == nil {
		return nil, fmt.Errorf("handler registry must not be nil")
	}
	r := &Runner{
		handlerReg: reg,
		now:        time.Now,
		logger:     slog.Default(),
		state:      ExecutionState{Status: RunIdle, NodeStates: map[string]NodeExecutionState{}},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// State returns a copy of the current execution state.
func (r *Runner) State() ExecutionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Cancel resets the visible state of an in-progress run to idle. A node
// handler that is already executing is not interrupted; its outcome is
// discarded and no further nodes start. Cancel on an idle runner is a no-op.
func (r *Runner) Cancel() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.state.Status != RunRunning && r.state.Status != RunValidating {
		r.mu.Unlock()
		return
	}
	r.gen++
	r.cur = nil
	reset := ExecutionState{
		RunID:      r.state.RunID,
		Status:     RunIdle,
		NodeStates: make(map[string]NodeExecutionState, len(r.state.NodeStates)),
	}
	for id := range r.state.NodeStates {
		reset.NodeStates[id] = NodeExecutionState{NodeID: id, Status: NodeIdle}
	}
	r.state = reset
	snap := reset.Clone()
	r.mu.Unlock()

	r.logger.Info("pipeline canceled", "run", snap.RunID)
	r.notify(snap)
}

// Run validates and plans s, then executes its nodes in dependency order.
// The first node failure aborts the run. The returned state is the final
// state; the error is non-nil whenever the run did not complete.
func (r *Runner) Run(ctx context.Context, s Snapshot) (ExecutionState, error) {
	s = s.Clone()
	gen, runID := r.begin(s)
	ctx = logging.WithRunID(ctx, runID)

	order, err := Plan(s)
	if err != nil {
		r.failRun(gen, firstIssue(err))
		return r.finish(gen, err)
	}

	now := r.now()
	r.update(gen, func(st *ExecutionState, p *runProgress) {
		st.Status = RunRunning
		st.StartTime = now
		st.Order = order
		p.total = len(order)
		if r.waiting {
			for _, id := range order {
				st.NodeStates[id] = NodeExecutionState{NodeID: id, Status: NodeWaiting}
			}
		}
	})
	r.logger.InfoContext(ctx, "pipeline started", "nodes", len(order), "parallel", r.parallel > 1)

	if r.parallel > 1 {
		err = r.runLevels(ctx, gen, s, Levels(order, s.Connections))
	} else {
		err = r.runSequential(ctx, gen, s, order)
	}
	if err != nil {
		return r.finish(gen, err)
	}

	end := r.now()
	r.update(gen, func(st *ExecutionState, _ *runProgress) {
		st.Status = RunComplete
		st.EndTime = end
		st.TotalProgress = 100
		st.CurrentNodeID = ""
	})
	final, err := r.finish(gen, nil)
	if err == nil {
		r.logger.InfoContext(ctx, "pipeline complete", "duration", final.Duration())
	}
	return final, err
}

func (r *Runner) runSequential(ctx context.Context, gen uint64, s Snapshot, order []string) error {
	for _, id := range order {
		// Respect context cancellation between nodes.
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("pipeline cancelled before node %q: %w", id, err)
			r.failRun(gen, err.Error())
			return err
		}
		if !r.live(gen) {
			return ErrCanceled
		}
		if err := r.execNode(ctx, gen, s, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runLevels(ctx context.Context, gen uint64, s Snapshot, levels [][]string) error {
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("pipeline cancelled before level %v: %w", level, err)
			r.failRun(gen, err.Error())
			return err
		}
		if !r.live(gen) {
			return ErrCanceled
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.parallel)
		for _, id := range level {
			g.Go(func() error {
				// A sibling failed before this node got a slot.
				if gctx.Err() != nil {
					return nil
				}
				return r.execNode(gctx, gen, s, id)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// execNode runs one node: gathers its inputs, invokes its handler and
// records the outcome. A failure is recorded on the node and the run.
func (r *Runner) execNode(ctx context.Context, gen uint64, s Snapshot, id string) error {
	node, ok := s.Node(id)
	if !ok {
		err := fmt.Errorf("node %q not found in pipeline", id)
		r.failRun(gen, err.Error())
		return err
	}

	ctx = logging.WithNodeID(ctx, id)
	start := r.now()
	var inputs Inputs
	live := r.update(gen, func(st *ExecutionState, p *runProgress) {
		st.NodeStates[id] = NodeExecutionState{NodeID: id, Status: NodeRunning, StartTime: start}
		st.CurrentNodeID = id
		p.running++
		st.TotalProgress = p.percent()
		inputs = gatherInputs(s, id, p.results)
	})
	if !live {
		return ErrCanceled
	}

	r.logger.InfoContext(ctx, "executing node", "kind", node.Kind, "inputs", len(inputs))

	result, err := r.invoke(ctx, node, inputs)
	duration := r.now().Sub(start)
	if err != nil {
		// The node keeps the handler's own message; the run error names the node.
		msg := err.Error()
		err = fmt.Errorf("node %q: %w", id, err)
		live = r.update(gen, func(st *ExecutionState, p *runProgress) {
			st.NodeStates[id] = NodeExecutionState{
				NodeID:    id,
				Status:    NodeError,
				StartTime: start,
				Duration:  duration,
				Error:     msg,
			}
			p.running--
			st.TotalProgress = p.percent()
		})
		if !live {
			return ErrCanceled
		}
		r.logger.ErrorContext(ctx, "node failed", "kind", node.Kind, "duration", duration, "err", err)
		r.failRun(gen, err.Error())
		return err
	}

	live = r.update(gen, func(st *ExecutionState, p *runProgress) {
		st.NodeStates[id] = NodeExecutionState{
			NodeID:    id,
			Status:    NodeComplete,
			StartTime: start,
			Duration:  duration,
			Results:   result,
		}
		p.results[id] = result
		p.running--
		p.completed++
		st.TotalProgress = p.percent()
	})
	if !live {
		return ErrCanceled
	}
	r.logger.InfoContext(ctx, "node complete", "duration", duration)
	return nil
}

func (r *Runner) invoke(ctx context.Context, node Node, inputs Inputs) (any, error) {
	h, err := r.handlerReg.Get(node.Kind)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, node.Clone(), inputs)
}

// gatherInputs collects the results of the sources of every valid
// connection into id, in connection order.
func gatherInputs(s Snapshot, id string, results map[string]any) Inputs {
	var in Inputs
	for _, c := range s.Connections {
		if c.To.NodeID != id || !c.IsValid {
			continue
		}
		v, ok := results[c.From.NodeID]
		if !ok {
			continue
		}
		in = append(in, Input{
			SourceNodeID: c.From.NodeID,
			SourcePort:   c.From.Port,
			TargetPort:   c.To.Port,
			Value:        v,
		})
	}
	return in
}

func (p *runProgress) percent() float64 {
	if p.total == 0 {
		return 0
	}
	return (float64(p.completed) + 0.5*float64(p.running)) / float64(p.total) * 100
}

// begin installs a fresh state for s and returns the run's generation and
// id.
func (r *Runner) begin(s Snapshot) (uint64, string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.cur = &runProgress{results: make(map[string]any, len(s.Nodes))}
	st := IdleState(s)
	st.RunID = uuid.NewString()
	st.Status = RunValidating
	r.state = st
	snap := st.Clone()
	r.mu.Unlock()

	r.notify(snap)
	return gen, snap.RunID
}

// update applies fn to the state of run gen and publishes the result. It
// reports false, without applying fn, when the run has been canceled or
// superseded.
func (r *Runner) update(gen uint64, fn func(st *ExecutionState, p *runProgress)) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.gen != gen || r.cur == nil {
		r.mu.Unlock()
		return false
	}
	fn(&r.state, r.cur)
	snap := r.state.Clone()
	r.mu.Unlock()

	r.notify(snap)
	return true
}

// failRun moves run gen to error unless it already failed; the first
// failure message is kept.
func (r *Runner) failRun(gen uint64, msg string) {
	end := r.now()
	r.update(gen, func(st *ExecutionState, _ *runProgress) {
		if st.Status == RunError {
			return
		}
		st.Status = RunError
		st.Error = msg
		st.EndTime = end
	})
}

func (r *Runner) live(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen && r.cur != nil
}

// finish returns the final state of run gen, converting a superseded run
// into ErrCanceled.
func (r *Runner) finish(gen uint64, err error) (ExecutionState, error) {
	if !r.live(gen) {
		return r.State(), ErrCanceled
	}
	return r.State(), err
}

func (r *Runner) notify(st ExecutionState) {
	for _, o := range r.observers {
		o.OnState(st)
	}
}

func firstIssue(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) && len(ve.Result.Errors) > 0 {
		return ve.Result.Errors[0].Message
	}
	return err.Error()
}
