package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
)

// echoHandler returns the node id, recording the inputs it saw.
type echoHandler struct {
	mu   sync.Mutex
	seen map[string]pipeline.Inputs
}

func (h *echoHandler) Execute(_ context.Context, node pipeline.Node, in pipeline.Inputs) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = map[string]pipeline.Inputs{}
	}
	h.seen[node.ID] = in
	return "out:" + node.ID, nil
}

// stateRecorder collects every published state.
type stateRecorder struct {
	mu     sync.Mutex
	states []pipeline.ExecutionState
}

func (r *stateRecorder) OnState(st pipeline.ExecutionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *stateRecorder) progress() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float64
	for _, st := range r.states {
		if st.Status == pipeline.RunRunning {
			out = append(out, st.TotalProgress)
		}
	}
	return out
}

func allKinds(h pipeline.Handler) pipeline.HandlerMap {
	m := pipeline.HandlerMap{}
	for _, k := range pipeline.Kinds() {
		m[k] = h
	}
	return m
}

func TestNewRunner_NilRegistry(t *testing.T) {
	_, err := pipeline.NewRunner(nil)
	assert.Error(t, err)
}

func TestRunner_LinearComplete(t *testing.T) {
	h := &echoHandler{}
	rec := &stateRecorder{}
	r, err := pipeline.NewRunner(allKinds(h), pipeline.WithObserver(rec))
	require.NoError(t, err)

	st, err := r.Run(context.Background(), linear(t))
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunComplete, st.Status)
	assert.Equal(t, 100.0, st.TotalProgress)
	assert.Equal(t, []string{"A", "B", "C"}, st.Order)
	assert.False(t, st.StartTime.IsZero())
	assert.False(t, st.EndTime.IsZero())
	assert.NotEmpty(t, st.RunID)
	for _, id := range []string{"A", "B", "C"} {
		ns := st.Node(id)
		assert.Equal(t, pipeline.NodeComplete, ns.Status, id)
		assert.Equal(t, "out:"+id, ns.Results)
	}

	// B saw A's result on its text port, as a one-element list.
	require.Len(t, h.seen["B"], 1)
	assert.Equal(t, pipeline.Input{SourceNodeID: "A", SourcePort: "text_data", TargetPort: "text_data", Value: "out:A"}, h.seen["B"][0])
	assert.Empty(t, h.seen["A"])

	assert.InDeltaSlice(t, []float64{0, 100.0 / 6, 100.0 / 3, 50, 200.0 / 3, 500.0 / 6, 100}, rec.progress(), 1e-9)
	assert.Equal(t, st, r.State())
}

func TestRunner_FailFast(t *testing.T) {
	var calls []string
	reg := pipeline.HandlerMap{
		pipeline.KindInputText: pipeline.HandlerFunc(func(_ context.Context, n pipeline.Node, _ pipeline.Inputs) (any, error) {
			calls = append(calls, n.ID)
			return "text", nil
		}),
		pipeline.KindAnalysisStride: pipeline.HandlerFunc(func(_ context.Context, n pipeline.Node, _ pipeline.Inputs) (any, error) {
			calls = append(calls, n.ID)
			return nil, errors.New("inference failed: 502 bad gateway")
		}),
		pipeline.KindOutputResults: pipeline.HandlerFunc(func(_ context.Context, n pipeline.Node, _ pipeline.Inputs) (any, error) {
			calls = append(calls, n.ID)
			return nil, nil
		}),
	}
	r, err := pipeline.NewRunner(reg)
	require.NoError(t, err)

	st, err := r.Run(context.Background(), linear(t))
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B"}, calls)
	assert.Equal(t, pipeline.RunError, st.Status)
	assert.Equal(t, pipeline.NodeComplete, st.Node("A").Status)
	assert.Equal(t, "text", st.Node("A").Results)
	assert.Equal(t, pipeline.NodeError, st.Node("B").Status)
	assert.Equal(t, "inference failed: 502 bad gateway", st.Node("B").Error)
	assert.Equal(t, pipeline.NodeIdle, st.Node("C").Status)
	assert.Equal(t, `node "B": inference failed: 502 bad gateway`, st.Error)
	assert.False(t, st.EndTime.IsZero())
}

func TestRunner_InvalidPipelineRunsNothing(t *testing.T) {
	var called atomic.Int32
	h := pipeline.HandlerFunc(func(context.Context, pipeline.Node, pipeline.Inputs) (any, error) {
		called.Add(1)
		return nil, nil
	})
	r, err := pipeline.NewRunner(allKinds(h))
	require.NoError(t, err)

	s := linear(t)
	s.Connections = s.Connections[1:]
	st, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Equal(t, pipeline.RunError, st.Status)
	assert.Contains(t, st.Error, "no valid input connection")
	assert.Zero(t, called.Load())
	for _, ns := range st.NodeStates {
		assert.Equal(t, pipeline.NodeIdle, ns.Status)
	}
}

func TestRunner_CycleRunsNothing(t *testing.T) {
	var called atomic.Int32
	h := pipeline.HandlerFunc(func(context.Context, pipeline.Node, pipeline.Inputs) (any, error) {
		called.Add(1)
		return nil, nil
	})
	r, err := pipeline.NewRunner(allKinds(h))
	require.NoError(t, err)

	s := linear(t)
	s.Nodes = append(s.Nodes, mustNode(t, "D", pipeline.KindAnalysisSTPASec))
	s.Connections = append(s.Connections,
		pipeline.Connection{ID: "x1", From: ep("B", "findings_data"), To: ep("D", "text_data"), IsValid: true},
		pipeline.Connection{ID: "x2", From: ep("D", "findings_data"), To: ep("B", "diagram_data"), IsValid: true},
	)
	st, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Equal(t, pipeline.RunError, st.Status)
	assert.Contains(t, st.Error, "circular dependency")
	assert.Zero(t, called.Load())
}

func TestRunner_MultipleInputsArriveAsList(t *testing.T) {
	nodes := []pipeline.Node{
		mustNode(t, "d", pipeline.KindInputDiagram),
		mustNode(t, "t", pipeline.KindInputText),
		mustNode(t, "s", pipeline.KindAnalysisStride),
	}
	s := pipeline.Snapshot{Nodes: nodes, Connections: []pipeline.Connection{
		conn("1", "t", "text_data", "s", "text_data", nodes),
		conn("2", "d", "diagram_data", "s", "diagram_data", nodes),
	}}
	h := &echoHandler{}
	r, err := pipeline.NewRunner(allKinds(h))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), s)
	require.NoError(t, err)
	in := h.seen["s"]
	require.Len(t, in, 2)
	assert.Equal(t, []any{"out:t", "out:d"}, in.Values(), "connection order")
	assert.Equal(t, []any{"out:d"}, in.ByPort("diagram_data"))
}

func TestRunner_InvalidConnectionNotDelivered(t *testing.T) {
	nodes := []pipeline.Node{
		mustNode(t, "t", pipeline.KindInputText),
		mustNode(t, "t2", pipeline.KindInputText),
		mustNode(t, "s", pipeline.KindAnalysisStride),
	}
	s := pipeline.Snapshot{Nodes: nodes, Connections: []pipeline.Connection{
		conn("1", "t", "text_data", "s", "text_data", nodes),
		conn("2", "t2", "text_data", "s", "diagram_data", nodes),
	}}
	h := &echoHandler{}
	r, err := pipeline.NewRunner(allKinds(h))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, h.seen["s"], 1)
	assert.Equal(t, "t", h.seen["s"][0].SourceNodeID)
}

func TestRunner_WaitingStatus(t *testing.T) {
	rec := &stateRecorder{}
	r, err := pipeline.NewRunner(allKinds(&echoHandler{}), pipeline.WithObserver(rec), pipeline.WithWaitingStatus())
	require.NoError(t, err)
	_, err = r.Run(context.Background(), linear(t))
	require.NoError(t, err)

	var sawWaiting bool
	for _, st := range rec.states {
		if st.Node("C").Status == pipeline.NodeWaiting {
			sawWaiting = true
		}
	}
	assert.True(t, sawWaiting)
}

func TestRunner_ContextCancelledBetweenNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := allKinds(pipeline.HandlerFunc(func(_ context.Context, n pipeline.Node, _ pipeline.Inputs) (any, error) {
		if n.ID == "A" {
			cancel()
		}
		return n.ID, nil
	}))
	r, err := pipeline.NewRunner(reg)
	require.NoError(t, err)

	st, err := r.Run(ctx, linear(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, pipeline.RunError, st.Status)
	assert.Equal(t, pipeline.NodeComplete, st.Node("A").Status)
	assert.Equal(t, pipeline.NodeIdle, st.Node("B").Status)
}

func TestRunner_CancelResetsToIdle(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var cCalled atomic.Bool
	reg := pipeline.HandlerMap{
		pipeline.KindInputText: pipeline.HandlerFunc(func(context.Context, pipeline.Node, pipeline.Inputs) (any, error) {
			return "text", nil
		}),
		pipeline.KindAnalysisStride: pipeline.HandlerFunc(func(context.Context, pipeline.Node, pipeline.Inputs) (any, error) {
			close(entered)
			<-release
			return "findings", nil
		}),
		pipeline.KindOutputResults: pipeline.HandlerFunc(func(context.Context, pipeline.Node, pipeline.Inputs) (any, error) {
			cCalled.Store(true)
			return nil, nil
		}),
	}
	r, err := pipeline.NewRunner(reg)
	require.NoError(t, err)

	type result struct {
		st  pipeline.ExecutionState
		err error
	}
	snap := linear(t)
	done := make(chan result, 1)
	go func() {
		st, err := r.Run(context.Background(), snap)
		done <- result{st, err}
	}()

	<-entered
	assert.Equal(t, pipeline.RunRunning, r.State().Status)
	r.Cancel()
	st := r.State()
	assert.Equal(t, pipeline.RunIdle, st.Status)
	assert.Zero(t, st.TotalProgress)
	assert.Equal(t, pipeline.NodeIdle, st.Node("B").Status)

	// The in-flight handler is not interrupted; its result is discarded.
	close(release)
	res := <-done
	assert.ErrorIs(t, res.err, pipeline.ErrCanceled)
	assert.Equal(t, pipeline.RunIdle, res.st.Status)
	assert.False(t, cCalled.Load(), "no node starts after cancel")

	// Cancel on an idle runner is a no-op.
	r.Cancel()
	assert.Equal(t, pipeline.RunIdle, r.State().Status)
}

// There is no timeout on node execution: a handler that blocks keeps the run
// in progress until it returns or the caller cancels ctx.
func TestRunner_NoInferenceTimeout(t *testing.T) {
	release := make(chan struct{})
	reg := allKinds(pipeline.HandlerFunc(func(_ context.Context, n pipeline.Node, _ pipeline.Inputs) (any, error) {
		if n.Kind.IsAnalysis() {
			<-release
		}
		return n.ID, nil
	}))
	r, err := pipeline.NewRunner(reg)
	require.NoError(t, err)

	snap := linear(t)
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), snap)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("run finished while the handler was still blocked: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	st := r.State()
	assert.Equal(t, pipeline.RunRunning, st.Status)
	assert.Equal(t, pipeline.NodeRunning, st.Node("B").Status)
	assert.Equal(t, "B", st.CurrentNodeID)
	assert.InDelta(t, 50.0, st.TotalProgress, 1e-9)

	close(release)
	require.NoError(t, <-done)
}

func TestRunner_ParallelLevels(t *testing.T) {
	nodes := []pipeline.Node{
		mustNode(t, "t", pipeline.KindInputText),
		mustNode(t, "s1", pipeline.KindAnalysisStride),
		mustNode(t, "s2", pipeline.KindAnalysisSTPASec),
	}
	s := pipeline.Snapshot{Nodes: nodes, Connections: []pipeline.Connection{
		conn("1", "t", "text_data", "s1", "text_data", nodes),
		conn("2", "t", "text_data", "s2", "text_data", nodes),
	}}

	// Both analysis nodes must be in flight at once for either to finish.
	var barrier sync.WaitGroup
	barrier.Add(2)
	reg := allKinds(pipeline.HandlerFunc(func(_ context.Context, n pipeline.Node, _ pipeline.Inputs) (any, error) {
		if n.Kind.IsAnalysis() {
			barrier.Done()
			barrier.Wait()
		}
		return n.ID, nil
	}))
	r, err := pipeline.NewRunner(reg, pipeline.WithParallel(2))
	require.NoError(t, err)

	st, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunComplete, st.Status)
	assert.Equal(t, "s2", st.Node("s2").Results)
}

func TestRunner_ParallelFailFast(t *testing.T) {
	nodes := []pipeline.Node{
		mustNode(t, "t", pipeline.KindInputText),
		mustNode(t, "s1", pipeline.KindAnalysisStride),
		mustNode(t, "s2", pipeline.KindAnalysisSTPASec),
		mustNode(t, "o", pipeline.KindOutputResults),
	}
	s := pipeline.Snapshot{Nodes: nodes, Connections: []pipeline.Connection{
		conn("1", "t", "text_data", "s1", "text_data", nodes),
		conn("2", "t", "text_data", "s2", "text_data", nodes),
		conn("3", "s2", "findings_data", "o", "findings_data", nodes),
	}}
	reg := allKinds(pipeline.HandlerFunc(func(_ context.Context, n pipeline.Node, _ pipeline.Inputs) (any, error) {
		if n.ID == "s1" {
			return nil, errors.New("boom")
		}
		return n.ID, nil
	}))
	r, err := pipeline.NewRunner(reg, pipeline.WithParallel(4))
	require.NoError(t, err)

	st, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Equal(t, pipeline.RunError, st.Status)
	assert.Equal(t, pipeline.NodeError, st.Node("s1").Status)
	assert.Equal(t, pipeline.NodeIdle, st.Node("o").Status, "later levels never start")
	assert.Contains(t, st.Error, "boom")
}

func TestRunner_MissingHandler(t *testing.T) {
	r, err := pipeline.NewRunner(pipeline.HandlerMap{pipeline.KindInputText: &echoHandler{}})
	require.NoError(t, err)
	st, err := r.Run(context.Background(), linear(t))
	require.Error(t, err)
	assert.Equal(t, pipeline.NodeError, st.Node("B").Status)
	assert.Contains(t, st.Node("B").Error, "no handler registered")
}

func TestRunner_Clock(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ticks atomic.Int64
	clock := func() time.Time { return base.Add(time.Duration(ticks.Add(1)) * time.Second) }
	r, err := pipeline.NewRunner(allKinds(&echoHandler{}), pipeline.WithClock(clock))
	require.NoError(t, err)
	st, err := r.Run(context.Background(), linear(t))
	require.NoError(t, err)
	assert.Equal(t, time.Second, st.Node("A").Duration)
	assert.Positive(t, st.Duration())
}

func TestReport_SaveLoad(t *testing.T) {
	r, err := pipeline.NewRunner(allKinds(&echoHandler{}))
	require.NoError(t, err)
	s := linear(t)
	st, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, pipeline.SaveReport(path, s, st))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	rep, err := pipeline.LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunComplete, rep.State.Status)
	assert.Equal(t, "out:B", rep.State.Node("B").Results)
	assert.Len(t, rep.Pipeline.Nodes, 3)
}
