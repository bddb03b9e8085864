package pipeline

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"time"
)

// RunStatus is the aggregate status of a pipeline run.
type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunValidating RunStatus = "validating"
	RunRunning    RunStatus = "running"
	RunComplete   RunStatus = "complete"
	RunError      RunStatus = "error"
)

// NodeStatus is the status of one node within a run.
type NodeStatus string

const (
	NodeIdle     NodeStatus = "idle"
	NodeWaiting  NodeStatus = "waiting"
	NodeRunning  NodeStatus = "running"
	NodeComplete NodeStatus = "complete"
	NodeError    NodeStatus = "error"
)

// NodeExecutionState records how one node fared during a run.
type NodeExecutionState struct {
	NodeID    string        `json:"nodeId"`
	Status    NodeStatus    `json:"status"`
	StartTime time.Time     `json:"startTime,omitzero"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	Results   any           `json:"results,omitempty"`
}

// ExecutionState is the transient state of a single run. It is never part
// of the undo history.
type ExecutionState struct {
	RunID         string                        `json:"runId,omitempty"`
	Status        RunStatus                     `json:"status"`
	NodeStates    map[string]NodeExecutionState `json:"nodeStates"`
	Order         []string                      `json:"order,omitempty"`
	StartTime     time.Time                     `json:"startTime,omitzero"`
	EndTime       time.Time                     `json:"endTime,omitzero"`
	TotalProgress float64                       `json:"totalProgress"`
	CurrentNodeID string                        `json:"currentNodeId,omitempty"`
	Error         string                        `json:"error,omitempty"`
}

// IdleState returns an idle state with every node of s idle.
func IdleState(s Snapshot) ExecutionState {
	st := ExecutionState{
		Status:     RunIdle,
		NodeStates: make(map[string]NodeExecutionState, len(s.Nodes)),
	}
	for _, n := range s.Nodes {
		st.NodeStates[n.ID] = NodeExecutionState{NodeID: n.ID, Status: NodeIdle}
	}
	return st
}

// Clone returns a copy of st whose node map and order can be changed
// independently. Result values are shared.
func (st ExecutionState) Clone() ExecutionState {
	st.NodeStates = maps.Clone(st.NodeStates)
	if st.Order != nil {
		st.Order = append([]string(nil), st.Order...)
	}
	return st
}

// Node returns the state of node id.
func (st ExecutionState) Node(id string) NodeExecutionState {
	if ns, ok := st.NodeStates[id]; ok {
		return ns
	}
	return NodeExecutionState{NodeID: id, Status: NodeIdle}
}

// Duration is the wall time of the run, or zero if it has not ended.
func (st ExecutionState) Duration() time.Duration {
	if st.StartTime.IsZero() || st.EndTime.IsZero() {
		return 0
	}
	return st.EndTime.Sub(st.StartTime)
}

// Report is the JSON-serialisable record of a finished run.
type Report struct {
	Pipeline Snapshot       `json:"pipeline"`
	State    ExecutionState `json:"state"`
}

// SaveReport persists the graph and the final state of a run to a JSON file.
func SaveReport(path string, s Snapshot, st ExecutionState) error {
	data, err := json.MarshalIndent(Report{Pipeline: s, State: st}, "", "  ")
	if err != nil {
		return fmt.Errorf("report marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("report write: %w", err)
	}
	return nil
}

// LoadReport reads a report written by SaveReport. Node results come back
// as generic JSON values.
func LoadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("report read: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("report unmarshal: %w", err)
	}
	return r, nil
}
