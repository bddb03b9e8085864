package pipeline

import (
	"fmt"
	"strings"
)

// IssueType is the machine-readable tag of a structural problem.
type IssueType string

const (
	IssueMissingConnection  IssueType = "missing_connection"
	IssueInvalidConnection  IssueType = "invalid_connection"
	IssueMissingConfig      IssueType = "missing_config"
	IssueCircularDependency IssueType = "circular_dependency"
)

// ValidationIssue describes a structural problem in a pipeline, optionally
// scoped to one node.
type ValidationIssue struct {
	Type    IssueType `json:"type"`
	Message string    `json:"message"`
	NodeID  string    `json:"nodeId,omitempty"`
}

func (e ValidationIssue) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// ValidationResult aggregates everything ValidatePipeline found. Warnings
// never block a run.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether there are no errors.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Err returns nil for a valid result, or an error listing every issue.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return &ValidationError{Result: r, msg: "pipeline validation failed:\n  " + strings.Join(msgs, "\n  ")}
}

// ValidationError wraps a failed ValidationResult.
type ValidationError struct {
	Result ValidationResult
	msg    string
}

func (e *ValidationError) Error() string { return e.msg }

func (r *ValidationResult) addError(t IssueType, nodeID, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationIssue{Type: t, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(t IssueType, nodeID, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationIssue{Type: t, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

// ValidatePipeline checks a graph for structural correctness before a run.
// It reports every problem it finds, not just the first. Cycles are not
// detected here; see Plan.
func ValidatePipeline(nodes []Node, conns []Connection) ValidationResult {
	var res ValidationResult

	if len(nodes) == 0 {
		res.addError(IssueMissingConnection, "", "pipeline is empty")
		return res
	}

	var hasInput, hasAnalysis bool
	for _, n := range nodes {
		hasInput = hasInput || n.Kind.IsInput()
		hasAnalysis = hasAnalysis || n.Kind.IsAnalysis()
	}
	if !hasInput {
		res.addError(IssueMissingConnection, "", "pipeline must contain at least one input node")
	}
	if !hasAnalysis {
		res.addError(IssueMissingConnection, "", "pipeline must contain at least one analysis node")
	}

	// Only valid connections count as inputs; rejected ones are reported
	// but never feed a node.
	validIncoming := make(map[string]int, len(nodes))
	for _, c := range conns {
		if !c.IsValid {
			res.addWarning(IssueInvalidConnection, c.To.NodeID,
				"connection %s -> %s joins incompatible ports", c.From, c.To)
			continue
		}
		validIncoming[c.To.NodeID]++
	}

	for _, n := range nodes {
		switch {
		case n.Kind.IsAnalysis():
			if validIncoming[n.ID] == 0 {
				res.addError(IssueMissingConnection, n.ID, "analysis node %q has no valid input connection", nodeName(n))
			}
			if a := n.Config.Analysis; a == nil || a.PromptTemplate == "" {
				res.addWarning(IssueMissingConfig, n.ID, "analysis node %q has no prompt template", nodeName(n))
			}
		case n.Kind.IsOutput():
			if validIncoming[n.ID] == 0 {
				res.addWarning(IssueMissingConnection, n.ID, "output node %q has no input connection", nodeName(n))
			}
		case n.Kind == KindInputText:
			if t := n.Config.Text; t == nil || strings.TrimSpace(t.SystemName) == "" {
				res.addWarning(IssueMissingConfig, n.ID, "text input %q has no system name", nodeName(n))
			}
		case n.Kind == KindInputDiagram:
			if d := n.Config.Diagram; d == nil || (len(d.Data) == 0 && d.Path == "") {
				res.addWarning(IssueMissingConfig, n.ID, "diagram input %q has no file", nodeName(n))
			}
		}
	}

	return res
}

func nodeName(n Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}
