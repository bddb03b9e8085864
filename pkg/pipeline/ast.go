package pipeline

import (
	"slices"
	"strings"
)

// NodeKind identifies the kind of work a node performs.
type NodeKind string

const (
	KindInputDiagram    NodeKind = "input-diagram"
	KindInputText       NodeKind = "input-text"
	KindAnalysisStride  NodeKind = "analysis-stride"
	KindAnalysisSTPASec NodeKind = "analysis-stpa-sec"
	KindOutputResults   NodeKind = "output-results"
)

// Category is the leading segment of the kind ("input", "analysis", "output").
func (k NodeKind) Category() string {
	c, _, _ := strings.Cut(string(k), "-")
	return c
}

func (k NodeKind) IsInput() bool    { return k.Category() == "input" }
func (k NodeKind) IsAnalysis() bool { return k.Category() == "analysis" }
func (k NodeKind) IsOutput() bool   { return k.Category() == "output" }

// PortType tags the data flowing through a port.
type PortType string

const (
	PortDiagram  PortType = "diagram_data"
	PortText     PortType = "text_data"
	PortFindings PortType = "findings_data"
)

// Port is a named, typed connection point on a node.
type Port struct {
	Name string   `json:"name" yaml:"name"`
	Type PortType `json:"type" yaml:"type"`
}

// Point is a canvas position. It never affects execution.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Add returns p offset by d.
func (p Point) Add(d Point) Point { return Point{X: p.X + d.X, Y: p.Y + d.Y} }

// UploadStatus tracks the diagram file attached to an input-diagram node.
type UploadStatus string

const (
	UploadNone      UploadStatus = "none"
	UploadUploading UploadStatus = "uploading"
	UploadComplete  UploadStatus = "uploaded"
	UploadFailed    UploadStatus = "error"
)

// DiagramConfig configures an input-diagram node. Either Data or Path
// supplies the file; Data wins when both are set.
type DiagramConfig struct {
	FileName     string       `json:"fileName,omitempty" yaml:"fileName,omitempty"`
	MIMEType     string       `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	Data         []byte       `json:"data,omitempty" yaml:"-"`
	Path         string       `json:"path,omitempty" yaml:"path,omitempty"`
	UploadStatus UploadStatus `json:"uploadStatus,omitempty" yaml:"uploadStatus,omitempty"`
}

// TextConfig configures an input-text node.
type TextConfig struct {
	SystemName        string `json:"systemName,omitempty" yaml:"systemName,omitempty"`
	SystemDescription string `json:"systemDescription,omitempty" yaml:"systemDescription,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty" yaml:"additionalContext,omitempty"`
}

// AnalysisConfig configures the analysis-* nodes.
type AnalysisConfig struct {
	ModelID           string  `json:"modelId,omitempty" yaml:"modelId,omitempty"`
	Temperature       float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	PromptTemplate    string  `json:"promptTemplate,omitempty" yaml:"promptTemplate,omitempty"`
	SystemDescription string  `json:"systemDescription,omitempty" yaml:"systemDescription,omitempty"`
	MaxTokens         int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// OutputConfig configures an output-results node.
type OutputConfig struct {
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
}

// NodeConfig is the kind-specific payload of a node. Exactly one field is
// expected to be set, matching the node's kind.
type NodeConfig struct {
	Diagram  *DiagramConfig  `json:"diagram,omitempty" yaml:"diagram,omitempty"`
	Text     *TextConfig     `json:"text,omitempty" yaml:"text,omitempty"`
	Analysis *AnalysisConfig `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Output   *OutputConfig   `json:"output,omitempty" yaml:"output,omitempty"`
}

// Clone returns a deep copy of c.
func (c NodeConfig) Clone() NodeConfig {
	var out NodeConfig
	if c.Diagram != nil {
		d := *c.Diagram
		d.Data = slices.Clone(c.Diagram.Data)
		out.Diagram = &d
	}
	if c.Text != nil {
		t := *c.Text
		out.Text = &t
	}
	if c.Analysis != nil {
		a := *c.Analysis
		out.Analysis = &a
	}
	if c.Output != nil {
		o := *c.Output
		out.Output = &o
	}
	return out
}

// merge overlays every non-nil section of patch onto c.
func (c NodeConfig) merge(patch NodeConfig) NodeConfig {
	out := c.Clone()
	p := patch.Clone()
	if p.Diagram != nil {
		out.Diagram = p.Diagram
	}
	if p.Text != nil {
		out.Text = p.Text
	}
	if p.Analysis != nil {
		out.Analysis = p.Analysis
	}
	if p.Output != nil {
		out.Output = p.Output
	}
	return out
}

// overlay lays the non-zero fields of patch over c, section by section,
// so a document that sets one field keeps the kind defaults for the rest.
// A zero value in patch cannot clear a default.
func (c NodeConfig) overlay(patch NodeConfig) NodeConfig {
	out := c.Clone()
	p := patch.Clone()
	if d := p.Diagram; d != nil {
		if out.Diagram == nil {
			out.Diagram = &DiagramConfig{}
		}
		setIf(&out.Diagram.FileName, d.FileName)
		setIf(&out.Diagram.MIMEType, d.MIMEType)
		setIf(&out.Diagram.Path, d.Path)
		setIf(&out.Diagram.UploadStatus, d.UploadStatus)
		if len(d.Data) > 0 {
			out.Diagram.Data = d.Data
		}
	}
	if t := p.Text; t != nil {
		if out.Text == nil {
			out.Text = &TextConfig{}
		}
		setIf(&out.Text.SystemName, t.SystemName)
		setIf(&out.Text.SystemDescription, t.SystemDescription)
		setIf(&out.Text.AdditionalContext, t.AdditionalContext)
	}
	if a := p.Analysis; a != nil {
		if out.Analysis == nil {
			out.Analysis = &AnalysisConfig{}
		}
		setIf(&out.Analysis.ModelID, a.ModelID)
		setIf(&out.Analysis.Temperature, a.Temperature)
		setIf(&out.Analysis.PromptTemplate, a.PromptTemplate)
		setIf(&out.Analysis.SystemDescription, a.SystemDescription)
		setIf(&out.Analysis.MaxTokens, a.MaxTokens)
	}
	if o := p.Output; o != nil {
		if out.Output == nil {
			out.Output = &OutputConfig{}
		}
		setIf(&out.Output.Title, o.Title)
	}
	return out
}

func setIf[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// Node represents a single vertex in the pipeline graph.
type Node struct {
	ID       string     `json:"id" yaml:"id"`
	Kind     NodeKind   `json:"kind" yaml:"kind"`
	Label    string     `json:"label,omitempty" yaml:"label,omitempty"`
	Position Point      `json:"position" yaml:"position"`
	Config   NodeConfig `json:"config" yaml:"config"`
	Inputs   []Port     `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs  []Port     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	n.Config = n.Config.Clone()
	n.Inputs = slices.Clone(n.Inputs)
	n.Outputs = slices.Clone(n.Outputs)
	return n
}

// InputPort returns the input port with the given name.
func (n Node) InputPort(name string) (Port, bool) { return findPort(n.Inputs, name) }

// OutputPort returns the output port with the given name.
func (n Node) OutputPort(name string) (Port, bool) { return findPort(n.Outputs, name) }

func findPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Endpoint names one port on one node.
type Endpoint struct {
	NodeID string `json:"nodeId" yaml:"nodeId"`
	Port   string `json:"port" yaml:"port"`
}

func (e Endpoint) String() string { return e.NodeID + "." + e.Port }

// Connection is a directed edge from an output port to an input port.
type Connection struct {
	ID      string   `json:"id" yaml:"id"`
	From    Endpoint `json:"from" yaml:"from"`
	To      Endpoint `json:"to" yaml:"to"`
	IsValid bool     `json:"isValid" yaml:"isValid"`
}

// Snapshot is the unit of undo/redo: the full graph at one point in time.
// Every connection endpoint references a node present in Nodes.
type Snapshot struct {
	Nodes       []Node       `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" yaml:"connections"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Nodes:       make([]Node, len(s.Nodes)),
		Connections: slices.Clone(s.Connections),
	}
	for i, n := range s.Nodes {
		out.Nodes[i] = n.Clone()
	}
	if out.Connections == nil {
		out.Connections = []Connection{}
	}
	return out
}

// Node returns the node with the given id.
func (s Snapshot) Node(id string) (Node, bool) {
	return findNode(s.Nodes, id)
}

// IncomingConnections returns all connections arriving at nodeID, in
// definition order.
func (s Snapshot) IncomingConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range s.Connections {
		if c.To.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// OutgoingConnections returns all connections leaving nodeID, in definition
// order.
func (s Snapshot) OutgoingConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range s.Connections {
		if c.From.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

func findNode(nodes []Node, id string) (Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
