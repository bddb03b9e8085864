package pipeline

import "fmt"

// KindSpec describes a node kind: its display label, fixed ports and the
// config a freshly created node starts with.
type KindSpec struct {
	Kind          NodeKind
	Label         string
	Inputs        []Port
	Outputs       []Port
	DefaultConfig func() NodeConfig
}

// Default template ids for the analysis kinds.
const (
	TemplateSTRIDE  = "stride-core"
	TemplateSTPASec = "stpa-sec-core"
)

var kindOrder = []NodeKind{
	KindInputDiagram,
	KindInputText,
	KindAnalysisStride,
	KindAnalysisSTPASec,
	KindOutputResults,
}

var analysisInputs = []Port{
	{Name: string(PortDiagram), Type: PortDiagram},
	{Name: string(PortText), Type: PortText},
}

var findingsOutput = []Port{{Name: string(PortFindings), Type: PortFindings}}

var kindSpecs = map[NodeKind]KindSpec{
	KindInputDiagram: {
		Kind:    KindInputDiagram,
		Label:   "Architecture Diagram",
		Outputs: []Port{{Name: string(PortDiagram), Type: PortDiagram}},
		DefaultConfig: func() NodeConfig {
			return NodeConfig{Diagram: &DiagramConfig{UploadStatus: UploadNone}}
		},
	},
	KindInputText: {
		Kind:    KindInputText,
		Label:   "System Description",
		Outputs: []Port{{Name: string(PortText), Type: PortText}},
		DefaultConfig: func() NodeConfig {
			return NodeConfig{Text: &TextConfig{}}
		},
	},
	KindAnalysisStride: {
		Kind:    KindAnalysisStride,
		Label:   "STRIDE Analysis",
		Inputs:  analysisInputs,
		Outputs: findingsOutput,
		DefaultConfig: func() NodeConfig {
			return NodeConfig{Analysis: &AnalysisConfig{PromptTemplate: TemplateSTRIDE, Temperature: 0.7}}
		},
	},
	KindAnalysisSTPASec: {
		Kind:    KindAnalysisSTPASec,
		Label:   "STPA-Sec Analysis",
		Inputs:  analysisInputs,
		Outputs: findingsOutput,
		DefaultConfig: func() NodeConfig {
			return NodeConfig{Analysis: &AnalysisConfig{PromptTemplate: TemplateSTPASec, Temperature: 0.7}}
		},
	},
	KindOutputResults: {
		Kind:   KindOutputResults,
		Label:  "Results",
		Inputs: []Port{{Name: string(PortFindings), Type: PortFindings}},
		DefaultConfig: func() NodeConfig {
			return NodeConfig{Output: &OutputConfig{Title: "Results"}}
		},
	},
}

// LookupKind returns the KindSpec for kind.
func LookupKind(kind NodeKind) (KindSpec, bool) {
	s, ok := kindSpecs[kind]
	return s, ok
}

// Kinds returns every known node kind in library order.
func Kinds() []NodeKind {
	return append([]NodeKind(nil), kindOrder...)
}

// NewNode instantiates a node of kind with its default config and ports.
func NewNode(id string, kind NodeKind, pos Point) (Node, error) {
	spec, ok := LookupKind(kind)
	if !ok {
		return Node{}, fmt.Errorf("unknown node kind %q", kind)
	}
	n := Node{
		ID:       id,
		Kind:     kind,
		Label:    spec.Label,
		Position: pos,
		Config:   spec.DefaultConfig(),
		Inputs:   append([]Port(nil), spec.Inputs...),
		Outputs:  append([]Port(nil), spec.Outputs...),
	}
	return n, nil
}
