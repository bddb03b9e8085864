package handlers

import (
	"fmt"

	"github.com/AISecurityAssurance/cortex-arema/pkg/findings"
	"github.com/AISecurityAssurance/cortex-arema/pkg/inference"
	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
	"github.com/AISecurityAssurance/cortex-arema/pkg/templates"
)

// Registry maps node kinds to Handler implementations.
// It implements the pipeline.HandlerRegistry interface.
type Registry struct {
	handlers map[pipeline.NodeKind]pipeline.Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[pipeline.NodeKind]pipeline.Handler)}
}

// Register associates a handler with a node kind.
func (r *Registry) Register(kind pipeline.NodeKind, h pipeline.Handler) {
	r.handlers[kind] = h
}

// Get returns the handler for a node kind, or an error if not registered.
func (r *Registry) Get(kind pipeline.NodeKind) (pipeline.Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for node kind %q", kind)
	}
	return h, nil
}

// Config holds the collaborators the built-in handlers need.
type Config struct {
	Templates templates.Store
	Invoker   inference.Invoker
	// DefaultModel is used by analysis nodes that name no model.
	DefaultModel string
	// Extractor defaults to findings.Extract.
	Extractor findings.Extractor
}

// Default returns a registry with a handler for every node kind.
func Default(cfg Config) *Registry {
	analysis := &AnalysisHandler{
		Templates:    cfg.Templates,
		Invoker:      cfg.Invoker,
		DefaultModel: cfg.DefaultModel,
		Extractor:    cfg.Extractor,
	}
	reg := NewRegistry()
	reg.Register(pipeline.KindInputDiagram, &DiagramHandler{})
	reg.Register(pipeline.KindInputText, &TextHandler{})
	reg.Register(pipeline.KindAnalysisStride, analysis)
	reg.Register(pipeline.KindAnalysisSTPASec, analysis)
	reg.Register(pipeline.KindOutputResults, &OutputHandler{})
	return reg
}
