package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AISecurityAssurance/cortex-arema/pkg/findings"
	"github.com/AISecurityAssurance/cortex-arema/pkg/inference"
	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
	"github.com/AISecurityAssurance/cortex-arema/pkg/templates"
)

// AnalysisHandler runs a STRIDE or STPA-Sec analysis: it renders the node's
// template over its upstream inputs, sends the prompt to the model and
// extracts findings from the answer. It returns a findings.Result that
// always holds at least one finding.
type AnalysisHandler struct {
	Templates    templates.Store
	Invoker      inference.Invoker
	DefaultModel string
	Extractor    findings.Extractor
}

func (h *AnalysisHandler) Execute(ctx context.Context, node pipeline.Node, inputs pipeline.Inputs) (any, error) {
	cfg := node.Config.Analysis
	if cfg == nil {
		return nil, fmt.Errorf("missing analysis config")
	}
	if cfg.PromptTemplate == "" {
		return nil, fmt.Errorf("no prompt template configured")
	}
	if h.Templates == nil || h.Invoker == nil {
		return nil, fmt.Errorf("analysis handler is not configured")
	}
	tpl, ok := h.Templates.GetTemplate(cfg.PromptTemplate)
	if !ok {
		return nil, fmt.Errorf("template %q not found", cfg.PromptTemplate)
	}
	model := cfg.ModelID
	if model == "" {
		model = h.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured")
	}

	kind := analysisName(node.Kind)
	vars, images := analysisVariables(kind, cfg, inputs)
	prompt, err := tpl.Render(vars)
	if err != nil {
		return nil, err
	}

	temp := cfg.Temperature
	req := inference.Request{
		ModelID:            model,
		Prompt:             prompt,
		SystemInstructions: tpl.SystemPrompt,
		Images:             images,
		Temperature:        &temp,
		MaxTokens:          cfg.MaxTokens,
	}
	slog.InfoContext(ctx, "inference request", "model", model, "template", tpl.ID, "images", len(images), "prompt_chars", len(prompt))

	text, err := h.Invoker.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	extract := h.Extractor
	if extract == nil {
		extract = findings.ExtractorFunc(findings.Extract)
	}
	fs := extract.Extract(text, kind)
	if len(fs) == 0 {
		slog.InfoContext(ctx, "no structured findings, synthesizing one", "response_chars", len(text))
		fs = []findings.Finding{findings.Synthesize(text, kind)}
	}
	return findings.Result{Findings: fs, RawResponseText: text}, nil
}

// analysisVariables merges the upstream text and diagram payloads into the
// template variables. Only the first diagram is sent as an image.
func analysisVariables(kind string, cfg *pipeline.AnalysisConfig, inputs pipeline.Inputs) (map[string]any, []string) {
	var (
		name, desc, extra string
		diagram           *DiagramPayload
	)
	for _, in := range inputs {
		switch v := in.Value.(type) {
		case TextPayload:
			if name == "" {
				name = v.SystemName
			}
			desc = appendPara(desc, v.SystemDescription)
			extra = appendPara(extra, v.AdditionalContext)
		case DiagramPayload:
			if diagram == nil {
				diagram = &v
			}
		case string:
			extra = appendPara(extra, v)
		}
	}
	desc = appendPara(desc, cfg.SystemDescription)

	vars := map[string]any{
		"analysisKind":      kind,
		"systemName":        name,
		"systemDescription": desc,
		"additionalContext": extra,
		"hasDiagram":        diagram != nil,
		"diagramFileName":   "",
	}
	var images []string
	if diagram != nil {
		vars["diagramFileName"] = diagram.FileName
		images = []string{diagram.Base64}
	}
	return vars, images
}
