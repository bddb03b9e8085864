package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
)

func graphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <pipeline>",
		Short: "Print a human-readable summary of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := pipeline.LoadDocument(args[0])
			if err != nil {
				return err
			}
			snap, err := doc.Build()
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}

			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), renderDOT(doc.Name, doc.ModelStylesheet, snap))
			case "text", "":
				fmt.Fprint(cmd.OutOrStdout(), renderText(doc.Name, snap))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// displayOrder returns node ids in execution order. Nodes the planner
// leaves out (those on a cycle) follow in definition order.
func displayOrder(s pipeline.Snapshot) []string {
	order := pipeline.BuildExecutionOrder(s.Nodes, s.Connections)
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, n := range s.Nodes {
		if !seen[n.ID] {
			order = append(order, n.ID)
		}
	}
	return order
}

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// nodeAttrs lists a node's config as DOT attributes, in the names ParseDOT
// reads back.
func nodeAttrs(n pipeline.Node) [][2]string {
	attrs := [][2]string{{"kind", string(n.Kind)}}
	add := func(k, v string) {
		if v != "" {
			attrs = append(attrs, [2]string{k, v})
		}
	}
	add("label", n.Label)
	c := n.Config
	switch {
	case c.Diagram != nil:
		add("file", c.Diagram.Path)
		add("mime_type", c.Diagram.MIMEType)
	case c.Text != nil:
		add("systemName", c.Text.SystemName)
		add("description", c.Text.SystemDescription)
		add("context", c.Text.AdditionalContext)
	case c.Analysis != nil:
		add("model", c.Analysis.ModelID)
		add("template", c.Analysis.PromptTemplate)
		add("description", c.Analysis.SystemDescription)
		add("temperature", strconv.FormatFloat(c.Analysis.Temperature, 'g', -1, 64))
		if c.Analysis.MaxTokens > 0 {
			add("max_tokens", strconv.Itoa(c.Analysis.MaxTokens))
		}
	case c.Output != nil:
		add("title", c.Output.Title)
	}
	return attrs
}

// renderText produces the human-readable text summary.
func renderText(name string, s pipeline.Snapshot) string {
	var sb strings.Builder

	if name == "" {
		name = "pipeline"
	}
	fmt.Fprintf(&sb, "Pipeline: %s  (%d nodes, %d connections)\n", name, len(s.Nodes), len(s.Connections))

	maxIDLen := 4
	for _, n := range s.Nodes {
		maxIDLen = max(maxIDLen, len(n.ID))
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, id := range displayOrder(s) {
		n, _ := s.Node(id)
		var parts []string
		for _, kv := range nodeAttrs(n)[1:] {
			parts = append(parts, kv[0]+"="+truncate(kv[1], 60))
		}
		fmt.Fprintf(&sb, "  %-*s  %-18s  %s\n", maxIDLen, id, string(n.Kind), strings.Join(parts, " "))
	}

	fmt.Fprintf(&sb, "\nConnections:\n")
	maxFromLen := 4
	for _, c := range s.Connections {
		maxFromLen = max(maxFromLen, len(c.From.String()))
	}
	for _, c := range s.Connections {
		line := fmt.Sprintf("  %-*s  →  %s", maxFromLen, c.From.String(), c.To.String())
		if !c.IsValid {
			line += "  [invalid]"
		}
		sb.WriteString(line + "\n")
	}

	return sb.String()
}

// dotQuote returns the value as a DOT-safe string, quoting if necessary.
func dotQuote(s string) string {
	needsQuote := s == "" ||
		strings.ContainsAny(s, " \t\n\\\"{}[]<>=;,:.-/*") ||
		(s[0] >= '0' && s[0] <= '9')
	if needsQuote {
		escaped := strings.ReplaceAll(s, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		escaped = strings.ReplaceAll(escaped, "\n", `\n`)
		return `"` + escaped + `"`
	}
	return s
}

// renderDOT produces a DOT digraph that ParseDOT reads back into the same
// pipeline.
func renderDOT(name, stylesheet string, s pipeline.Snapshot) string {
	var sb strings.Builder

	if name == "" {
		name = "pipeline"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))
	if stylesheet != "" {
		fmt.Fprintf(&sb, "    model_stylesheet=%s\n", dotQuote(stylesheet))
	}

	for _, id := range displayOrder(s) {
		n, _ := s.Node(id)
		parts := make([]string, 0, 8)
		for _, kv := range nodeAttrs(n) {
			parts = append(parts, kv[0]+"="+dotQuote(kv[1]))
		}
		if n.Position != (pipeline.Point{}) {
			parts = append(parts, "pos="+dotQuote(fmt.Sprintf("%g,%g", n.Position.X, n.Position.Y)))
		}
		fmt.Fprintf(&sb, "    %s [%s]\n", dotQuote(id), strings.Join(parts, ", "))
	}

	for _, c := range s.Connections {
		fmt.Fprintf(&sb, "    %s:%s -> %s:%s\n",
			dotQuote(c.From.NodeID), dotQuote(c.From.Port), dotQuote(c.To.NodeID), dotQuote(c.To.Port))
	}

	fmt.Fprintf(&sb, "}\n")
	return sb.String()
}
