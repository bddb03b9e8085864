package pipeline

import (
	"strconv"
	"strings"
)

// StyleRule assigns model defaults to the nodes matched by Selector.
type StyleRule struct {
	Selector    string
	Model       string
	Temperature *float64
}

// Stylesheet is an ordered list of rules; a later matching rule overrides
// an earlier one.
type Stylesheet struct {
	Rules []StyleRule
}

// ParseStylesheet parses a simple CSS-like model stylesheet.
// Example: `kind[analysis-stride] { model: "anthropic:claude-sonnet-4-5"; temperature: 0.2 }`
func ParseStylesheet(src string) *Stylesheet {
	ss := &Stylesheet{}
	src = strings.TrimSpace(src)
	for _, part := range strings.Split(src, "}") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		braceIdx := strings.Index(part, "{")
		if braceIdx < 0 {
			continue
		}
		rule := StyleRule{Selector: strings.TrimSpace(part[:braceIdx])}
		for _, line := range strings.Split(part[braceIdx+1:], ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			v = strings.Trim(strings.TrimSpace(v), `"`)
			switch k {
			case "model":
				rule.Model = v
			case "temperature":
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					rule.Temperature = &f
				}
			}
		}
		ss.Rules = append(ss.Rules, rule)
	}
	return ss
}

// Apply fills in model settings on analysis nodes that do not name a model
// themselves. Nodes with an explicit model are left untouched. The input
// snapshot is not modified.
func (ss *Stylesheet) Apply(s Snapshot) Snapshot {
	out := s.Clone()
	if ss == nil {
		return out
	}
	for i, n := range out.Nodes {
		if !n.Kind.IsAnalysis() {
			continue
		}
		a := n.Config.Analysis
		if a == nil {
			a = &AnalysisConfig{}
			out.Nodes[i].Config.Analysis = a
		}
		if a.ModelID != "" {
			continue
		}
		for _, rule := range ss.Rules {
			if !matchesSelector(rule.Selector, n) {
				continue
			}
			if rule.Model != "" {
				a.ModelID = rule.Model
			}
			if rule.Temperature != nil {
				a.Temperature = *rule.Temperature
			}
		}
	}
	return out
}

// matchesSelector returns true if the node matches the given selector.
// Supported selectors:
//   - "*"                      all nodes
//   - "kind[analysis-stride]"  nodes of that kind
//   - "id[s1]"                 the node with that id
func matchesSelector(selector string, node Node) bool {
	selector = strings.TrimSpace(selector)
	if selector == "*" {
		return true
	}
	if want, ok := bracketed(selector, "kind"); ok {
		return string(node.Kind) == want
	}
	if want, ok := bracketed(selector, "id"); ok {
		return node.ID == want
	}
	return false
}

func bracketed(selector, name string) (string, bool) {
	rest, ok := strings.CutPrefix(selector, name+"[")
	if !ok || !strings.HasSuffix(rest, "]") {
		return "", false
	}
	return rest[:len(rest)-1], true
}
