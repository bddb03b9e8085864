package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// ParseDOT parses a Graphviz DOT pipeline into a Document.
//
// Nodes carry their kind and config as attributes:
//
//	t1 [kind="input-text", systemName="Checkout API"]
//	s1 [kind="analysis-stride", model="anthropic:claude-sonnet-4-5"]
//	t1:text_data -> s1:text_data
//
// An edge without ports is joined on the first compatible pair of ports.
func ParseDOT(src string) (*Document, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// Use a custom permissive graph collector that accepts any attribute name
	// without the strict validation that gographviz.Graph performs.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	doc := &Document{
		Name:            collector.name,
		ModelStylesheet: collector.graphAttrs["model_stylesheet"],
	}

	for _, id := range collector.order {
		n, err := nodeFromAttrs(id, collector.nodes[id])
		if err != nil {
			return nil, err
		}
		doc.Nodes = append(doc.Nodes, n)
	}

	// Build connections in definition order.
	for i, e := range collector.edges {
		from, to, err := resolvePorts(doc.Nodes, e)
		if err != nil {
			return nil, err
		}
		doc.Connections = append(doc.Connections, Connection{
			ID:   fmt.Sprintf("c%d", i+1),
			From: from,
			To:   to,
		})
	}

	return doc, nil
}

// nodeFromAttrs builds a node of the kind named by attrs["kind"] and maps
// the remaining attributes onto its config.
func nodeFromAttrs(id string, attrs map[string]string) (Node, error) {
	kind := NodeKind(attrs["kind"])
	if kind == "" {
		return Node{}, fmt.Errorf("node %q: missing kind attribute", id)
	}
	n, err := NewNode(id, kind, parsePos(attrs["pos"]))
	if err != nil {
		return Node{}, fmt.Errorf("node %q: %w", id, err)
	}
	if l := attrs["label"]; l != "" {
		n.Label = l
	}

	switch {
	case n.Config.Diagram != nil:
		d := n.Config.Diagram
		d.Path = attrs["file"]
		d.MIMEType = attrs["mime_type"]
		if d.Path != "" {
			d.FileName = lastPathElem(d.Path)
		}
	case n.Config.Text != nil:
		t := n.Config.Text
		t.SystemName = attrs["systemName"]
		t.SystemDescription = attrs["description"]
		t.AdditionalContext = attrs["context"]
	case n.Config.Analysis != nil:
		a := n.Config.Analysis
		a.ModelID = attrs["model"]
		a.SystemDescription = attrs["description"]
		if v := attrs["template"]; v != "" {
			a.PromptTemplate = v
		}
		if v := attrs["temperature"]; v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Node{}, fmt.Errorf("node %q: temperature: %w", id, err)
			}
			a.Temperature = f
		}
		if v := attrs["max_tokens"]; v != "" {
			mt, err := strconv.Atoi(v)
			if err != nil {
				return Node{}, fmt.Errorf("node %q: max_tokens: %w", id, err)
			}
			a.MaxTokens = mt
		}
	case n.Config.Output != nil:
		if v := attrs["title"]; v != "" {
			n.Config.Output.Title = v
		}
	}
	return n, nil
}

// resolvePorts fills in the ports of an edge. Explicit ports are kept as
// written, even when incompatible; validity is decided later.
func resolvePorts(nodes []Node, e rawEdge) (Endpoint, Endpoint, error) {
	src, ok := findNode(nodes, e.from)
	if !ok {
		return Endpoint{}, Endpoint{}, fmt.Errorf("edge %s -> %s: unknown node %q", e.from, e.to, e.from)
	}
	dst, ok := findNode(nodes, e.to)
	if !ok {
		return Endpoint{}, Endpoint{}, fmt.Errorf("edge %s -> %s: unknown node %q", e.from, e.to, e.to)
	}
	from := Endpoint{NodeID: src.ID, Port: e.fromPort}
	to := Endpoint{NodeID: dst.ID, Port: e.toPort}
	if from.Port != "" && to.Port != "" {
		return from, to, nil
	}

	for _, out := range src.Outputs {
		if from.Port != "" && out.Name != from.Port {
			continue
		}
		for _, in := range dst.Inputs {
			if to.Port != "" && in.Name != to.Port {
				continue
			}
			if Compatible(out.Type, in.Type) {
				return Endpoint{NodeID: src.ID, Port: out.Name}, Endpoint{NodeID: dst.ID, Port: in.Name}, nil
			}
		}
	}
	return Endpoint{}, Endpoint{}, fmt.Errorf("edge %s -> %s: no compatible ports", e.from, e.to)
}

func parsePos(s string) Point {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}
	}
	x, _ := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, _ := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(ys, "!")), 64)
	return Point{X: x, Y: y}
}

func lastPathElem(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, fromPort string
	to, toPort     string
}

// dotCollector implements gographviz.Interface without attribute validation.
// Nodes are kept in first-mention order.
type dotCollector struct {
	name       string
	nodes      map[string]map[string]string // id → attrs
	order      []string
	edges      []rawEdge
	graphAttrs map[string]string
}

func newDOTCollector() *dotCollector {
	return &dotCollector{
		nodes:      make(map[string]map[string]string),
		graphAttrs: make(map[string]string),
	}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, directed bool, attrs map[string]string) error {
	return c.AddPortEdge(src, "", dst, "", directed, attrs)
}

func (c *dotCollector) AddPortEdge(src, srcPort, dst, dstPort string, _ bool, _ map[string]string) error {
	c.edges = append(c.edges, rawEdge{
		from:     unquote(src),
		fromPort: portName(srcPort),
		to:       unquote(dst),
		toPort:   portName(dstPort),
	})
	return nil
}

func (c *dotCollector) AddAttr(_ string, field, value string) error {
	c.graphAttrs[field] = unquote(value)
	return nil
}

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// ─── helpers ─────────────────────────────────────────────────────────────────

// unquote strips surrounding double-quotes from a DOT attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// portName strips the leading colon and any compass point from a DOT port.
func portName(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), ":")
	name, _, _ := strings.Cut(p, ":")
	return unquote(name)
}
