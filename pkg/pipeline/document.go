package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a pipeline. Ports and connection validity
// are derived from node kinds when the document is built, so files only need
// to name kinds, configs and endpoints.
type Document struct {
	Name            string       `json:"name,omitempty" yaml:"name,omitempty"`
	ModelStylesheet string       `json:"modelStylesheet,omitempty" yaml:"modelStylesheet,omitempty"`
	Nodes           []Node       `json:"nodes" yaml:"nodes"`
	Connections     []Connection `json:"connections,omitempty" yaml:"connections,omitempty"`
}

// Build turns d into a snapshot: it fills in ports and config defaults from
// each node's kind, assigns missing connection ids, computes connection
// validity and applies the model stylesheet. Unknown kinds, duplicate ids, self-loops and
// endpoints naming missing nodes are errors.
func (d *Document) Build() (Snapshot, error) {
	s := Snapshot{Nodes: make([]Node, 0, len(d.Nodes)), Connections: []Connection{}}
	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return Snapshot{}, fmt.Errorf("node of kind %q has no id", n.Kind)
		}
		if seen[n.ID] {
			return Snapshot{}, fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true

		spec, ok := LookupKind(n.Kind)
		if !ok {
			return Snapshot{}, fmt.Errorf("node %q: unknown node kind %q", n.ID, n.Kind)
		}
		base, _ := NewNode(n.ID, n.Kind, n.Position)
		if n.Label != "" {
			base.Label = n.Label
		}
		base.Config = base.Config.overlay(n.Config)
		base.Inputs = append([]Port(nil), spec.Inputs...)
		base.Outputs = append([]Port(nil), spec.Outputs...)
		s.Nodes = append(s.Nodes, base)
	}

	for i, c := range d.Connections {
		if !seen[c.From.NodeID] || !seen[c.To.NodeID] {
			return Snapshot{}, fmt.Errorf("connection %s -> %s references an unknown node", c.From, c.To)
		}
		if c.From.NodeID == c.To.NodeID {
			return Snapshot{}, fmt.Errorf("connection %s -> %s: %w", c.From, c.To, ErrSelfLoop)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("c%d", i+1)
		}
		c.IsValid = ValidateConnection(c.From, c.To, s.Nodes)
		s.Connections = withConnection(s.Connections, c)
	}

	if d.ModelStylesheet != "" {
		s = ParseStylesheet(d.ModelStylesheet).Apply(s)
	}
	return s, nil
}

// NewDocument wraps a snapshot for saving.
func NewDocument(name string, s Snapshot) *Document {
	c := s.Clone()
	return &Document{Name: name, Nodes: c.Nodes, Connections: c.Connections}
}

// LoadDocument reads a pipeline file. ".dot" and ".gv" files are parsed as
// Graphviz; everything else as YAML (and therefore also JSON).
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	var doc *Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dot", ".gv":
		doc, err = ParseDOT(string(data))
	default:
		doc, err = ParseDocument(data)
	}
	if err != nil {
		return nil, err
	}
	// Diagram paths are relative to the pipeline file.
	dir := filepath.Dir(path)
	for i, n := range doc.Nodes {
		if d := n.Config.Diagram; d != nil && d.Path != "" && !filepath.IsAbs(d.Path) {
			cfg := n.Config.Clone()
			cfg.Diagram.Path = filepath.Join(dir, d.Path)
			doc.Nodes[i].Config = cfg
		}
	}
	return doc, nil
}

// ParseDocument decodes a YAML or JSON pipeline document and checks it
// against the document schema.
func ParseDocument(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("pipeline yaml: %w", err)
	}
	// Round-trip through JSON so the schema sees JSON types and the
	// document decodes through its json tags.
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline yaml: %w", err)
	}
	if err := validateDocumentJSON(jsonBytes); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("pipeline decode: %w", err)
	}
	return &doc, nil
}

// SaveDocument writes d as YAML.
func SaveDocument(path string, d *Document) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("pipeline encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("pipeline encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("pipeline write: %w", err)
	}
	return nil
}

// SchemaError lists every violation found in a pipeline document.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	if len(e.Violations) == 1 {
		return "pipeline schema: " + e.Violations[0]
	}
	return fmt.Sprintf("pipeline schema: %d violations:\n  %s", len(e.Violations), strings.Join(e.Violations, "\n  "))
}

const documentSchemaURL = "https://cortex-arema.dev/schemas/pipeline.json"

const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "name": {"type": "string"},
    "modelStylesheet": {"type": "string"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["input-diagram", "input-text", "analysis-stride", "analysis-stpa-sec", "output-results"]},
          "label": {"type": "string"},
          "position": {
            "type": "object",
            "properties": {"x": {"type": "number"}, "y": {"type": "number"}}
          },
          "config": {
            "type": "object",
            "properties": {
              "diagram": {"type": "object"},
              "text": {"type": "object"},
              "analysis": {
                "type": "object",
                "properties": {
                  "temperature": {"type": "number", "minimum": 0, "maximum": 2},
                  "maxTokens": {"type": "integer", "minimum": 0}
                }
              },
              "output": {"type": "object"}
            },
            "additionalProperties": false
          }
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "id": {"type": "string"},
          "from": {"$ref": "#/$defs/endpoint"},
          "to": {"$ref": "#/$defs/endpoint"}
        }
      }
    }
  },
  "$defs": {
    "endpoint": {
      "type": "object",
      "required": ["nodeId", "port"],
      "properties": {
        "nodeId": {"type": "string", "minLength": 1},
        "port": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var documentSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal pipeline schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add pipeline schema resource: %w", err)
	}
	return c.Compile(documentSchemaURL)
})

func validateDocumentJSON(data []byte) error {
	sch, err := documentSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("pipeline schema: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return fmt.Errorf("pipeline schema: %w", err)
		}
		return &SchemaError{Violations: collectViolations(verr)}
	}
	return nil
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
