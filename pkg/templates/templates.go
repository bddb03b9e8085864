// Package templates stores the prompt templates analysis nodes render.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"text/template"
	"text/template/parse"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Template is a prompt template. Text uses text/template syntax with the
// variables referenced as fields, e.g. {{.systemName}}.
type Template struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	Kind         string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Text         string   `yaml:"template" json:"template"`
	Variables    []string `yaml:"variables,omitempty" json:"variables,omitempty"`
	SystemPrompt string   `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`

	tpl *template.Template
}

// Store resolves template ids.
type Store interface {
	GetTemplate(id string) (*Template, bool)
}

// Parse decodes one YAML template document and compiles it.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("template yaml: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Template) compile() error {
	if t.ID == "" {
		return fmt.Errorf("template has no id")
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("template %q: empty template text", t.ID)
	}
	tpl, err := template.New(t.ID).Option("missingkey=zero").Parse(t.Text)
	if err != nil {
		return fmt.Errorf("template %q: %w", t.ID, err)
	}
	t.tpl = tpl
	if len(t.Variables) == 0 {
		t.Variables = discoverVariables(tpl)
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	return nil
}

// Render executes the template against vars. Declared variables that are
// not supplied render as empty strings.
func (t *Template) Render(vars map[string]any) (string, error) {
	c := t
	if c.tpl == nil {
		cp := *t
		if err := cp.compile(); err != nil {
			return "", err
		}
		c = &cp
	}
	data := make(map[string]any, len(c.Variables)+len(vars))
	for _, v := range c.Variables {
		data[v] = ""
	}
	maps.Copy(data, vars)

	var buf bytes.Buffer
	if err := c.tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %q: %w", t.ID, err)
	}
	return buf.String(), nil
}

// discoverVariables lists the top-level fields a template reads, in order
// of first use.
func discoverVariables(tpl *template.Template) []string {
	var out []string
	add := func(name string) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	var walk func(n parse.Node)
	walk = func(n parse.Node) {
		switch n := n.(type) {
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, c := range n.Nodes {
				walk(c)
			}
		case *parse.ActionNode:
			walk(n.Pipe)
		case *parse.PipeNode:
			if n == nil {
				return
			}
			for _, c := range n.Cmds {
				walk(c)
			}
		case *parse.CommandNode:
			for _, a := range n.Args {
				walk(a)
			}
		case *parse.FieldNode:
			add(n.Ident[0])
		case *parse.IfNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.RangeNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.WithNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		}
	}
	if tpl.Tree != nil {
		walk(tpl.Tree.Root)
	}
	return out
}

// MemoryStore is a concurrency-safe Store held in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Template
}

// NewMemoryStore creates a store holding ts.
func NewMemoryStore(ts ...*Template) (*MemoryStore, error) {
	s := &MemoryStore{byID: make(map[string]*Template, len(ts))}
	for _, t := range ts {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Builtin returns a store seeded with the built-in STRIDE and STPA-Sec
// templates.
func Builtin() *MemoryStore {
	s := &MemoryStore{byID: map[string]*Template{}}
	if err := s.loadFS(builtinFS, "builtin"); err != nil {
		panic(fmt.Sprintf("templates: built-in templates: %v", err))
	}
	return s
}

// Add compiles t and stores it, replacing any template with the same id.
func (s *MemoryStore) Add(t *Template) error {
	if t == nil {
		return fmt.Errorf("nil template")
	}
	if err := t.compile(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.ID] = t
	return nil
}

// GetTemplate returns the template with the given id.
func (s *MemoryStore) GetTemplate(id string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	return t, ok
}

// List returns every stored template sorted by id.
func (s *MemoryStore) List() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Template, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir adds every *.yaml and *.yml template in dir. Templates loaded
// later replace earlier ones with the same id, so user files can override
// the built-ins.
func (s *MemoryStore) LoadDir(dir string) error {
	return s.loadFS(os.DirFS(dir), ".")
}

func (s *MemoryStore) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read templates: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		t, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := s.Add(t); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}
