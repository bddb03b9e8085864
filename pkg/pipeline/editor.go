package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/AISecurityAssurance/cortex-arema/pkg/history"
)

var (
	// ErrSelfLoop is returned when a connection would join a node to itself.
	ErrSelfLoop = errors.New("connection joins a node to itself")
	// ErrUnknownNode is returned when a connection names a node that does
	// not exist.
	ErrUnknownNode = errors.New("unknown node")
)

// DuplicateOffset is how far a duplicated node is moved from its original.
var DuplicateOffset = Point{X: 50, Y: 50}

// NodePatch is a partial node update; nil fields are left unchanged.
// Config sections are merged per kind section.
type NodePatch struct {
	Label    *string
	Position *Point
	Config   *NodeConfig
}

// KeyEvent is a keyboard shortcut delivered to the editor.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
}

// EditorOption configures an Editor.
type EditorOption func(*editorConfig)

type editorConfig struct {
	newID        func() string
	historyLimit int
	logger       *slog.Logger
}

// WithIDGenerator overrides how node and connection ids are allocated.
func WithIDGenerator(fn func() string) EditorOption {
	return func(c *editorConfig) { c.newID = fn }
}

// WithHistoryLimit caps the number of undo steps kept.
func WithHistoryLimit(n int) EditorOption {
	return func(c *editorConfig) { c.historyLimit = n }
}

// WithEditorLogger sets the logger used for rejected edits.
func WithEditorLogger(l *slog.Logger) EditorOption {
	return func(c *editorConfig) { c.logger = l }
}

// Editor is the mutable graph model. Every mutation produces a new snapshot
// recorded in an undo history; selection lives outside the history.
// Editor is not safe for concurrent use.
type Editor struct {
	hist   *history.History[Snapshot]
	newID  func() string
	logger *slog.Logger

	selectedNodes      []string
	selectedConnection string
}

// NewEditor creates an editor over an initial snapshot.
func NewEditor(initial Snapshot, opts ...EditorOption) *Editor {
	cfg := editorConfig{newID: uuid.NewString, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	var hopts []history.Option[Snapshot]
	if cfg.historyLimit > 0 {
		hopts = append(hopts, history.WithLimit[Snapshot](cfg.historyLimit))
	}
	return &Editor{
		hist:   history.New(initial.Clone(), hopts...),
		newID:  cfg.newID,
		logger: cfg.logger,
	}
}

// Snapshot returns a copy of the current graph.
func (e *Editor) Snapshot() Snapshot { return e.hist.Present().Clone() }

// Nodes returns a copy of the current nodes.
func (e *Editor) Nodes() []Node { return e.Snapshot().Nodes }

// Connections returns a copy of the current connections.
func (e *Editor) Connections() []Connection { return e.Snapshot().Connections }

// Load replaces the graph with s and clears history and selection.
func (e *Editor) Load(s Snapshot) {
	e.hist.Reset(s.Clone())
	e.selectedNodes = nil
	e.selectedConnection = ""
}

// apply records the snapshot produced by fn. fn receives a private copy.
func (e *Editor) apply(fn func(s Snapshot) Snapshot) bool {
	return e.hist.Update(func(cur Snapshot) Snapshot {
		return fn(cur.Clone())
	})
}

// AddNode creates a node of kind at pos and makes it the sole selection.
// An unknown kind is logged and ignored; the returned id is then empty.
func (e *Editor) AddNode(kind NodeKind, pos Point) string {
	n, err := NewNode(e.newID(), kind, pos)
	if err != nil {
		e.logger.Warn("add node ignored", "kind", kind, "err", err)
		return ""
	}
	e.apply(func(s Snapshot) Snapshot {
		s.Nodes = append(s.Nodes, n)
		return s
	})
	e.selectedNodes = []string{n.ID}
	e.selectedConnection = ""
	return n.ID
}

// UpdateNode merges patch into node id. Unknown ids are ignored.
func (e *Editor) UpdateNode(id string, patch NodePatch) {
	e.apply(func(s Snapshot) Snapshot {
		for i := range s.Nodes {
			if s.Nodes[i].ID != id {
				continue
			}
			if patch.Label != nil {
				s.Nodes[i].Label = *patch.Label
			}
			if patch.Position != nil {
				s.Nodes[i].Position = *patch.Position
			}
			if patch.Config != nil {
				s.Nodes[i].Config = s.Nodes[i].Config.merge(*patch.Config)
			}
		}
		return s
	})
}

// DeleteNode removes node id together with every connection touching it,
// as a single history step.
func (e *Editor) DeleteNode(id string) {
	e.deleteNodes([]string{id})
}

// DeleteSelectedNodes removes every selected node and its connections as a
// single history step.
func (e *Editor) DeleteSelectedNodes() {
	if len(e.selectedNodes) == 0 {
		return
	}
	e.deleteNodes(slices.Clone(e.selectedNodes))
}

func (e *Editor) deleteNodes(ids []string) {
	gone := func(id string) bool { return slices.Contains(ids, id) }
	e.apply(func(s Snapshot) Snapshot {
		s.Nodes = slices.DeleteFunc(s.Nodes, func(n Node) bool { return gone(n.ID) })
		s.Connections = slices.DeleteFunc(s.Connections, func(c Connection) bool {
			return gone(c.From.NodeID) || gone(c.To.NodeID)
		})
		return s
	})
	e.selectedNodes = slices.DeleteFunc(e.selectedNodes, gone)
	e.pruneSelection()
}

// DuplicateSelectedNodes copies every selected node under a new id, offset
// by DuplicateOffset. Connections are not copied. The copies become the
// selection. It returns the new ids.
func (e *Editor) DuplicateSelectedNodes() []string {
	if len(e.selectedNodes) == 0 {
		return nil
	}
	cur := e.hist.Present()
	var copies []Node
	for _, id := range e.selectedNodes {
		n, ok := cur.Node(id)
		if !ok {
			continue
		}
		c := n.Clone()
		c.ID = e.newID()
		c.Position = c.Position.Add(DuplicateOffset)
		copies = append(copies, c)
	}
	if len(copies) == 0 {
		return nil
	}
	e.apply(func(s Snapshot) Snapshot {
		s.Nodes = append(s.Nodes, copies...)
		return s
	})
	ids := make([]string, len(copies))
	for i, c := range copies {
		ids[i] = c.ID
	}
	e.selectedNodes = ids
	e.selectedConnection = ""
	return slices.Clone(ids)
}

// UpdateNodePosition moves a single node.
func (e *Editor) UpdateNodePosition(id string, pos Point) {
	e.UpdateMultipleNodePositions(map[string]Point{id: pos})
}

// UpdateMultipleNodePositions moves several nodes as a single history step.
// Moving a node to where it already is records nothing.
func (e *Editor) UpdateMultipleNodePositions(updates map[string]Point) {
	if len(updates) == 0 {
		return
	}
	e.apply(func(s Snapshot) Snapshot {
		for i, n := range s.Nodes {
			if p, ok := updates[n.ID]; ok {
				s.Nodes[i].Position = p
			}
		}
		return s
	})
}

// AddConnection joins an output port to an input port. The connection is
// kept even when the port types are incompatible, flagged IsValid=false.
// If the input port is already connected, the old connection is replaced.
// Self-loops and unknown nodes are rejected.
func (e *Editor) AddConnection(from, to Endpoint) (Connection, error) {
	cur := e.hist.Present()
	if from.NodeID == to.NodeID {
		return Connection{}, fmt.Errorf("connect %s -> %s: %w", from, to, ErrSelfLoop)
	}
	for _, id := range []string{from.NodeID, to.NodeID} {
		if _, ok := cur.Node(id); !ok {
			return Connection{}, fmt.Errorf("connect %s -> %s: %w %q", from, to, ErrUnknownNode, id)
		}
	}
	c := Connection{
		ID:      e.newID(),
		From:    from,
		To:      to,
		IsValid: ValidateConnection(from, to, cur.Nodes),
	}
	if !c.IsValid {
		e.logger.Debug("incompatible connection kept", "from", from.String(), "to", to.String())
	}
	e.apply(func(s Snapshot) Snapshot {
		s.Connections = withConnection(s.Connections, c)
		return s
	})
	e.pruneSelection()
	return c, nil
}

// DeleteConnection removes connection id, deselecting it if selected.
func (e *Editor) DeleteConnection(id string) {
	e.apply(func(s Snapshot) Snapshot {
		s.Connections = slices.DeleteFunc(s.Connections, func(c Connection) bool { return c.ID == id })
		return s
	})
	if e.selectedConnection == id {
		e.selectedConnection = ""
	}
}

// ─── selection ───────────────────────────────────────────────────────────────

// SelectedNodes returns the selected node ids in selection order.
func (e *Editor) SelectedNodes() []string { return slices.Clone(e.selectedNodes) }

// SelectedConnection returns the selected connection id, or "".
func (e *Editor) SelectedConnection() string { return e.selectedConnection }

// SelectNode selects id. With multi set it toggles id within the current
// selection; otherwise id becomes the only selection.
func (e *Editor) SelectNode(id string, multi bool) {
	e.selectedConnection = ""
	if !multi {
		e.selectedNodes = []string{id}
		return
	}
	if i := slices.Index(e.selectedNodes, id); i >= 0 {
		e.selectedNodes = slices.Delete(e.selectedNodes, i, i+1)
		return
	}
	e.selectedNodes = append(e.selectedNodes, id)
}

// SelectMultipleNodes replaces the selection with ids.
func (e *Editor) SelectMultipleNodes(ids []string) {
	e.selectedConnection = ""
	e.selectedNodes = slices.Clone(ids)
}

// SelectAllNodes selects every node.
func (e *Editor) SelectAllNodes() {
	cur := e.hist.Present()
	ids := make([]string, len(cur.Nodes))
	for i, n := range cur.Nodes {
		ids[i] = n.ID
	}
	e.SelectMultipleNodes(ids)
}

// SelectConnection selects connection id and clears the node selection.
func (e *Editor) SelectConnection(id string) {
	e.selectedNodes = nil
	e.selectedConnection = id
}

// ClearSelection clears both node and connection selection.
func (e *Editor) ClearSelection() {
	e.selectedNodes = nil
	e.selectedConnection = ""
}

// pruneSelection drops selected ids that no longer exist.
func (e *Editor) pruneSelection() {
	cur := e.hist.Present()
	e.selectedNodes = slices.DeleteFunc(e.selectedNodes, func(id string) bool {
		_, ok := cur.Node(id)
		return !ok
	})
	if e.selectedConnection != "" && !slices.ContainsFunc(cur.Connections, func(c Connection) bool {
		return c.ID == e.selectedConnection
	}) {
		e.selectedConnection = ""
	}
}

// ─── history ─────────────────────────────────────────────────────────────────

func (e *Editor) CanUndo() bool { return e.hist.CanUndo() }
func (e *Editor) CanRedo() bool { return e.hist.CanRedo() }

// Undo restores the previous snapshot. It reports whether anything changed.
func (e *Editor) Undo() bool {
	ok := e.hist.Undo()
	if ok {
		e.pruneSelection()
	}
	return ok
}

// Redo re-applies the next snapshot. It reports whether anything changed.
func (e *Editor) Redo() bool {
	ok := e.hist.Redo()
	if ok {
		e.pruneSelection()
	}
	return ok
}

// HandleKey binds the undo shortcuts: Ctrl/Cmd+Z undoes and
// Ctrl/Cmd+Shift+Z redoes. It reports whether the event was consumed.
func (e *Editor) HandleKey(ev KeyEvent) bool {
	if !(ev.Ctrl || ev.Meta) || !strings.EqualFold(ev.Key, "z") {
		return false
	}
	if ev.Shift {
		if e.CanRedo() {
			e.Redo()
		}
		return true
	}
	if e.CanUndo() {
		e.Undo()
	}
	return true
}
