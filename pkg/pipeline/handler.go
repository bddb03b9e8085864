package pipeline

import (
	"context"
	"fmt"
)

// Input is one upstream value delivered to a node: the result the source
// node produced, tagged with the ports the connection joins.
type Input struct {
	SourceNodeID string
	SourcePort   string
	TargetPort   string
	Value        any
}

// Inputs is the ordered list of values arriving at a node, one per valid
// incoming connection, in connection definition order.
type Inputs []Input

// ByPort returns the values delivered to the named input port.
func (in Inputs) ByPort(port string) []any {
	var out []any
	for _, i := range in {
		if i.TargetPort == port {
			out = append(out, i.Value)
		}
	}
	return out
}

// Values returns every delivered value in order.
func (in Inputs) Values() []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v.Value
	}
	return out
}

// Handler executes a pipeline node.
// Implementations live in the handlers sub-package; this interface is defined
// here so that Runner can use it without creating an import cycle.
type Handler interface {
	// Execute runs node against its gathered inputs and returns the result
	// made available to downstream nodes. A returned error fails the run.
	Execute(ctx context.Context, node Node, inputs Inputs) (any, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, node Node, inputs Inputs) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, node Node, inputs Inputs) (any, error) {
	return f(ctx, node, inputs)
}

// HandlerRegistry looks up Handler implementations by node kind.
type HandlerRegistry interface {
	Get(kind NodeKind) (Handler, error)
}

// HandlerMap is a minimal HandlerRegistry backed by a map.
type HandlerMap map[NodeKind]Handler

func (m HandlerMap) Get(kind NodeKind) (Handler, error) {
	h, ok := m[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for node kind %q", kind)
	}
	return h, nil
}
