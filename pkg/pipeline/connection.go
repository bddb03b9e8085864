package pipeline

import "slices"

// compatibility maps an output port type to the input port types it may
// feed. Only same-type links are legal today; cross-type adapters would be
// added here.
var compatibility = map[PortType][]PortType{
	PortDiagram:  {PortDiagram},
	PortText:     {PortText},
	PortFindings: {PortFindings},
}

// Compatible reports whether an output of type out may feed an input of
// type in.
func Compatible(out, in PortType) bool {
	return slices.Contains(compatibility[out], in)
}

// ValidateConnection decides whether an edge from → to is legal given nodes.
// It is pure: the same inputs always produce the same answer.
func ValidateConnection(from, to Endpoint, nodes []Node) bool {
	if from.NodeID == to.NodeID {
		return false
	}
	src, ok := findNode(nodes, from.NodeID)
	if !ok {
		return false
	}
	dst, ok := findNode(nodes, to.NodeID)
	if !ok {
		return false
	}
	out, ok := src.OutputPort(from.Port)
	if !ok {
		return false
	}
	in, ok := dst.InputPort(to.Port)
	if !ok {
		return false
	}
	return Compatible(out.Type, in.Type)
}

// Revalidate recomputes IsValid for every connection in s, e.g. after a
// node's ports changed.
func Revalidate(s Snapshot) Snapshot {
	out := s.Clone()
	for i, c := range out.Connections {
		out.Connections[i].IsValid = ValidateConnection(c.From, c.To, out.Nodes)
	}
	return out
}

// withConnection returns conns with c placed on its input slot. An existing
// connection on the same (node, input port) is replaced in place.
func withConnection(conns []Connection, c Connection) []Connection {
	out := slices.Clone(conns)
	for i, existing := range out {
		if existing.To == c.To {
			out[i] = c
			return out
		}
	}
	return append(out, c)
}
