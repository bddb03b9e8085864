// Package stream fans pipeline execution state out to subscribers as
// run and node events.
package stream

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
)

const defaultChannelBuffer = 64

// Event types. Run events are "run.<status>", node events "node.<status>".
const (
	EventRunPrefix  = "run."
	EventNodePrefix = "node."
)

// Event is one transition observed during a run. State is the full
// execution state after the transition and must be treated as read-only.
type Event struct {
	RunID  string                  `json:"runId"`
	Type   string                  `json:"type"`
	NodeID string                  `json:"nodeId,omitempty"`
	State  pipeline.ExecutionState `json:"state"`
}

// Filter selects the events a subscriber receives. Empty fields match
// everything.
type Filter struct {
	RunID string   `json:"runId,omitempty"`
	Types []string `json:"types,omitempty"`
}

// Hub provides pub/sub for execution events.
type Hub interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(ctx context.Context, f Filter) (<-chan Event, func(), error)
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// MemoryHub is an in-process Hub. It also implements pipeline.Observer,
// turning every state the runner publishes into the events that changed.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64

	lastMu sync.Mutex
	last   pipeline.ExecutionState

	dropped atomic.Uint64
}

var _ pipeline.Observer = (*MemoryHub)(nil)

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscriber)}
}

// Publish sends e to every matching subscriber. It never blocks: a
// subscriber whose buffer is full misses the event.
func (h *MemoryHub) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned cancel function removes
// it and closes the channel.
func (h *MemoryHub) Subscribe(ctx context.Context, f Filter) (<-chan Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan Event, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: f}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Dropped reports how many events were discarded for slow subscribers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }

// OnState publishes the run and node events implied by the difference
// between st and the previously observed state.
func (h *MemoryHub) OnState(st pipeline.ExecutionState) {
	h.lastMu.Lock()
	prev := h.last
	h.last = st
	h.lastMu.Unlock()

	for _, e := range Diff(prev, st) {
		_ = h.Publish(context.Background(), e)
	}
}

// Diff lists the events that lead from prev to next: a run event when the
// run or its status changed, then a node event for every node whose status
// changed, in execution order.
func Diff(prev, next pipeline.ExecutionState) []Event {
	var out []Event
	newRun := prev.RunID != next.RunID
	if newRun || prev.Status != next.Status {
		out = append(out, Event{RunID: next.RunID, Type: EventRunPrefix + string(next.Status), State: next})
	}
	for _, id := range nodeOrder(next) {
		ns := next.NodeStates[id]
		if !newRun {
			if old, ok := prev.NodeStates[id]; ok && old.Status == ns.Status {
				continue
			}
		} else if ns.Status == pipeline.NodeIdle {
			continue
		}
		out = append(out, Event{
			RunID:  next.RunID,
			Type:   EventNodePrefix + string(ns.Status),
			NodeID: id,
			State:  next,
		})
	}
	return out
}

// nodeOrder is the planned order followed by any unplanned nodes sorted by
// id.
func nodeOrder(st pipeline.ExecutionState) []string {
	ids := slices.Clone(st.Order)
	var rest []string
	for id := range st.NodeStates {
		if !slices.Contains(ids, id) {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

func (f Filter) match(e Event) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}
