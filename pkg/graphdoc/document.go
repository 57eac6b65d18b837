// Package graphdoc implements the replicated diagram document: a set of
// last-write-wins registers over typed node/edge records that merges
// deterministically regardless of update arrival order.
package graphdoc

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// editState groups the two edit-marker fields, which always change together.
type editState struct {
	IsBeingEdited bool   `json:"isBeingEdited"`
	EditedBy      string `json:"editedBy,omitempty"`
}

type nodeState struct {
	alive    register[bool]
	typ      register[string]
	position register[models.Point]
	data     register[models.NodeData]
	editing  register[editState]
}

type edgeState struct {
	alive  register[bool]
	record register[models.EdgeRecord]
}

// Document is one room's replicated graph. All reads and writes go through
// the mutex; change listeners are invoked after the lock is released so a
// listener may read the document again.
type Document struct {
	mu    sync.RWMutex
	actor string
	clock uint64

	nodes  map[string]*nodeState
	edges  map[string]*edgeState
	locks  map[string]*register[*models.NodeLock]
	colors map[string]*register[string]

	nextSub         int
	changeListeners map[int]func()
	updateListeners map[int]func([]byte)
}

// New creates an empty document replica owned by the given actor id.
func New(actor string) *Document {
	return &Document{
		actor:           actor,
		nodes:           make(map[string]*nodeState),
		edges:           make(map[string]*edgeState),
		locks:           make(map[string]*register[*models.NodeLock]),
		colors:          make(map[string]*register[string]),
		changeListeners: make(map[int]func()),
		updateListeners: make(map[int]func([]byte)),
	}
}

// Actor returns the replica's actor id.
func (d *Document) Actor() string {
	return d.actor
}

// Subscribe registers a listener invoked once per applied transaction or
// remote update that changed state. The returned func cancels the
// subscription.
func (d *Document) Subscribe(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.changeListeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.changeListeners, id)
	}
}

// OnLocalUpdate registers a listener receiving the encoded bytes of every
// locally committed transaction, for broadcast and persistence. Remote
// updates applied via ApplyUpdate do not reach these listeners.
func (d *Document) OnLocalUpdate(fn func([]byte)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.updateListeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.updateListeners, id)
	}
}

// ApplyUpdate merges a remote update into the document. Applying the same
// update twice, or two updates in either order, yields the same state. An
// update with any invalid op is rejected whole; no register is written.
func (d *Document) ApplyUpdate(data []byte) error {
	update, err := DecodeUpdate(data)
	if err != nil {
		return err
	}

	writes := make([]func() bool, len(update.Ops))
	for i, op := range update.Ops {
		write, err := d.decodeOp(op)
		if err != nil {
			return err
		}
		writes[i] = write
	}

	d.mu.Lock()
	changed := false
	for i, op := range update.Ops {
		if op.Stamp.Clock > d.clock {
			d.clock = op.Stamp.Clock
		}
		if writes[i]() {
			changed = true
		}
	}
	listeners := d.snapshotChangeListeners()
	d.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn()
		}
	}
	return nil
}

// EncodeState encodes every register, live or tombstoned, as one replayable
// update. Applying it to an empty document reproduces the full state.
func (d *Document) EncodeState() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	update := Update{Actor: d.actor}

	appendOp := func(kind, key string, value any, stamp Stamp) error {
		if stamp.IsZero() {
			return nil
		}
		op, err := makeOp(kind, key, value, stamp)
		if err != nil {
			return err
		}
		update.Ops = append(update.Ops, op)
		return nil
	}

	for id, n := range d.nodes {
		if err := appendOp(opNodeAlive, id, n.alive.value, n.alive.stamp); err != nil {
			return nil, err
		}
		if err := appendOp(opNodeType, id, n.typ.value, n.typ.stamp); err != nil {
			return nil, err
		}
		if err := appendOp(opNodePosition, id, n.position.value, n.position.stamp); err != nil {
			return nil, err
		}
		if err := appendOp(opNodeData, id, n.data.value, n.data.stamp); err != nil {
			return nil, err
		}
		if err := appendOp(opNodeEditing, id, n.editing.value, n.editing.stamp); err != nil {
			return nil, err
		}
	}
	for id, e := range d.edges {
		if err := appendOp(opEdgeAlive, id, e.alive.value, e.alive.stamp); err != nil {
			return nil, err
		}
		if err := appendOp(opEdgeRecord, id, e.record.value, e.record.stamp); err != nil {
			return nil, err
		}
	}
	for id, l := range d.locks {
		if err := appendOp(opLock, id, l.value, l.stamp); err != nil {
			return nil, err
		}
	}
	for id, c := range d.colors {
		if err := appendOp(opColor, id, c.value, c.stamp); err != nil {
			return nil, err
		}
	}

	return update.encode()
}

// apply validates and writes one op. Caller holds the write lock.
func (d *Document) apply(op Op) (bool, error) {
	if op.Stamp.Clock > d.clock {
		d.clock = op.Stamp.Clock
	}
	write, err := d.decodeOp(op)
	if err != nil {
		return false, err
	}
	return write(), nil
}

// decodeOp validates an op's payload and returns the write that lands it in
// its register. Decoding takes no lock; the returned write must run with the
// write lock held.
func (d *Document) decodeOp(op Op) (func() bool, error) {
	switch op.Kind {
	case opNodeAlive:
		var v bool
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool { return d.node(op.Key).alive.set(v, op.Stamp) }, nil
	case opNodeType:
		var v string
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool { return d.node(op.Key).typ.set(v, op.Stamp) }, nil
	case opNodePosition:
		var v models.Point
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool { return d.node(op.Key).position.set(v, op.Stamp) }, nil
	case opNodeData:
		var v models.NodeData
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool { return d.node(op.Key).data.set(v, op.Stamp) }, nil
	case opNodeEditing:
		var v editState
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool { return d.node(op.Key).editing.set(v, op.Stamp) }, nil
	case opEdgeAlive:
		var v bool
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool { return d.edge(op.Key).alive.set(v, op.Stamp) }, nil
	case opEdgeRecord:
		var v models.EdgeRecord
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool { return d.edge(op.Key).record.set(v, op.Stamp) }, nil
	case opLock:
		var v *models.NodeLock
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool {
			reg, ok := d.locks[op.Key]
			if !ok {
				reg = &register[*models.NodeLock]{}
				d.locks[op.Key] = reg
			}
			return reg.set(v, op.Stamp)
		}, nil
	case opColor:
		var v string
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("bad %s op for %q: %w", op.Kind, op.Key, err)
		}
		return func() bool {
			reg, ok := d.colors[op.Key]
			if !ok {
				reg = &register[string]{}
				d.colors[op.Key] = reg
			}
			return reg.set(v, op.Stamp)
		}, nil
	default:
		return nil, fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

func (d *Document) node(id string) *nodeState {
	n, ok := d.nodes[id]
	if !ok {
		n = &nodeState{}
		d.nodes[id] = n
	}
	return n
}

func (d *Document) edge(id string) *edgeState {
	e, ok := d.edges[id]
	if !ok {
		e = &edgeState{}
		d.edges[id] = e
	}
	return e
}

func (d *Document) snapshotChangeListeners() []func() {
	listeners := make([]func(), 0, len(d.changeListeners))
	for _, fn := range d.changeListeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (d *Document) snapshotUpdateListeners() []func([]byte) {
	listeners := make([]func([]byte), 0, len(d.updateListeners))
	for _, fn := range d.updateListeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (n *nodeState) toRecord(id string) models.NodeRecord {
	return models.NodeRecord{
		ID:            id,
		Type:          n.typ.value,
		Position:      n.position.value,
		Data:          n.data.value,
		IsBeingEdited: n.editing.value.IsBeingEdited,
		EditedBy:      n.editing.value.EditedBy,
	}
}

// Node returns the live node with the given id.
func (d *Document) Node(id string) (models.NodeRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok || !n.alive.value {
		return models.NodeRecord{}, false
	}
	return n.toRecord(id), true
}

// Nodes returns all live nodes sorted by id, so projections built from the
// same state are identical.
func (d *Document) Nodes() []models.NodeRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.NodeRecord, 0, len(d.nodes))
	for id, n := range d.nodes {
		if n.alive.value {
			out = append(out, n.toRecord(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edge returns the live edge with the given id.
func (d *Document) Edge(id string) (models.EdgeRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.edges[id]
	if !ok || !e.alive.value {
		return models.EdgeRecord{}, false
	}
	return e.record.value, true
}

// Edges returns all live edges sorted by id.
func (d *Document) Edges() []models.EdgeRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.EdgeRecord, 0, len(d.edges))
	for _, e := range d.edges {
		if e.alive.value {
			out = append(out, e.record.value)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lock returns the current lock on a node, if any.
func (d *Document) Lock(nodeID string) (models.NodeLock, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.locks[nodeID]
	if !ok || reg.value == nil {
		return models.NodeLock{}, false
	}
	return *reg.value, true
}

// Locks returns all currently held locks keyed by node id.
func (d *Document) Locks() map[string]models.NodeLock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]models.NodeLock)
	for id, reg := range d.locks {
		if reg.value != nil {
			out[id] = *reg.value
		}
	}
	return out
}

// Color returns the color assigned to a user in this room.
func (d *Document) Color(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.colors[userID]
	if !ok || reg.value == "" {
		return "", false
	}
	return reg.value, true
}

// Colors returns the room's full userId to color assignment.
func (d *Document) Colors() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.colors))
	for id, reg := range d.colors {
		if reg.value != "" {
			out[id] = reg.value
		}
	}
	return out
}

// HasHistory reports whether any node or edge register exists, live or
// tombstoned. Seeding checks this instead of IsEmpty so a diagram whose
// nodes were all deliberately deleted is not re-seeded from the template.
func (d *Document) HasHistory() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes) > 0 || len(d.edges) > 0
}

// IsEmpty reports whether the document holds no live nodes and no live edges.
func (d *Document) IsEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.nodes {
		if n.alive.value {
			return false
		}
	}
	for _, e := range d.edges {
		if e.alive.value {
			return false
		}
	}
	return true
}
