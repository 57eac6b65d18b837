package graphdoc

import "github.com/Ramsey-B/trellis/pkg/models"

// Txn batches register writes into one update. Every write is applied to the
// document immediately (reads inside the transaction see earlier writes) but
// listeners are notified once, after commit.
type Txn struct {
	doc     *Document
	ops     []Op
	changed bool
	err     error
}

// Transact runs fn, commits the batched ops as a single update, and notifies
// local-update listeners with the encoded bytes and change listeners once.
// An empty transaction commits nothing and notifies nobody.
func (d *Document) Transact(fn func(tx *Txn)) error {
	d.mu.Lock()
	tx := &Txn{doc: d}
	fn(tx)

	if tx.err != nil {
		d.mu.Unlock()
		return tx.err
	}
	if len(tx.ops) == 0 {
		d.mu.Unlock()
		return nil
	}

	update := Update{Actor: d.actor, Ops: tx.ops}
	data, err := update.encode()
	if err != nil {
		d.mu.Unlock()
		return err
	}

	updateListeners := d.snapshotUpdateListeners()
	changeListeners := d.snapshotChangeListeners()
	changed := tx.changed
	d.mu.Unlock()

	for _, fn := range updateListeners {
		fn(data)
	}
	if changed {
		for _, fn := range changeListeners {
			fn()
		}
	}
	return nil
}

func (tx *Txn) write(kind, key string, value any) {
	if tx.err != nil {
		return
	}
	tx.doc.clock++
	stamp := Stamp{Clock: tx.doc.clock, Actor: tx.doc.actor}
	op, err := makeOp(kind, key, value, stamp)
	if err != nil {
		tx.err = err
		return
	}
	changed, err := tx.doc.apply(op)
	if err != nil {
		tx.err = err
		return
	}
	tx.ops = append(tx.ops, op)
	tx.changed = tx.changed || changed
}

// PutNode writes every field of a node and marks it live.
func (tx *Txn) PutNode(node models.NodeRecord) {
	tx.write(opNodeAlive, node.ID, true)
	tx.write(opNodeType, node.ID, node.Type)
	tx.write(opNodePosition, node.ID, node.Position)
	tx.write(opNodeData, node.ID, node.Data)
	tx.write(opNodeEditing, node.ID, editState{
		IsBeingEdited: node.IsBeingEdited,
		EditedBy:      node.EditedBy,
	})
}

// SetNodePosition writes only the position register.
func (tx *Txn) SetNodePosition(id string, position models.Point) {
	tx.write(opNodePosition, id, position)
}

// SetNodeData writes only the data register.
func (tx *Txn) SetNodeData(id string, data models.NodeData) {
	tx.write(opNodeData, id, data)
}

// SetNodeEditing writes the edit-marker register.
func (tx *Txn) SetNodeEditing(id string, isBeingEdited bool, editedBy string) {
	tx.write(opNodeEditing, id, editState{
		IsBeingEdited: isBeingEdited,
		EditedBy:      editedBy,
	})
}

// DeleteNode tombstones a node. Incident edges are the caller's concern and
// belong in the same transaction.
func (tx *Txn) DeleteNode(id string) {
	tx.write(opNodeAlive, id, false)
}

// PutEdge writes the edge record and marks it live. Writing an existing id
// overwrites the record.
func (tx *Txn) PutEdge(edge models.EdgeRecord) {
	tx.write(opEdgeAlive, edge.ID, true)
	tx.write(opEdgeRecord, edge.ID, edge)
}

// DeleteEdge tombstones an edge.
func (tx *Txn) DeleteEdge(id string) {
	tx.write(opEdgeAlive, id, false)
}

// SetLock writes a node's lock register. A nil lock means unlocked.
func (tx *Txn) SetLock(nodeID string, lock *models.NodeLock) {
	tx.write(opLock, nodeID, lock)
}

// SetColor writes a user's room color assignment.
func (tx *Txn) SetColor(userID, color string) {
	tx.write(opColor, userID, color)
}

// Reads below see the transaction's earlier writes. Document methods must not
// be called inside Transact, it holds the write lock.

// Node returns the live node with the given id as of the transaction.
func (tx *Txn) Node(id string) (models.NodeRecord, bool) {
	n, ok := tx.doc.nodes[id]
	if !ok || !n.alive.value {
		return models.NodeRecord{}, false
	}
	return n.toRecord(id), true
}

// Edges returns all live edges as of the transaction.
func (tx *Txn) Edges() []models.EdgeRecord {
	out := make([]models.EdgeRecord, 0, len(tx.doc.edges))
	for _, e := range tx.doc.edges {
		if e.alive.value {
			out = append(out, e.record.value)
		}
	}
	return out
}

// Nodes returns all live nodes as of the transaction.
func (tx *Txn) Nodes() []models.NodeRecord {
	out := make([]models.NodeRecord, 0, len(tx.doc.nodes))
	for id, n := range tx.doc.nodes {
		if n.alive.value {
			out = append(out, n.toRecord(id))
		}
	}
	return out
}

// Lock returns the current lock on a node as of the transaction.
func (tx *Txn) Lock(nodeID string) (models.NodeLock, bool) {
	reg, ok := tx.doc.locks[nodeID]
	if !ok || reg.value == nil {
		return models.NodeLock{}, false
	}
	return *reg.value, true
}

// Colors returns the room's color assignment as of the transaction.
func (tx *Txn) Colors() map[string]string {
	out := make(map[string]string, len(tx.doc.colors))
	for id, reg := range tx.doc.colors {
		if reg.value != "" {
			out[id] = reg.value
		}
	}
	return out
}
