package graphdoc

import (
	"encoding/json"
	"fmt"
)

// Op kinds. Node state is split into per-field registers so concurrent edits
// to different fields of one node both survive a merge; edges, locks and
// colors are whole-record registers.
const (
	opNodeAlive    = "node.alive"
	opNodeType     = "node.type"
	opNodePosition = "node.position"
	opNodeData     = "node.data"
	opNodeEditing  = "node.editing"
	opEdgeRecord   = "edge.record"
	opEdgeAlive    = "edge.alive"
	opLock         = "lock"
	opColor        = "color"
)

// Op is a single register write. Key is the node id, edge id or user id the
// register belongs to.
type Op struct {
	Kind  string          `json:"kind"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Stamp Stamp           `json:"stamp"`
}

// Update is the wire form of one committed transaction (or a full state
// snapshot). Updates are replayable in any order and any number of times.
type Update struct {
	Actor string `json:"actor"`
	Ops   []Op   `json:"ops"`
}

// DecodeUpdate parses update bytes produced by a Document.
func DecodeUpdate(data []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode update: %w", err)
	}
	return &u, nil
}

func (u *Update) encode() ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	return data, nil
}

func makeOp(kind, key string, value any, stamp Stamp) (Op, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Op{}, fmt.Errorf("failed to encode %s op for %q: %w", kind, key, err)
	}
	return Op{Kind: kind, Key: key, Value: raw, Stamp: stamp}, nil
}
