package graphdoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

func topicNode(id string, x, y float64) models.NodeRecord {
	return models.NodeRecord{
		ID:       id,
		Type:     models.NodeTypeTopic,
		Position: models.Point{X: x, Y: y},
		Data:     models.NodeData{Label: id, Side: models.SideForX(x)},
	}
}

func TestTransactPutNode(t *testing.T) {
	doc := New("actor-1")

	err := doc.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("topic-a", 100, 0))
	})
	require.NoError(t, err)

	node, ok := doc.Node("topic-a")
	require.True(t, ok)
	assert.Equal(t, models.NodeTypeTopic, node.Type)
	assert.Equal(t, models.Point{X: 100, Y: 0}, node.Position)
	assert.Equal(t, models.SideRight, node.Data.Side)
	assert.False(t, doc.IsEmpty())
}

func TestTransactDeleteNodeWithEdges(t *testing.T) {
	doc := New("actor-1")

	require.NoError(t, doc.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("a", 0, 0))
		tx.PutNode(topicNode("b", 300, 0))
		tx.PutEdge(models.EdgeRecord{ID: "eab", Source: "a", Target: "b"})
	}))

	require.NoError(t, doc.Transact(func(tx *Txn) {
		tx.DeleteNode("a")
		for _, edge := range tx.Edges() {
			if edge.Touches("a") {
				tx.DeleteEdge(edge.ID)
			}
		}
	}))

	_, ok := doc.Node("a")
	assert.False(t, ok)
	assert.Empty(t, doc.Edges())

	_, ok = doc.Node("b")
	assert.True(t, ok)
}

func TestSubscribeFiresOncePerTransaction(t *testing.T) {
	doc := New("actor-1")

	notified := 0
	cancel := doc.Subscribe(func() { notified++ })
	defer cancel()

	require.NoError(t, doc.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("a", 0, 0))
		tx.PutNode(topicNode("b", 300, 0))
		tx.PutEdge(models.EdgeRecord{ID: "eab", Source: "a", Target: "b"})
	}))

	assert.Equal(t, 1, notified)

	// An empty transaction must not notify
	require.NoError(t, doc.Transact(func(tx *Txn) {}))
	assert.Equal(t, 1, notified)
}

func TestApplyUpdateConvergence(t *testing.T) {
	docA := New("actor-a")
	docB := New("actor-b")

	var updatesA, updatesB [][]byte
	docA.OnLocalUpdate(func(u []byte) { updatesA = append(updatesA, u) })
	docB.OnLocalUpdate(func(u []byte) { updatesB = append(updatesB, u) })

	// Concurrent divergent edits
	require.NoError(t, docA.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("n1", 100, 0))
	}))
	require.NoError(t, docB.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("n2", -100, 0))
		tx.PutEdge(models.EdgeRecord{ID: "e12", Source: "n1", Target: "n2"})
	}))

	// Exchange in opposite orders
	for _, u := range updatesB {
		require.NoError(t, docA.ApplyUpdate(u))
	}
	for _, u := range updatesA {
		require.NoError(t, docB.ApplyUpdate(u))
	}

	assert.Equal(t, docA.Nodes(), docB.Nodes())
	assert.Equal(t, docA.Edges(), docB.Edges())
	assert.Len(t, docA.Nodes(), 2)
	assert.Len(t, docA.Edges(), 1)
}

func TestApplyUpdateIdempotent(t *testing.T) {
	docA := New("actor-a")
	docB := New("actor-b")

	var update []byte
	docA.OnLocalUpdate(func(u []byte) { update = u })

	require.NoError(t, docA.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("n1", 100, 0))
	}))
	require.NotNil(t, update)

	require.NoError(t, docB.ApplyUpdate(update))
	require.NoError(t, docB.ApplyUpdate(update))
	require.NoError(t, docB.ApplyUpdate(update))

	assert.Equal(t, docA.Nodes(), docB.Nodes())
}

func TestConcurrentFieldEditsBothSurvive(t *testing.T) {
	base := New("seed")
	var seed []byte
	base.OnLocalUpdate(func(u []byte) { seed = u })
	require.NoError(t, base.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("n1", 0, 0))
	}))

	docA := New("actor-a")
	docB := New("actor-b")
	require.NoError(t, docA.ApplyUpdate(seed))
	require.NoError(t, docB.ApplyUpdate(seed))

	var updateA, updateB []byte
	docA.OnLocalUpdate(func(u []byte) { updateA = u })
	docB.OnLocalUpdate(func(u []byte) { updateB = u })

	// A moves the node while B relabels it
	require.NoError(t, docA.Transact(func(tx *Txn) {
		tx.SetNodePosition("n1", models.Point{X: 500, Y: 50})
	}))
	require.NoError(t, docB.Transact(func(tx *Txn) {
		tx.SetNodeData("n1", models.NodeData{Label: "renamed", Side: models.SideRight})
	}))

	require.NoError(t, docA.ApplyUpdate(updateB))
	require.NoError(t, docB.ApplyUpdate(updateA))

	nodeA, _ := docA.Node("n1")
	nodeB, _ := docB.Node("n1")
	assert.Equal(t, nodeA, nodeB)
	assert.Equal(t, models.Point{X: 500, Y: 50}, nodeA.Position)
	assert.Equal(t, "renamed", nodeA.Data.Label)
}

func TestConcurrentSameFieldDeterministicWinner(t *testing.T) {
	docA := New("actor-a")
	docB := New("actor-b")

	var updateA, updateB []byte
	docA.OnLocalUpdate(func(u []byte) { updateA = u })
	docB.OnLocalUpdate(func(u []byte) { updateB = u })

	require.NoError(t, docA.Transact(func(tx *Txn) {
		tx.SetColor("user-1", "#6366f1")
	}))
	require.NoError(t, docB.Transact(func(tx *Txn) {
		tx.SetColor("user-1", "#14b8a6")
	}))

	require.NoError(t, docA.ApplyUpdate(updateB))
	require.NoError(t, docB.ApplyUpdate(updateA))

	colorA, _ := docA.Color("user-1")
	colorB, _ := docB.Color("user-1")
	assert.Equal(t, colorA, colorB)
	// Equal clocks, so the higher actor id wins
	assert.Equal(t, "#14b8a6", colorA)
}

func TestEncodeStateReplay(t *testing.T) {
	doc := New("actor-a")
	require.NoError(t, doc.Transact(func(tx *Txn) {
		tx.PutNode(topicNode("a", 100, 0))
		tx.PutNode(topicNode("b", -100, 0))
		tx.PutEdge(models.EdgeRecord{ID: "eab", Source: "a", Target: "b"})
		tx.SetColor("user-1", "#6366f1")
		tx.SetLock("a", &models.NodeLock{NodeID: "a", UserID: "user-1", UserName: "Ada"})
	}))
	require.NoError(t, doc.Transact(func(tx *Txn) {
		tx.DeleteNode("b")
	}))

	state, err := doc.EncodeState()
	require.NoError(t, err)

	fresh := New("actor-fresh")
	require.NoError(t, fresh.ApplyUpdate(state))

	assert.Equal(t, doc.Nodes(), fresh.Nodes())
	assert.Equal(t, doc.Edges(), fresh.Edges())
	assert.Equal(t, doc.Colors(), fresh.Colors())
	assert.Equal(t, doc.Locks(), fresh.Locks())

	// Tombstone must survive the snapshot so a late "b" edit cannot revive it
	_, ok := fresh.Node("b")
	assert.False(t, ok)
}

func TestLockRegisterRoundTrip(t *testing.T) {
	doc := New("actor-a")

	require.NoError(t, doc.Transact(func(tx *Txn) {
		tx.SetLock("n1", &models.NodeLock{NodeID: "n1", UserID: "u1", UserName: "Ada"})
	}))

	lock, ok := doc.Lock("n1")
	require.True(t, ok)
	assert.Equal(t, "u1", lock.UserID)

	require.NoError(t, doc.Transact(func(tx *Txn) {
		tx.SetLock("n1", nil)
	}))

	_, ok = doc.Lock("n1")
	assert.False(t, ok)
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	doc := New("actor-a")
	err := doc.ApplyUpdate([]byte("not json"))
	assert.Error(t, err)
}

func TestApplyUpdateIsAllOrNothing(t *testing.T) {
	doc := New("actor-a")

	bad := Update{
		Actor: "actor-b",
		Ops: []Op{
			{Kind: opNodeAlive, Key: "topic-a", Value: json.RawMessage(`true`), Stamp: Stamp{Clock: 1, Actor: "actor-b"}},
			{Kind: opNodePosition, Key: "topic-a", Value: json.RawMessage(`"not a point"`), Stamp: Stamp{Clock: 2, Actor: "actor-b"}},
		},
	}
	data, err := bad.encode()
	require.NoError(t, err)

	require.Error(t, doc.ApplyUpdate(data))

	// The valid first op must not have landed either.
	_, ok := doc.Node("topic-a")
	assert.False(t, ok)
	assert.Empty(t, doc.Nodes())

	t.Run("unknown kind", func(t *testing.T) {
		bad := Update{
			Actor: "actor-b",
			Ops: []Op{
				{Kind: opNodeAlive, Key: "topic-b", Value: json.RawMessage(`true`), Stamp: Stamp{Clock: 3, Actor: "actor-b"}},
				{Kind: "node.bogus", Key: "topic-b", Value: json.RawMessage(`true`), Stamp: Stamp{Clock: 4, Actor: "actor-b"}},
			},
		}
		data, err := bad.encode()
		require.NoError(t, err)

		require.Error(t, doc.ApplyUpdate(data))
		_, ok := doc.Node("topic-b")
		assert.False(t, ok)
	})
}
