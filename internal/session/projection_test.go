package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/models"
)

func nodeIDs(nodes []models.NodeRecord) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestProjectionKeepsFirstSeenOrder(t *testing.T) {
	doc := graphdoc.New("actor")
	proj := NewProjection()

	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("zz", models.NodeTypeTopic, 0, 0))
	}))
	proj.Refresh(doc)
	require.Equal(t, []string{"zz"}, nodeIDs(proj.Nodes()))

	// A node added later keeps its place after zz even though it sorts first.
	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("aa", models.NodeTypeTopic, 200, 200))
	}))
	proj.Refresh(doc)
	require.Equal(t, []string{"zz", "aa"}, nodeIDs(proj.Nodes()))

	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.DeleteNode("zz")
	}))
	proj.Refresh(doc)
	require.Equal(t, []string{"aa"}, nodeIDs(proj.Nodes()))
}

func TestProjectionSelectionIsLocal(t *testing.T) {
	doc := graphdoc.New("actor")
	proj := NewProjection()

	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 0, 0))
		tx.PutNode(placed("n2", models.NodeTypeTopic, 200, 200))
	}))
	proj.Refresh(doc)

	proj.SelectNode("n1", true)
	proj.SelectNode("n2", true)
	proj.SelectNode("n2", false)
	require.True(t, proj.NodeSelected("n1"))
	require.False(t, proj.NodeSelected("n2"))
	require.Equal(t, []string{"n1"}, proj.SelectedNodes())

	// Selection does not touch the document.
	n1, ok := doc.Node("n1")
	require.True(t, ok)
	require.False(t, n1.IsBeingEdited)
}

func TestProjectionDropsSelectionOfRemovedNodes(t *testing.T) {
	doc := graphdoc.New("actor")
	proj := NewProjection()

	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 0, 0))
	}))
	proj.Refresh(doc)
	proj.SelectNode("n1", true)

	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.DeleteNode("n1")
	}))
	proj.Refresh(doc)
	require.False(t, proj.NodeSelected("n1"))
	require.Empty(t, proj.SelectedNodes())
}

func TestProjectionEdges(t *testing.T) {
	doc := graphdoc.New("actor")
	proj := NewProjection()

	edge := models.EdgeRecord{ID: "e1", Source: "a", Target: "b"}
	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("a", models.NodeTypeTopic, 0, 0))
		tx.PutNode(placed("b", models.NodeTypeTopic, 200, 0))
		tx.PutEdge(edge)
	}))
	proj.Refresh(doc)
	require.Equal(t, []models.EdgeRecord{edge}, proj.Edges())

	proj.SelectEdge("e1", true)
	require.True(t, proj.EdgeSelected("e1"))

	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.DeleteEdge("e1")
	}))
	proj.Refresh(doc)
	require.Empty(t, proj.Edges())
	require.False(t, proj.EdgeSelected("e1"))
}
