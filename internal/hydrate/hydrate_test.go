package hydrate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestFetchValidDiagram(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/diagrams/lp-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "Intro to Go",
			"nodes": [{"id": "n1", "type": "topic", "position": {"x": 100, "y": 0}, "data": {"label": "Basics"}}],
			"edges": []
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())
	diagram, err := client.Fetch(context.Background(), "lp-1")
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", diagram.Name)
	require.Len(t, diagram.Nodes, 1)
	assert.Equal(t, "n1", diagram.Nodes[0].ID)
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())
	_, err := client.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchRejectsInvalidPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Node with a bogus type must not pass validation
		_, _ = w.Write([]byte(`{
			"name": "Broken",
			"nodes": [{"id": "n1", "type": "banner", "position": {"x": 0, "y": 0}, "data": {"label": "x"}}],
			"edges": []
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())
	_, err := client.Fetch(context.Background(), "lp-1")
	assert.Error(t, err)
}

func TestSeedOnlyWhenEmpty(t *testing.T) {
	diagram := &Diagram{
		Name: "Template",
		Nodes: []DiagramNode{
			{ID: "n1", Type: models.NodeTypeTopic, Position: models.Point{X: 100, Y: 0}, Data: models.NodeData{Label: "Basics"}},
		},
		Edges: []DiagramEdge{
			{Source: "n1", Target: "n1", SourceHandle: "r", TargetHandle: "l"},
		},
	}

	doc := graphdoc.New("actor-1")
	require.True(t, Seed(doc, diagram))

	node, ok := doc.Node("n1")
	require.True(t, ok)
	assert.Equal(t, models.SideRight, node.Data.Side)

	edges := doc.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, models.EdgeID("n1", "r", "n1", "l"), edges[0].ID)

	// A non-empty document keeps its own state, deletions included
	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.DeleteNode("n1")
		tx.DeleteEdge(edges[0].ID)
	}))
	assert.False(t, Seed(doc, diagram))
	_, ok = doc.Node("n1")
	assert.False(t, ok)
}
