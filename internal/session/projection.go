package session

import (
	"sync"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/models"
)

// Projection is the canvas-facing view of the shared document: nodes in
// stable insertion order plus selection state, which is local to this client
// and never written to the document.
type Projection struct {
	mu            sync.RWMutex
	order         []string
	nodes         map[string]models.NodeRecord
	edges         []models.EdgeRecord
	selectedNodes map[string]bool
	selectedEdges map[string]bool
}

func NewProjection() *Projection {
	return &Projection{
		nodes:         make(map[string]models.NodeRecord),
		selectedNodes: make(map[string]bool),
		selectedEdges: make(map[string]bool),
	}
}

// Refresh rebuilds the projection from the document. Surviving nodes keep
// their place in the order; nodes seen for the first time are appended.
// Auto-placement of new nodes depends on this order staying stable.
func (p *Projection) Refresh(doc *graphdoc.Document) {
	live := doc.Nodes()
	edges := doc.Edges()

	p.mu.Lock()
	defer p.mu.Unlock()

	byID := make(map[string]models.NodeRecord, len(live))
	for _, n := range live {
		byID[n.ID] = n
	}

	order := p.order[:0]
	for _, id := range p.order {
		if _, ok := byID[id]; ok {
			order = append(order, id)
		} else {
			delete(p.selectedNodes, id)
		}
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, n := range live {
		if !seen[n.ID] {
			order = append(order, n.ID)
		}
	}

	liveEdges := make(map[string]bool, len(edges))
	for _, e := range edges {
		liveEdges[e.ID] = true
	}
	for id := range p.selectedEdges {
		if !liveEdges[id] {
			delete(p.selectedEdges, id)
		}
	}

	p.order = order
	p.nodes = byID
	p.edges = edges
}

// Nodes returns the live nodes in insertion order.
func (p *Projection) Nodes() []models.NodeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.NodeRecord, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.nodes[id])
	}
	return out
}

// Node returns one node by id.
func (p *Projection) Node(id string) (models.NodeRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[id]
	return n, ok
}

// Edges returns the live edges.
func (p *Projection) Edges() []models.EdgeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.EdgeRecord, len(p.edges))
	copy(out, p.edges)
	return out
}

// SelectNode marks a node selected or deselected on this client only.
func (p *Projection) SelectNode(id string, selected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selected {
		p.selectedNodes[id] = true
	} else {
		delete(p.selectedNodes, id)
	}
}

// SelectEdge marks an edge selected or deselected on this client only.
func (p *Projection) SelectEdge(id string, selected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selected {
		p.selectedEdges[id] = true
	} else {
		delete(p.selectedEdges, id)
	}
}

// NodeSelected reports this client's selection state for a node.
func (p *Projection) NodeSelected(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selectedNodes[id]
}

// EdgeSelected reports this client's selection state for an edge.
func (p *Projection) EdgeSelected(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selectedEdges[id]
}

// SelectedNodes returns the ids of selected nodes in insertion order.
func (p *Projection) SelectedNodes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.selectedNodes))
	for _, id := range p.order {
		if p.selectedNodes[id] {
			out = append(out, id)
		}
	}
	return out
}
