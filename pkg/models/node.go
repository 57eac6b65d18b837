package models

// Node types supported by the diagram.
const (
	NodeTypeTopic    = "topic"
	NodeTypeSubtopic = "subtopic"
)

// Sides of the diagram spine. Side 1 is the right half (x >= 0), side 2 the left.
const (
	SideRight = 1
	SideLeft  = 2
)

// Point is a position on the canvas.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the open data bag carried by every node. Label is the only
// required member; Extra keeps unknown keys round-tripping so older and newer
// clients can share a document.
type NodeData struct {
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Resources   []string       `json:"resources,omitempty"`
	Side        int            `json:"side,omitempty"`
	ParentID    string         `json:"parentId,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NodeRecord is a single node of the learning-path diagram.
type NodeRecord struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Position      Point    `json:"position"`
	Data          NodeData `json:"data"`
	IsBeingEdited bool     `json:"isBeingEdited"`
	EditedBy      string   `json:"editedBy,omitempty"`
}

// SideForX derives the diagram side from an x coordinate.
func SideForX(x float64) int {
	if x >= 0 {
		return SideRight
	}
	return SideLeft
}
