package session

import "github.com/Ramsey-B/trellis/pkg/models"

// Connection handles on the four sides of a node.
const (
	HandleTop    = "t"
	HandleRight  = "r"
	HandleBottom = "b"
	HandleLeft   = "l"
)

// Rendered node sizing. Hit-testing for connection validity needs the same
// dimensions the canvas draws with, which depend on the label length.
const (
	labelThreshold = 16
	twoLineHeight  = 75

	topicBaseHeight    = 52
	subtopicBaseHeight = 38

	widthBreakSmall  = 5
	widthBreakMedium = 8

	widthSmall  = 72
	widthMedium = 102
	widthLarge  = 170
)

// vec is a 2D vector in canvas coordinates: X+ right, Y+ down.
type vec struct {
	x, y float64
}

func (v vec) dot(o vec) float64 {
	return v.x*o.x + v.y*o.y
}

// handleNormal is the outward direction each handle faces.
func handleNormal(handle string) (vec, bool) {
	switch handle {
	case HandleTop:
		return vec{0, -1}, true
	case HandleRight:
		return vec{1, 0}, true
	case HandleBottom:
		return vec{0, 1}, true
	case HandleLeft:
		return vec{-1, 0}, true
	default:
		return vec{}, false
	}
}

// NodeDimensions returns the rendered width and height of a node. Labels
// longer than the threshold wrap to two lines regardless of type.
func NodeDimensions(label, nodeType string) (width, height float64) {
	length := len([]rune(label))

	height = topicBaseHeight
	if nodeType == models.NodeTypeSubtopic {
		height = subtopicBaseHeight
	}
	if length > labelThreshold {
		height = twoLineHeight
	}

	switch {
	case length <= widthBreakSmall:
		width = widthSmall
	case length <= widthBreakMedium:
		width = widthMedium
	default:
		width = widthLarge
	}
	return width, height
}

func nodeCenter(node models.NodeRecord) vec {
	width, height := NodeDimensions(node.Data.Label, node.Type)
	return vec{node.Position.X + width/2, node.Position.Y + height/2}
}

// ValidConnection reports whether an edge between the two handles is
// geometrically sensible: both handles must face toward the other node's
// center. A missing or unknown handle is always accepted.
func ValidConnection(source, target models.NodeRecord, sourceHandle, targetHandle string) bool {
	if sourceHandle == "" || targetHandle == "" {
		return true
	}
	sourceNormal, ok := handleNormal(sourceHandle)
	if !ok {
		return true
	}
	targetNormal, ok := handleNormal(targetHandle)
	if !ok {
		return true
	}

	sourceCenter := nodeCenter(source)
	targetCenter := nodeCenter(target)

	// Direction from the target toward the source.
	toSource := vec{sourceCenter.x - targetCenter.x, sourceCenter.y - targetCenter.y}

	sourceFacesTarget := sourceNormal.dot(vec{-toSource.x, -toSource.y})
	targetFacesSource := targetNormal.dot(toSource)
	return sourceFacesTarget > 0 && targetFacesSource > 0
}

// NodesConnected reports whether any edge joins the two nodes, in either
// direction.
func NodesConnected(edges []models.EdgeRecord, a, b string) bool {
	for _, e := range edges {
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			return true
		}
	}
	return false
}
