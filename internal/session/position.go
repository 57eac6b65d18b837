package session

import "github.com/Ramsey-B/trellis/pkg/models"

// Spacing between automatically placed nodes. Topics alternate across the
// vertical spine; subtopics hang off the most recent node.
const (
	topicSpacingX    = 200
	topicSpacingY    = 200
	subtopicSpacingX = 200
	subtopicSpacingY = 50
)

func lastOfType(nodes []models.NodeRecord, nodeType string) (models.NodeRecord, bool) {
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].Type == nodeType {
			return nodes[i], true
		}
	}
	return models.NodeRecord{}, false
}

func countOfType(nodes []models.NodeRecord, nodeType string) int {
	count := 0
	for _, n := range nodes {
		if n.Type == nodeType {
			count++
		}
	}
	return count
}

// topicPosition places a new topic below the previous one, alternating left
// and right of the spine. The first topic sits on the spine itself.
func topicPosition(nodes []models.NodeRecord) models.Point {
	count := countOfType(nodes, models.NodeTypeTopic)

	var lastPos models.Point
	if last, ok := lastOfType(nodes, models.NodeTypeTopic); ok {
		lastPos = last.Position
	}

	var x float64
	switch {
	case count == 0:
		x = 0
	case count%2 == 0:
		x = -topicSpacingX
	default:
		x = topicSpacingX
	}

	return models.Point{X: x, Y: lastPos.Y + topicSpacingY}
}

// subtopicPosition places a new subtopic relative to the most recently added
// node of any type. Directly after a topic it steps sideways and slightly up;
// after another subtopic it stacks straight down.
func subtopicPosition(nodes []models.NodeRecord) models.Point {
	var last models.NodeRecord
	if len(nodes) > 0 {
		last = nodes[len(nodes)-1]
	}

	topicCount := countOfType(nodes, models.NodeTypeTopic)
	xOffset := float64(subtopicSpacingX)
	if topicCount%2 != 0 {
		xOffset = -subtopicSpacingX
	}

	if last.Type == models.NodeTypeTopic {
		return models.Point{X: last.Position.X + xOffset, Y: last.Position.Y - subtopicSpacingY}
	}
	return models.Point{X: last.Position.X, Y: last.Position.Y + subtopicSpacingY}
}

// AutoPosition picks a canvas position for a new node of the given type.
// The node list must be in insertion order; placement depends on it.
func AutoPosition(nodeType string, nodes []models.NodeRecord) models.Point {
	switch nodeType {
	case models.NodeTypeTopic:
		return topicPosition(nodes)
	case models.NodeTypeSubtopic:
		return subtopicPosition(nodes)
	default:
		return models.Point{}
	}
}
