package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

func placed(id, nodeType string, x, y float64) models.NodeRecord {
	return models.NodeRecord{
		ID:       id,
		Type:     nodeType,
		Position: models.Point{X: x, Y: y},
		Data:     models.NodeData{Label: id, Side: models.SideForX(x)},
	}
}

func TestAutoPositionTopicsAlternateSides(t *testing.T) {
	var nodes []models.NodeRecord

	first := AutoPosition(models.NodeTypeTopic, nodes)
	require.Equal(t, models.Point{X: 0, Y: 200}, first)
	nodes = append(nodes, placed("t1", models.NodeTypeTopic, first.X, first.Y))

	second := AutoPosition(models.NodeTypeTopic, nodes)
	require.Equal(t, models.Point{X: 200, Y: 400}, second)
	nodes = append(nodes, placed("t2", models.NodeTypeTopic, second.X, second.Y))

	third := AutoPosition(models.NodeTypeTopic, nodes)
	require.Equal(t, models.Point{X: -200, Y: 600}, third)
}

func TestAutoPositionSubtopicAfterTopic(t *testing.T) {
	nodes := []models.NodeRecord{placed("t1", models.NodeTypeTopic, 0, 200)}

	// One topic on the board, so subtopics hang off its left.
	pos := AutoPosition(models.NodeTypeSubtopic, nodes)
	require.Equal(t, models.Point{X: -200, Y: 150}, pos)
	nodes = append(nodes, placed("s1", models.NodeTypeSubtopic, pos.X, pos.Y))

	// Following subtopics stack straight down from the previous one.
	next := AutoPosition(models.NodeTypeSubtopic, nodes)
	require.Equal(t, models.Point{X: -200, Y: 200}, next)
}

func TestAutoPositionSubtopicSideFollowsTopicCount(t *testing.T) {
	nodes := []models.NodeRecord{
		placed("t1", models.NodeTypeTopic, 0, 200),
		placed("t2", models.NodeTypeTopic, 200, 400),
	}

	// Even topic count puts the next subtopic to the right of the last node.
	pos := AutoPosition(models.NodeTypeSubtopic, nodes)
	require.Equal(t, models.Point{X: 400, Y: 350}, pos)
}

func TestAutoPositionEmptyBoard(t *testing.T) {
	require.Equal(t, models.Point{X: 0, Y: 50}, AutoPosition(models.NodeTypeSubtopic, nil))
	require.Equal(t, models.Point{}, AutoPosition("unknown", nil))
}
