package models

import "fmt"

// EdgeRecord connects two nodes. The id is a deterministic function of the
// endpoints and handles, so reconnecting the same handle pair overwrites the
// existing edge instead of duplicating it.
type EdgeRecord struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// EdgeID builds the deterministic edge id for a handle pair.
func EdgeID(source, sourceHandle, target, targetHandle string) string {
	return fmt.Sprintf("e%s%s-%s%s", source, sourceHandle, target, targetHandle)
}

// Touches reports whether the edge is incident to the given node.
func (e EdgeRecord) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}
