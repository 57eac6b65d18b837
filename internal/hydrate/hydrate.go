// Package hydrate fetches a diagram's initial content from the external
// diagram store and seeds it into an empty document. The endpoint is
// consumed, not owned: its name is always the source of truth for the room
// title, but nodes and edges are only seeded when the document has none.
package hydrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Diagram is the payload returned by the diagram store.
type Diagram struct {
	Name  string        `json:"name"`
	Nodes []DiagramNode `json:"nodes" validate:"dive"`
	Edges []DiagramEdge `json:"edges" validate:"dive"`
}

type DiagramNode struct {
	ID       string          `json:"id" validate:"required"`
	Type     string          `json:"type" validate:"required,oneof=topic subtopic"`
	Position models.Point    `json:"position"`
	Data     models.NodeData `json:"data"`
}

type DiagramEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source" validate:"required"`
	Target       string `json:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// ErrNotFound is returned when the diagram store has no diagram for the id.
var ErrNotFound = fmt.Errorf("diagram not found")

// Client fetches diagrams over HTTP and validates the payload before anyone
// seeds it into a document.
type Client struct {
	baseURL  string
	client   *http.Client
	validate *validator.Validate
	logger   ectologger.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger ectologger.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		validate: validator.New(),
		logger:   logger,
	}
}

// Fetch retrieves and validates the diagram for the given id.
func (c *Client) Fetch(ctx context.Context, diagramID string) (*Diagram, error) {
	ctx, span := tracing.StartSpan(ctx, "hydrate.Fetch")
	defer span.End()

	endpoint := fmt.Sprintf("%s/diagrams/%s", c.baseURL, url.PathEscape(diagramID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build diagram request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.HydrationRequests.WithLabelValues("error").Inc()
		c.logger.WithContext(ctx).WithError(err).WithField("diagram_id", diagramID).Error("diagram fetch failed")
		return nil, fmt.Errorf("diagram fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		metrics.HydrationRequests.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		metrics.HydrationRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("diagram store returned status %d", resp.StatusCode)
	}

	var diagram Diagram
	if err := json.NewDecoder(resp.Body).Decode(&diagram); err != nil {
		metrics.HydrationRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode diagram: %w", err)
	}

	if err := c.validate.Struct(&diagram); err != nil {
		metrics.HydrationRequests.WithLabelValues("invalid").Inc()
		c.logger.WithContext(ctx).WithError(err).WithField("diagram_id", diagramID).Warn("diagram payload failed validation")
		return nil, fmt.Errorf("invalid diagram payload: %w", err)
	}

	metrics.HydrationRequests.WithLabelValues("success").Inc()
	return &diagram, nil
}

// Seed writes the diagram's nodes and edges into the document in one
// transaction, only when the document has never held content. Existing
// history always wins over the template, deletions included.
func Seed(doc *graphdoc.Document, diagram *Diagram) bool {
	if doc.HasHistory() {
		return false
	}

	_ = doc.Transact(func(tx *graphdoc.Txn) {
		for _, node := range diagram.Nodes {
			data := node.Data
			if data.Side == 0 {
				data.Side = models.SideForX(node.Position.X)
			}
			tx.PutNode(models.NodeRecord{
				ID:       node.ID,
				Type:     node.Type,
				Position: node.Position,
				Data:     data,
			})
		}
		for _, edge := range diagram.Edges {
			id := edge.ID
			if id == "" {
				id = models.EdgeID(edge.Source, edge.SourceHandle, edge.Target, edge.TargetHandle)
			}
			tx.PutEdge(models.EdgeRecord{
				ID:           id,
				Source:       edge.Source,
				Target:       edge.Target,
				SourceHandle: edge.SourceHandle,
				TargetHandle: edge.TargetHandle,
			})
		}
	})
	return true
}
