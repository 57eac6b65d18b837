package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/internal/hydrate"
	"github.com/Ramsey-B/trellis/internal/store"
	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/kafka"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/presence"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// HubConfig wires the hub's collaborators. Hydrator and Producer are
// optional; Log may be nil in relay-only deployments.
type HubConfig struct {
	Log             store.UpdateLog
	Hydrator        *hydrate.Client
	Producer        *kafka.Producer
	Logger          ectologger.Logger
	PresenceTimeout time.Duration
	SweepInterval   time.Duration
}

// Hub owns the live rooms: one Room per `community/diagramId`, created on
// first join by replaying the update log and hydrating the diagram, and torn
// down when its last client leaves.
type Hub struct {
	cfg HubConfig

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = presence.DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Hub{
		cfg:   cfg,
		rooms: make(map[string]*Room),
	}
}

// RoomID builds the room key for a community and diagram.
func RoomID(community, diagram string) string {
	return community + "/" + diagram
}

// Room returns the live room for a diagram, binding it first if needed.
func (h *Hub) Room(ctx context.Context, community, diagram string) (*Room, error) {
	key := RoomID(community, diagram)

	h.mu.Lock()
	if room, ok := h.rooms[key]; ok {
		h.mu.Unlock()
		return room, nil
	}
	h.mu.Unlock()

	room, err := h.bind(ctx, key, community, diagram)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if existing, ok := h.rooms[key]; ok {
		// Lost the race; drop ours.
		h.mu.Unlock()
		room.close()
		return existing, nil
	}
	h.rooms[key] = room
	h.mu.Unlock()

	metrics.RoomsActive.Inc()
	room.publishEvent(ctx, kafka.EventRoomOpened, models.User{}, 0)
	return room, nil
}

// bind builds a room's document: replay the persisted log, then hydrate the
// title and, for a document that has never had content, the seed template.
func (h *Hub) bind(ctx context.Context, key, community, diagram string) (*Room, error) {
	ctx, span := tracing.StartSpan(ctx, "Hub.bind")
	defer span.End()

	doc := graphdoc.New("relay:" + key)
	ephemeral := store.IsEphemeral(key)

	if !ephemeral && h.cfg.Log != nil {
		records, err := h.cfg.Log.GetDocument(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			if err := doc.ApplyUpdate(record); err != nil {
				h.cfg.Logger.WithContext(ctx).WithError(err).WithField("room_id", key).
					Warn("skipping corrupt update record")
			}
		}
	}

	title := diagram
	if h.cfg.Hydrator != nil {
		diagramDoc, err := h.cfg.Hydrator.Fetch(ctx, diagram)
		switch {
		case err == nil:
			if diagramDoc.Name != "" {
				title = diagramDoc.Name
			}
			h.seed(ctx, key, doc, diagramDoc, ephemeral)
		case errors.Is(err, hydrate.ErrNotFound):
			h.cfg.Logger.WithContext(ctx).WithField("diagram_id", diagram).Info("Diagram not found, starting blank")
		default:
			h.cfg.Logger.WithContext(ctx).WithError(err).WithField("diagram_id", diagram).
				Warn("hydration failed, starting from persisted state only")
		}
	}

	h.cfg.Logger.WithContext(ctx).WithFields(map[string]any{
		"room_id":   key,
		"title":     title,
		"ephemeral": ephemeral,
	}).Infof("Bound room %s", key)

	return newRoom(key, community, diagram, title, doc, h.cfg.Log, h.cfg.Producer, h.cfg.Logger,
		h.cfg.PresenceTimeout, h.cfg.SweepInterval, h.release), nil
}

// seed applies the hydrated template to a never-edited document and persists
// the resulting update so later binds replay it instead of re-seeding.
func (h *Hub) seed(ctx context.Context, key string, doc *graphdoc.Document, diagramDoc *hydrate.Diagram, ephemeral bool) {
	var seedUpdates [][]byte
	unsub := doc.OnLocalUpdate(func(update []byte) {
		seedUpdates = append(seedUpdates, update)
	})
	seeded := hydrate.Seed(doc, diagramDoc)
	unsub()
	if !seeded {
		return
	}

	if ephemeral || h.cfg.Log == nil {
		return
	}
	for _, update := range seedUpdates {
		if err := h.cfg.Log.AppendUpdate(ctx, key, update); err != nil {
			h.cfg.Logger.WithContext(ctx).WithError(err).WithField("room_id", key).
				Warn("failed to persist seed, document will re-seed on next bind")
			return
		}
	}
}

// release is called by a room when its last client leaves.
func (h *Hub) release(room *Room) {
	h.mu.Lock()
	if h.rooms[room.id] != room || room.PeerCount() > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, room.id)
	h.mu.Unlock()

	room.close()
	metrics.RoomsActive.Dec()
	room.publishEvent(context.Background(), kafka.EventRoomClosed, models.User{}, 0)
	h.cfg.Logger.WithField("room_id", room.id).Infof("Closed room %s", room.id)
}

// Clear wipes an ephemeral room: disconnects its clients and deletes its log
// records. Non-ephemeral rooms are refused by the update log.
func (h *Hub) Clear(ctx context.Context, community, diagram string, by models.User) error {
	key := RoomID(community, diagram)

	if h.cfg.Log != nil {
		if err := h.cfg.Log.ClearDocument(ctx, key); err != nil {
			return err
		}
	} else if !store.IsEphemeral(key) {
		return store.ErrClearNotAllowed
	}

	h.mu.Lock()
	room := h.rooms[key]
	delete(h.rooms, key)
	h.mu.Unlock()

	if room != nil {
		room.close()
		metrics.RoomsActive.Dec()
	}

	h.cfg.Logger.WithContext(ctx).WithFields(map[string]any{
		"room_id": key,
		"user_id": by.ID,
	}).Infof("Cleared room %s", key)
	if h.cfg.Producer != nil {
		event := &kafka.ActivityEvent{
			Type:      kafka.EventDocumentCleared,
			Community: community,
			RoomID:    key,
			UserID:    by.ID,
			UserName:  by.Name,
			Timestamp: time.Now().UTC(),
		}
		if err := h.cfg.Producer.Publish(ctx, event); err != nil {
			h.cfg.Logger.WithContext(ctx).WithError(err).Warn("failed to publish clear event")
		}
	}
	return nil
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Startup dependency wiring.

func (h *Hub) GetName() string { return "hub" }

func (h *Hub) DependsOn() []string {
	var deps []string
	if h.cfg.Log != nil {
		deps = append(deps, "update-log")
	}
	if h.cfg.Producer != nil {
		deps = append(deps, "kafka")
	}
	return deps
}

func (h *Hub) Start(ctx context.Context) error { return nil }

// Stop closes every live room.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, room := range rooms {
		room.close()
		metrics.RoomsActive.Dec()
	}
	return nil
}
