package relay

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/internal/store"
	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/kafka"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/presence"
	"github.com/Ramsey-B/trellis/pkg/tracing"
	"github.com/Ramsey-B/trellis/pkg/wire"
)

// Room is one shared diagram: the authoritative document replica, the room's
// presence, and the fan-out set of connected clients. Ephemeral rooms (the
// test- prefix) are never written to the update log.
type Room struct {
	id        string
	community string
	diagram   string
	title     string
	ephemeral bool

	doc      *graphdoc.Document
	presence *presence.Set
	log      store.UpdateLog
	producer *kafka.Producer
	logger   ectologger.Logger

	presenceTimeout time.Duration

	mu       sync.Mutex
	clients  map[*client]bool
	degraded bool
	onEmpty  func(*Room)

	done      chan struct{}
	closeOnce sync.Once
}

func newRoom(id, community, diagram, title string, doc *graphdoc.Document, log store.UpdateLog, producer *kafka.Producer, logger ectologger.Logger, presenceTimeout, sweepInterval time.Duration, onEmpty func(*Room)) *Room {
	r := &Room{
		id:              id,
		community:       community,
		diagram:         diagram,
		title:           title,
		ephemeral:       store.IsEphemeral(id),
		doc:             doc,
		presence:        presence.NewSet(),
		log:             log,
		producer:        producer,
		logger:          logger,
		presenceTimeout: presenceTimeout,
		clients:         make(map[*client]bool),
		onEmpty:         onEmpty,
		done:            make(chan struct{}),
	}
	go r.sweepLoop(sweepInterval)
	return r
}

// ID is the room key, `community/diagramId`.
func (r *Room) ID() string { return r.id }

// Title is the diagram name delivered with every snapshot.
func (r *Room) Title() string { return r.title }

// Document exposes the authoritative replica.
func (r *Room) Document() *graphdoc.Document { return r.doc }

// PeerCount is the number of connected clients.
func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// join admits a client: it receives the full snapshot before any relayed
// frame, then joins the fan-out set. The snapshot is encoded while holding
// the room mutex so no update can be applied and fanned out between the
// encode and the client entering the set; an update racing the encode is at
// worst delivered twice, which the document merge absorbs.
func (r *Room) join(ctx context.Context, c *client) error {
	ctx, span := tracing.StartSpan(ctx, "Room.join")
	defer span.End()

	r.mu.Lock()
	state, err := r.doc.EncodeState()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	snapshot := wire.Message{
		Type:     wire.TypeSync,
		Update:   state,
		Presence: r.presence.List(),
		Title:    r.title,
	}
	data, err := snapshot.Encode()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	c.enqueue(data)
	r.clients[c] = true
	peers := len(r.clients)
	r.mu.Unlock()

	metrics.ConnectionsActive.WithLabelValues(r.community).Inc()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"room_id":       r.id,
		"connection_id": c.connectionID,
		"user_id":       c.user.ID,
		"peers":         peers,
	}).Infof("Client joined room %s", r.id)

	r.publishEvent(ctx, kafka.EventPeerJoined, c.user, peers)
	return nil
}

// leave detaches a client, announces its departure to the remaining peers,
// and hands an empty room back to the hub.
func (r *Room) leave(c *client) {
	r.mu.Lock()
	if !r.clients[c] {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	peers := len(r.clients)
	r.mu.Unlock()

	metrics.ConnectionsActive.WithLabelValues(r.community).Dec()
	r.presence.Remove(c.connectionID)
	r.broadcastMessage(nil, &wire.Message{Type: wire.TypePresenceRemove, Removed: []string{c.connectionID}})

	ctx := context.Background()
	r.logger.WithFields(map[string]any{
		"room_id":       r.id,
		"connection_id": c.connectionID,
		"user_id":       c.user.ID,
		"peers":         peers,
	}).Infof("Client left room %s", r.id)
	r.publishEvent(ctx, kafka.EventPeerLeft, c.user, peers)

	if peers == 0 && r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// handleFrame processes one inbound frame: updates are merged into the
// replica and persisted, presence is tracked, and everything fans out to the
// other clients unchanged.
func (r *Room) handleFrame(c *client, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		r.logger.WithError(err).WithField("room_id", r.id).Warn("dropping malformed frame")
		return
	}
	metrics.MessagesRelayed.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case wire.TypeUpdate:
		if err := r.doc.ApplyUpdate(msg.Update); err != nil {
			r.logger.WithError(err).WithField("room_id", r.id).Warn("dropping bad update")
			return
		}
		r.persist(msg.Update)
	case wire.TypePresence:
		r.presence.Apply(msg.Presence)
	case wire.TypePresenceRemove:
		r.presence.Remove(msg.Removed...)
	default:
		r.logger.WithField("type", msg.Type).Warn("dropping frame of unknown type")
		return
	}

	r.broadcast(c, data)
}

// persist appends an update to the log. Ephemeral rooms skip persistence;
// failures degrade the room to relay-only rather than dropping clients.
func (r *Room) persist(update []byte) {
	if r.ephemeral || r.log == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.log.AppendUpdate(ctx, r.id, update); err != nil {
		r.mu.Lock()
		first := !r.degraded
		r.degraded = true
		r.mu.Unlock()
		if first {
			r.logger.WithContext(ctx).WithError(err).WithField("room_id", r.id).
				Error("update log unavailable, room degraded to relay-only")
		}
		return
	}

	r.mu.Lock()
	if r.degraded {
		r.degraded = false
		r.logger.WithField("room_id", r.id).Info("update log recovered")
	}
	r.mu.Unlock()
}

// Degraded reports whether the room is currently failing to persist.
func (r *Room) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Room) broadcast(sender *client, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for peer := range r.clients {
		if peer == sender {
			continue
		}
		peer.enqueue(data)
	}
}

func (r *Room) broadcastMessage(sender *client, msg *wire.Message) {
	data, err := msg.Encode()
	if err != nil {
		r.logger.WithError(err).Error("failed to encode broadcast frame")
		return
	}
	r.broadcast(sender, data)
}

// sweepLoop expires silent connections and announces their departure.
func (r *Room) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := r.presence.Sweep(time.Now(), r.presenceTimeout)
			if len(removed) == 0 {
				continue
			}
			ids := make([]string, len(removed))
			for i, entry := range removed {
				ids[i] = entry.ConnectionID
			}
			r.logger.WithFields(map[string]any{
				"room_id": r.id,
				"removed": ids,
			}).Info("Swept silent connections")
			r.broadcastMessage(nil, &wire.Message{Type: wire.TypePresenceRemove, Removed: ids})
		case <-r.done:
			return
		}
	}
}

// close shuts the room down and disconnects any remaining clients.
func (r *Room) close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		clients := make([]*client, 0, len(r.clients))
		for c := range r.clients {
			clients = append(clients, c)
		}
		r.clients = make(map[*client]bool)
		r.mu.Unlock()
		for _, c := range clients {
			c.close()
		}
	})
}

func (r *Room) publishEvent(ctx context.Context, eventType string, user models.User, peerCount int) {
	if r.producer == nil {
		return
	}
	event := &kafka.ActivityEvent{
		Type:      eventType,
		Community: r.community,
		RoomID:    r.id,
		UserID:    user.ID,
		UserName:  user.Name,
		PeerCount: peerCount,
		Timestamp: time.Now().UTC(),
	}
	if err := r.producer.Publish(ctx, event); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("event", eventType).Warn("failed to publish activity event")
	}
}
