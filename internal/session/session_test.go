package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/wire"
)

// testHub is a minimal in-process relay: it keeps a server-side replica for
// snapshots, tracks presence, and fans every frame out to the other clients.
type testHub struct {
	t *testing.T

	mu       sync.Mutex
	doc      *graphdoc.Document
	title    string
	presence map[string]models.PresenceEntry
	conns    map[int]Transport
	next     int
}

func newTestHub(t *testing.T, title string) *testHub {
	return &testHub{
		t:        t,
		doc:      graphdoc.New("relay"),
		title:    title,
		presence: make(map[string]models.PresenceEntry),
		conns:    make(map[int]Transport),
	}
}

func (h *testHub) connect() Transport {
	client, server := NewPipe()

	h.mu.Lock()
	id := h.next
	h.next++
	h.conns[id] = server
	state, err := h.doc.EncodeState()
	entries := make([]models.PresenceEntry, 0, len(h.presence))
	for _, entry := range h.presence {
		entries = append(entries, entry)
	}
	h.mu.Unlock()
	require.NoError(h.t, err)

	snapshot := wire.Message{Type: wire.TypeSync, Update: state, Presence: entries, Title: h.title}
	data, err := snapshot.Encode()
	require.NoError(h.t, err)
	require.NoError(h.t, server.Send(context.Background(), data))

	go h.serve(id, server)
	return client
}

func (h *testHub) serve(id int, conn Transport) {
	for {
		data, err := conn.Receive(context.Background())
		if err != nil {
			h.mu.Lock()
			delete(h.conns, id)
			h.mu.Unlock()
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			continue
		}

		h.mu.Lock()
		switch msg.Type {
		case wire.TypeUpdate:
			_ = h.doc.ApplyUpdate(msg.Update)
		case wire.TypePresence:
			for _, entry := range msg.Presence {
				h.presence[entry.ConnectionID] = entry
			}
		case wire.TypePresenceRemove:
			for _, removed := range msg.Removed {
				delete(h.presence, removed)
			}
		}
		peers := make([]Transport, 0, len(h.conns))
		for peerID, peer := range h.conns {
			if peerID != id {
				peers = append(peers, peer)
			}
		}
		h.mu.Unlock()

		for _, peer := range peers {
			_ = peer.Send(context.Background(), data)
		}
	}
}

func startSession(t *testing.T, hub *testHub, user models.User, mode string) *Session {
	t.Helper()
	s := New(Config{
		RoomID:      "learning-path-1",
		User:        user,
		Mode:        mode,
		SyncTimeout: 2 * time.Second,
	})
	require.NoError(t, s.Start(context.Background(), hub.connect()))
	t.Cleanup(s.Close)
	return s
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestSessionSyncDeliversTitleAndState(t *testing.T) {
	hub := newTestHub(t, "Backend Developer Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("topic-seed", models.NodeTypeTopic, 0, 200))
	}))

	s := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)

	require.Equal(t, "Backend Developer Path", s.Title())
	require.Len(t, s.Nodes(), 1)
	require.Equal(t, "topic-seed", s.Nodes()[0].ID)
}

func TestSessionSyncTimeout(t *testing.T) {
	client, _ := NewPipe()
	s := New(Config{
		RoomID:      "quiet-room",
		User:        models.User{ID: "u1", Name: "Alice"},
		SyncTimeout: 50 * time.Millisecond,
	})
	err := s.Start(context.Background(), client)
	require.ErrorIs(t, err, ErrSyncTimeout)
}

func TestAddedTopicReachesPeerWithSide(t *testing.T) {
	hub := newTestHub(t, "Path")
	editor := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	watcher := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)

	id, err := editor.AddNode(models.NodeTypeTopic, nil)
	require.NoError(t, err)

	eventually(t, func() bool {
		_, ok := watcher.Node(id)
		return ok
	}, "peer never saw the new node")

	node, _ := watcher.Node(id)
	require.Equal(t, models.NodeTypeTopic, node.Type)
	// First auto-placed topic sits on the spine, which counts as the right side.
	require.Equal(t, models.Point{X: 0, Y: 200}, node.Position)
	require.Equal(t, models.SideRight, node.Data.Side)
	require.Equal(t, "Topic", node.Data.Label)
}

func TestConnectValidatesHandleFacing(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("a", models.NodeTypeTopic, 0, 0))
		tx.PutNode(placed("b", models.NodeTypeTopic, 300, 0))
	}))

	editor := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	watcher := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)

	// Handles that face away from each other are rejected before any write.
	require.ErrorIs(t, editor.Connect("a", "b", HandleLeft, HandleLeft), ErrInvalidConnection)
	require.Empty(t, editor.Document().Edges())

	require.NoError(t, editor.Connect("a", "b", HandleRight, HandleLeft))
	wantID := models.EdgeID("a", HandleRight, "b", HandleLeft)

	eventually(t, func() bool {
		return len(watcher.Edges()) == 1
	}, "peer never saw the edge")
	require.Equal(t, wantID, watcher.Edges()[0].ID)

	// Reconnecting the same handle pair overwrites, not duplicates.
	require.NoError(t, editor.Connect("a", "b", HandleRight, HandleLeft))
	require.Len(t, editor.Edges(), 1)
}

func TestMoveAcrossSpineRewritesSide(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 100, 0))
	}))

	editor := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	require.NoError(t, editor.OnNodeChanges([]NodeChange{
		{Type: ChangePosition, ID: "n1", Position: &models.Point{X: -150, Y: 40}},
	}))

	node, ok := editor.Node("n1")
	require.True(t, ok)
	require.Equal(t, models.Point{X: -150, Y: 40}, node.Position)
	require.Equal(t, models.SideLeft, node.Data.Side)
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("a", models.NodeTypeTopic, 0, 0))
		tx.PutNode(placed("b", models.NodeTypeTopic, 300, 0))
		tx.PutNode(placed("c", models.NodeTypeTopic, 600, 0))
		tx.PutEdge(models.EdgeRecord{ID: "eab", Source: "a", Target: "b"})
		tx.PutEdge(models.EdgeRecord{ID: "ebc", Source: "b", Target: "c"})
	}))

	editor := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	watcher := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)

	require.NoError(t, editor.OnNodeChanges([]NodeChange{{Type: ChangeRemove, ID: "b"}}))

	eventually(t, func() bool {
		_, ok := watcher.Node("b")
		return !ok && len(watcher.Edges()) == 0
	}, "cascade delete never reached the peer")
	_, ok := watcher.Node("a")
	require.True(t, ok)
}

func TestViewModeBlocksWrites(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 0, 0))
	}))

	viewer := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeView)

	_, err := viewer.AddNode(models.NodeTypeTopic, nil)
	require.ErrorIs(t, err, ErrViewOnly)
	require.ErrorIs(t, viewer.DeleteNode("n1"), ErrViewOnly)
	require.ErrorIs(t, viewer.Connect("n1", "n1", "", ""), ErrViewOnly)
	require.ErrorIs(t, viewer.UpdateNodeData("n1", models.NodeData{Label: "X"}), ErrViewOnly)

	// Position changes are silently dropped; selection still applies locally.
	require.NoError(t, viewer.OnNodeChanges([]NodeChange{
		{Type: ChangeSelect, ID: "n1", Selected: true},
		{Type: ChangePosition, ID: "n1", Position: &models.Point{X: 500, Y: 500}},
	}))
	require.True(t, viewer.Projection().NodeSelected("n1"))
	node, _ := viewer.Node("n1")
	require.Equal(t, models.Point{X: 0, Y: 0}, node.Position)

	// Opening an editor in view mode is read-only and takes no lock.
	require.NoError(t, viewer.OpenEditor("n1"))
	_, locked := viewer.Document().Lock("n1")
	require.False(t, locked)
}

func TestColorsAssignedFirstUnused(t *testing.T) {
	hub := newTestHub(t, "Path")
	first := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	require.Equal(t, models.AvatarColors[0], first.Color())

	eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.doc.Colors()) == 1
	}, "color claim never reached the hub")

	second := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)
	require.Equal(t, models.AvatarColors[1], second.Color())

	// Rejoining keeps the previous color.
	rejoin := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	require.Equal(t, models.AvatarColors[0], rejoin.Color())
}

func TestPresencePropagatesBetweenPeers(t *testing.T) {
	hub := newTestHub(t, "Path")
	alice := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	bob := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)

	eventually(t, func() bool {
		return len(bob.Peers()) == 2
	}, "bob never saw alice")

	alice.UpdateCursor(models.Point{X: 10, Y: 20})
	eventually(t, func() bool {
		for _, entry := range bob.Peers() {
			if entry.UserName == "Alice" && entry.Cursor != nil && entry.Cursor.X == 10 {
				return true
			}
		}
		return false
	}, "cursor update never reached bob")
}

func TestLockContentionAndHandoff(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 0, 0))
	}))

	alice := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	bob := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)

	var contentionMu sync.Mutex
	var contendedWith string
	bob.OnLockContention(func(nodeID string, holder models.NodeLock) {
		contentionMu.Lock()
		contendedWith = holder.UserName
		contentionMu.Unlock()
	})

	require.NoError(t, alice.OpenEditor("n1"))

	eventually(t, func() bool {
		holder, ok := bob.Locks().Holder("n1")
		return ok && holder.UserID == "u1"
	}, "lock never reached bob")

	require.ErrorIs(t, bob.OpenEditor("n1"), ErrLockHeld)
	contentionMu.Lock()
	require.Equal(t, "Alice", contendedWith)
	contentionMu.Unlock()

	require.NoError(t, alice.CloseEditor())
	eventually(t, func() bool {
		_, ok := bob.Locks().Holder("n1")
		return !ok
	}, "release never reached bob")

	require.NoError(t, bob.OpenEditor("n1"))
	holder, ok := bob.Locks().Holder("n1")
	require.True(t, ok)
	require.Equal(t, "u2", holder.UserID)
}

func TestDepartedUserLocksAreSwept(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 0, 0))
	}))

	alice := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	bob := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)

	eventually(t, func() bool { return len(bob.Peers()) == 2 }, "bob never saw alice")
	require.NoError(t, alice.OpenEditor("n1"))
	eventually(t, func() bool {
		_, ok := bob.Locks().Holder("n1")
		return ok
	}, "lock never reached bob")

	alice.Close()

	eventually(t, func() bool {
		_, ok := bob.Locks().Holder("n1")
		return !ok
	}, "departed user's lock was never swept")
	node, _ := bob.Node("n1")
	require.False(t, node.IsBeingEdited)
}

func TestConcurrentEditsConverge(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 0, 0))
	}))

	alice := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	bob := startSession(t, hub, models.User{ID: "u2", Name: "Bob"}, models.ModeEdit)

	require.NoError(t, alice.OnNodeChanges([]NodeChange{
		{Type: ChangePosition, ID: "n1", Position: &models.Point{X: 250, Y: 80}},
	}))
	require.NoError(t, bob.UpdateNodeData("n1", models.NodeData{Label: "Goroutines", Side: models.SideRight}))

	eventually(t, func() bool {
		a, aok := alice.Node("n1")
		b, bok := bob.Node("n1")
		return aok && bok &&
			a.Position == b.Position && a.Data.Label == b.Data.Label &&
			a.Data.Label == "Goroutines" && a.Position.X == 250
	}, "replicas never converged on both edits")
}

func TestDeleteAllNodesClearsBoard(t *testing.T) {
	hub := newTestHub(t, "Path")
	require.NoError(t, hub.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("a", models.NodeTypeTopic, 0, 0))
		tx.PutNode(placed("b", models.NodeTypeTopic, 300, 0))
		tx.PutEdge(models.EdgeRecord{ID: "eab", Source: "a", Target: "b"})
	}))

	editor := startSession(t, hub, models.User{ID: "u1", Name: "Alice"}, models.ModeEdit)
	require.NoError(t, editor.DeleteAllNodes())
	require.Empty(t, editor.Nodes())
	require.Empty(t, editor.Edges())

	// The cleared board still counts as edited, it must not be re-seeded.
	require.True(t, editor.Document().HasHistory())
}
