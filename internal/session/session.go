// Package session is the client half of the collaboration protocol: it owns a
// replica of the shared document, the room's presence state, and the advisory
// node locks, and keeps them converged with the relay over a Transport.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/logging"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/presence"
	"github.com/Ramsey-B/trellis/pkg/wire"
)

// DefaultSyncTimeout bounds how long Start waits for the relay's initial
// state snapshot.
const DefaultSyncTimeout = 30 * time.Second

// DefaultSweepInterval is how often the session expires silent peers.
const DefaultSweepInterval = 5 * time.Second

var (
	// ErrSyncTimeout is returned when the relay never delivers the initial
	// snapshot.
	ErrSyncTimeout = errors.New("timed out waiting for initial sync")
	// ErrViewOnly is returned by mutations while the session is in view mode.
	ErrViewOnly = httperror.NewHTTPError(http.StatusForbidden, "session is in view mode")
	// ErrInvalidConnection is returned when an edge's handles do not face
	// each other.
	ErrInvalidConnection = httperror.NewHTTPError(http.StatusBadRequest, "connection handles do not face each other")
)

// Config carries everything a session needs besides its transport.
type Config struct {
	RoomID             string
	User               models.User
	Mode               string
	HeartbeatInterval  time.Duration
	PresenceTimeout    time.Duration
	SweepInterval      time.Duration
	LockStaleThreshold time.Duration
	SyncTimeout        time.Duration
	Logger             ectologger.Logger
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = models.ModeEdit
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = presence.DefaultHeartbeatInterval
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = presence.DefaultTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.LockStaleThreshold <= 0 {
		c.LockStaleThreshold = DefaultLockStaleThreshold
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
}

// Session is one user's connection to a room.
type Session struct {
	cfg          Config
	connectionID string
	logger       ectologger.Logger

	doc   *graphdoc.Document
	peers *presence.Set
	proj  *Projection
	locks *LockManager

	transport Transport

	mu           sync.RWMutex
	mode         string
	color        string
	title        string
	cursor       *models.Point
	selection    []string
	openNodeID   string
	onContention func(nodeID string, holder models.NodeLock)

	syncOnce  sync.Once
	synced    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	unsubs    []func()
}

// New builds a session for one user in one room. Start must be called before
// any mutation.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	connectionID := uuid.NewString()
	doc := graphdoc.New(connectionID)
	return &Session{
		cfg:          cfg,
		connectionID: connectionID,
		logger:       cfg.Logger,
		doc:          doc,
		peers:        presence.NewSet(),
		proj:         NewProjection(),
		locks:        NewLockManager(doc, cfg.User, cfg.LockStaleThreshold, cfg.Logger),
		mode:         cfg.Mode,
		synced:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start attaches the transport, waits for the relay's initial snapshot, then
// claims a color and announces this user's presence. It blocks until the
// snapshot arrives or the sync timeout elapses; on timeout the session is
// closed.
func (s *Session) Start(ctx context.Context, transport Transport) error {
	s.transport = transport

	s.unsubs = append(s.unsubs, s.doc.Subscribe(func() {
		s.proj.Refresh(s.doc)
	}))
	s.unsubs = append(s.unsubs, s.doc.OnLocalUpdate(func(update []byte) {
		s.sendUpdate(update)
	}))
	s.unsubs = append(s.unsubs, s.peers.Subscribe(func(diff presence.Diff) {
		s.onPresenceDiff(diff)
	}))

	s.wg.Add(1)
	go s.readLoop()

	select {
	case <-s.synced:
	case <-time.After(s.cfg.SyncTimeout):
		s.logger.WithContext(ctx).WithField("room_id", s.cfg.RoomID).
			Errorf("Sync timed out after %s for room %q", s.cfg.SyncTimeout, s.cfg.RoomID)
		s.Close()
		return ErrSyncTimeout
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	case <-s.done:
		return ErrTransportClosed
	}

	if err := s.claimColor(); err != nil {
		return err
	}
	s.publishPresence()

	s.wg.Add(2)
	go s.heartbeatLoop()
	go s.sweepLoop()
	return nil
}

// claimColor assigns this user the first unused palette color, falling back
// to index-modulo when every color is taken. A user rejoining a room keeps
// their previous color.
func (s *Session) claimColor() error {
	var color string
	err := s.doc.Transact(func(tx *graphdoc.Txn) {
		assigned := tx.Colors()
		if c, ok := assigned[s.cfg.User.ID]; ok {
			color = c
			return
		}
		used := make(map[string]bool, len(assigned))
		for _, c := range assigned {
			used[c] = true
		}
		for _, c := range models.AvatarColors {
			if !used[c] {
				color = c
				break
			}
		}
		if color == "" {
			color = models.AvatarColors[len(assigned)%len(models.AvatarColors)]
		}
		tx.SetColor(s.cfg.User.ID, color)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.color = color
	s.mu.Unlock()
	return nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		default:
		}
		data, err := s.transport.Receive(ctx)
		if err != nil {
			if !errors.Is(err, ErrTransportClosed) {
				s.logger.WithError(err).WithField("room_id", s.cfg.RoomID).Error("receive failed, closing session")
			}
			s.Close()
			return
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("dropping malformed frame")
		return
	}

	switch msg.Type {
	case wire.TypeSync:
		if len(msg.Update) > 0 {
			if err := s.doc.ApplyUpdate(msg.Update); err != nil {
				s.logger.WithContext(ctx).WithError(err).Error("failed to apply snapshot")
				return
			}
		}
		s.mu.Lock()
		s.title = msg.Title
		s.mu.Unlock()
		s.peers.Apply(msg.Presence)
		s.proj.Refresh(s.doc)
		s.syncOnce.Do(func() { close(s.synced) })
	case wire.TypeUpdate:
		if err := s.doc.ApplyUpdate(msg.Update); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("dropping bad update")
		}
	case wire.TypePresence:
		s.peers.Apply(msg.Presence)
	case wire.TypePresenceRemove:
		s.peers.Remove(msg.Removed...)
	default:
		s.logger.WithContext(ctx).WithField("type", msg.Type).Warn("dropping frame of unknown type")
	}
}

func (s *Session) sendUpdate(update []byte) {
	msg := wire.Message{Type: wire.TypeUpdate, Update: update}
	s.sendMessage(&msg)
}

func (s *Session) sendMessage(msg *wire.Message) {
	if s.transport == nil {
		return
	}
	data, err := msg.Encode()
	if err != nil {
		s.logger.WithError(err).Error("failed to encode outbound frame")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, data); err != nil && !errors.Is(err, ErrTransportClosed) {
		s.logger.WithError(err).WithField("type", msg.Type).Error("failed to send frame")
	}
}

// onPresenceDiff releases locks held by users who left the room. Keyed by
// user id so a user with several tabs open keeps their locks until the last
// one goes.
func (s *Session) onPresenceDiff(diff presence.Diff) {
	if len(diff.Removed) == 0 || s.Mode() == models.ModeView {
		return
	}
	connected := make(map[string]bool)
	for _, entry := range s.peers.List() {
		connected[entry.UserID] = true
	}
	connected[s.cfg.User.ID] = true
	if _, err := s.locks.SweepDeparted(func(userID string) bool { return connected[userID] }); err != nil {
		s.logger.WithError(err).Error("lock sweep failed")
	}
}

func (s *Session) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishPresence()
		case <-s.done:
			return
		}
	}
}

func (s *Session) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.peers.Sweep(time.Now(), s.cfg.PresenceTimeout)
		case <-s.done:
			return
		}
	}
}

func (s *Session) presenceEntry() models.PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.PresenceEntry{
		ConnectionID:  s.connectionID,
		UserID:        s.cfg.User.ID,
		UserName:      s.cfg.User.Name,
		Color:         s.color,
		Cursor:        s.cursor,
		Selection:     s.selection,
		Mode:          s.mode,
		LastHeartbeat: time.Now(),
	}
}

func (s *Session) publishPresence() {
	entry := s.presenceEntry()
	s.peers.Apply([]models.PresenceEntry{entry})
	s.sendMessage(&wire.Message{Type: wire.TypePresence, Presence: []models.PresenceEntry{entry}})
}

// Close tears the session down: announces departure, stops the loops, and
// closes the transport. Safe to call more than once; errors during teardown
// are logged, not returned.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.sendMessage(&wire.Message{Type: wire.TypePresenceRemove, Removed: []string{s.connectionID}})
		close(s.done)
		for _, unsub := range s.unsubs {
			unsub()
		}
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				s.logger.WithError(err).Warn("transport close failed")
			}
		}
	})
}

// Wait blocks until the background loops have stopped.
func (s *Session) Wait() {
	s.wg.Wait()
}

// editable returns ErrViewOnly unless the session may write.
func (s *Session) editable() error {
	if s.Mode() == models.ModeView {
		return ErrViewOnly
	}
	return nil
}

// Node change types accepted by OnNodeChanges.
const (
	ChangeSelect   = "select"
	ChangePosition = "position"
	ChangeRemove   = "remove"
)

// NodeChange is one canvas change to a node.
type NodeChange struct {
	Type     string
	ID       string
	Position *models.Point
	Selected bool
}

// EdgeChange is one canvas change to an edge.
type EdgeChange struct {
	Type     string
	ID       string
	Selected bool
}

// OnNodeChanges applies a batch of canvas changes. Selection is local-only
// and applies in any mode; position and remove changes write to the document
// and are dropped in view mode. Moving a node across the spine rewrites its
// side; removing a node removes its incident edges in the same update.
func (s *Session) OnNodeChanges(changes []NodeChange) error {
	var writes []NodeChange
	for _, change := range changes {
		if change.Type == ChangeSelect {
			s.proj.SelectNode(change.ID, change.Selected)
			continue
		}
		writes = append(writes, change)
	}
	if len(writes) == 0 || s.Mode() == models.ModeView {
		return nil
	}

	return s.doc.Transact(func(tx *graphdoc.Txn) {
		for _, change := range writes {
			switch change.Type {
			case ChangePosition:
				if change.Position == nil {
					continue
				}
				node, ok := tx.Node(change.ID)
				if !ok {
					continue
				}
				tx.SetNodePosition(change.ID, *change.Position)
				if newSide := models.SideForX(change.Position.X); node.Data.Side != newSide {
					data := node.Data
					data.Side = newSide
					tx.SetNodeData(change.ID, data)
				}
			case ChangeRemove:
				deleteNodeTx(tx, change.ID)
			}
		}
	})
}

// OnEdgeChanges applies a batch of canvas changes to edges. Selection is
// local-only; removals are dropped in view mode.
func (s *Session) OnEdgeChanges(changes []EdgeChange) error {
	var writes []EdgeChange
	for _, change := range changes {
		if change.Type == ChangeSelect {
			s.proj.SelectEdge(change.ID, change.Selected)
			continue
		}
		writes = append(writes, change)
	}
	if len(writes) == 0 || s.Mode() == models.ModeView {
		return nil
	}

	return s.doc.Transact(func(tx *graphdoc.Txn) {
		for _, change := range writes {
			if change.Type == ChangeRemove {
				tx.DeleteEdge(change.ID)
			}
		}
	})
}

// Connect creates an edge between two handles after checking that they face
// each other. The edge id is deterministic, so reconnecting the same handle
// pair overwrites rather than duplicates.
func (s *Session) Connect(source, target, sourceHandle, targetHandle string) error {
	if source == "" || target == "" {
		return nil
	}
	if err := s.editable(); err != nil {
		return err
	}

	sourceNode, sourceOK := s.doc.Node(source)
	targetNode, targetOK := s.doc.Node(target)
	if sourceOK && targetOK && !ValidConnection(sourceNode, targetNode, sourceHandle, targetHandle) {
		return ErrInvalidConnection
	}

	edge := models.EdgeRecord{
		ID:           models.EdgeID(source, sourceHandle, target, targetHandle),
		Source:       source,
		Target:       target,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	}
	return s.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutEdge(edge)
	})
}

// AddNode creates a node of the given type and returns its id. With a nil
// position the node is auto-placed from the current layout.
func (s *Session) AddNode(nodeType string, position *models.Point) (string, error) {
	if err := s.editable(); err != nil {
		return "", err
	}

	normalized := strings.ToLower(strings.TrimSpace(nodeType))
	if normalized == "" {
		normalized = models.NodeTypeTopic
	}
	pos := models.Point{}
	if position != nil {
		pos = *position
	} else {
		pos = AutoPosition(normalized, s.proj.Nodes())
	}

	id := normalized + "-" + uuid.NewString()[:8]
	node := models.NodeRecord{
		ID:       id,
		Type:     normalized,
		Position: pos,
		Data: models.NodeData{
			Label: strings.ToUpper(normalized[:1]) + normalized[1:],
			Side:  models.SideForX(pos.X),
		},
		EditedBy: s.cfg.User.Name,
	}
	err := s.doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(node)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func deleteNodeTx(tx *graphdoc.Txn, nodeID string) {
	tx.DeleteNode(nodeID)
	for _, edge := range tx.Edges() {
		if edge.Touches(nodeID) {
			tx.DeleteEdge(edge.ID)
		}
	}
}

// DeleteNode removes a node and every edge incident to it in one update.
func (s *Session) DeleteNode(nodeID string) error {
	if err := s.editable(); err != nil {
		return err
	}
	return s.doc.Transact(func(tx *graphdoc.Txn) {
		deleteNodeTx(tx, nodeID)
	})
}

// DeleteAllNodes clears the diagram. Edges go with their nodes.
func (s *Session) DeleteAllNodes() error {
	if err := s.editable(); err != nil {
		return err
	}
	return s.doc.Transact(func(tx *graphdoc.Txn) {
		for _, node := range tx.Nodes() {
			tx.DeleteNode(node.ID)
		}
		for _, edge := range tx.Edges() {
			tx.DeleteEdge(edge.ID)
		}
	})
}

// UpdateNodeData replaces a node's data bag. Unknown ids are ignored.
func (s *Session) UpdateNodeData(nodeID string, data models.NodeData) error {
	if err := s.editable(); err != nil {
		return err
	}
	return s.doc.Transact(func(tx *graphdoc.Txn) {
		if _, ok := tx.Node(nodeID); ok {
			tx.SetNodeData(nodeID, data)
		}
	})
}

// SetNodeBeingEdited toggles the edit marker other users see on a node.
func (s *Session) SetNodeBeingEdited(nodeID string, editing bool) error {
	if err := s.editable(); err != nil {
		return err
	}
	editedBy := ""
	if editing {
		editedBy = s.cfg.User.Name
	}
	return s.doc.Transact(func(tx *graphdoc.Txn) {
		if _, ok := tx.Node(nodeID); ok {
			tx.SetNodeEditing(nodeID, editing, editedBy)
		}
	})
}

// UpdateCursor broadcasts this user's cursor position. Works in view mode.
func (s *Session) UpdateCursor(position models.Point) {
	s.mu.Lock()
	s.cursor = &position
	s.mu.Unlock()
	s.publishPresence()
}

// UpdateSelection broadcasts the node ids this user has selected.
func (s *Session) UpdateSelection(nodeIDs []string) {
	s.mu.Lock()
	s.selection = append([]string(nil), nodeIDs...)
	s.mu.Unlock()
	s.publishPresence()
}

// SetMode switches between edit and view and announces the change.
func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.publishPresence()
}

// OnLockContention registers the callback fired when OpenEditor hits a lock
// held by another user.
func (s *Session) OnLockContention(fn func(nodeID string, holder models.NodeLock)) {
	s.mu.Lock()
	s.onContention = fn
	s.mu.Unlock()
}

// OpenEditor acquires the node's lock and marks it as this session's open
// editor. In view mode it opens read-only without locking. A fresh lock held
// by someone else fires the contention callback and returns ErrLockHeld.
func (s *Session) OpenEditor(nodeID string) error {
	if s.Mode() == models.ModeView {
		s.mu.Lock()
		s.openNodeID = nodeID
		s.mu.Unlock()
		return nil
	}

	if err := s.locks.Acquire(nodeID); err != nil {
		if errors.Is(err, ErrLockHeld) {
			s.mu.RLock()
			fn := s.onContention
			s.mu.RUnlock()
			if fn != nil {
				if holder, ok := s.locks.Holder(nodeID); ok {
					fn(nodeID, holder)
				}
			}
		}
		return err
	}

	s.mu.Lock()
	s.openNodeID = nodeID
	s.mu.Unlock()
	return nil
}

// CloseEditor releases the lock taken by OpenEditor, if any.
func (s *Session) CloseEditor() error {
	s.mu.Lock()
	nodeID := s.openNodeID
	s.openNodeID = ""
	mode := s.mode
	s.mu.Unlock()

	if nodeID == "" || mode == models.ModeView {
		return nil
	}
	return s.locks.Release(nodeID)
}

// Accessors.

// Nodes returns the projected nodes in insertion order.
func (s *Session) Nodes() []models.NodeRecord { return s.proj.Nodes() }

// Edges returns the projected edges.
func (s *Session) Edges() []models.EdgeRecord { return s.proj.Edges() }

// Node returns one projected node.
func (s *Session) Node(id string) (models.NodeRecord, bool) { return s.proj.Node(id) }

// Peers returns the room's presence entries, this session's included.
func (s *Session) Peers() []models.PresenceEntry { return s.peers.List() }

// Locks exposes the lock manager.
func (s *Session) Locks() *LockManager { return s.locks }

// Document exposes the underlying replica.
func (s *Session) Document() *graphdoc.Document { return s.doc }

// Projection exposes the canvas view, including local selection.
func (s *Session) Projection() *Projection { return s.proj }

// ConnectionID is this session's unique connection identity.
func (s *Session) ConnectionID() string { return s.connectionID }

// Color is the palette color assigned at sync.
func (s *Session) Color() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.color
}

// Title is the diagram title delivered with the snapshot.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// Mode reports whether the session is editing or viewing.
func (s *Session) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}
