package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// ManagerConfig carries the connection settings shared by every session the
// manager opens. Room, user and mode are supplied per Initialize call.
type ManagerConfig struct {
	// BaseURL is the relay origin, e.g. "wss://trellis.example.com".
	BaseURL string
	// Header is forwarded on the websocket handshake; callers put their
	// credential here (Authorization bearer or access_token cookie).
	Header http.Header
	// Session is the template for per-room sessions; RoomID, User and Mode
	// are overwritten for each Initialize.
	Session Config
}

// Manager drives the client lifecycle an application expects: at most one
// live session, idempotent re-initialization for the room already joined, and
// teardown of the previous room before joining a new one.
type Manager struct {
	cfg  ManagerConfig
	dial func(ctx context.Context, url string, header http.Header) (Transport, error)

	mu      sync.Mutex
	current *Session
	roomID  string
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg, dial: Dial}
}

// Initialize joins the room for community/diagramID. Calling it again for the
// same room is a no-op apart from the mode, which is updated in place; a
// different room closes the current session first. The returned session is
// synced and ready, or an error (including ErrSyncTimeout) is returned and
// nothing is left running.
func (m *Manager) Initialize(ctx context.Context, community, diagramID string, user models.User, mode string) (*Session, error) {
	roomID := community + "/" + diagramID

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.roomID == roomID {
		if mode != "" && mode != m.current.Mode() {
			m.current.SetMode(mode)
		}
		return m.current, nil
	}

	if m.current != nil {
		m.current.Close()
		m.current = nil
		m.roomID = ""
	}

	cfg := m.cfg.Session
	cfg.RoomID = roomID
	cfg.User = user
	cfg.Mode = mode

	s := New(cfg)
	transport, err := m.dial(ctx, m.roomURL(community, diagramID), m.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room %s: %w", roomID, err)
	}
	if err := s.Start(ctx, transport); err != nil {
		s.Close()
		return nil, err
	}

	m.current = s
	m.roomID = roomID
	return s, nil
}

// Cleanup closes the live session, if any. Idempotent; teardown errors are
// logged by the session rather than surfaced.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Close()
		m.current = nil
		m.roomID = ""
	}
}

// Current returns the live session and its room id, or nil when none is open.
func (m *Manager) Current() (*Session, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.roomID
}

func (m *Manager) roomURL(community, diagramID string) string {
	base := strings.TrimSuffix(m.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/editor/ws/%s/%s", base, community, diagramID)
}
