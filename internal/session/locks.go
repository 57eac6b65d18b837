package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
)

// DefaultLockStaleThreshold is how old a lock must be before another user may
// forcibly reclaim it. Locks survive navigation and refresh, so holders are
// not required to stay connected.
const DefaultLockStaleThreshold = 5 * time.Minute

// ErrLockHeld is returned when a node is locked by another user and the lock
// is still fresh.
var ErrLockHeld = httperror.NewHTTPError(http.StatusConflict, "node is locked by another user")

// LockManager arbitrates advisory edit locks through the document's lock
// registers, so every peer converges on the same holder.
type LockManager struct {
	doc    *graphdoc.Document
	user   models.User
	stale  time.Duration
	now    func() time.Time
	logger ectologger.Logger

	mu   sync.Mutex
	held map[string]bool
}

func NewLockManager(doc *graphdoc.Document, user models.User, stale time.Duration, logger ectologger.Logger) *LockManager {
	if stale <= 0 {
		stale = DefaultLockStaleThreshold
	}
	return &LockManager{
		doc:    doc,
		user:   user,
		stale:  stale,
		now:    time.Now,
		logger: logger,
		held:   make(map[string]bool),
	}
}

// track and untrack keep the held gauge scoped to locks this manager
// acquired; locks held by remote peers merge into the document but never
// move the gauge here.
func (m *LockManager) track(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held[nodeID] {
		m.held[nodeID] = true
		metrics.LocksHeld.Inc()
	}
}

func (m *LockManager) untrack(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[nodeID] {
		delete(m.held, nodeID)
		metrics.LocksHeld.Dec()
	}
}

// Acquire takes the lock on a node. Re-acquiring a lock already held by this
// user refreshes its timestamp. A fresh lock held by another user fails with
// ErrLockHeld; a stale one is reclaimed.
func (m *LockManager) Acquire(nodeID string) error {
	var contended bool
	err := m.doc.Transact(func(tx *graphdoc.Txn) {
		existing, locked := tx.Lock(nodeID)
		if locked && existing.UserID != m.user.ID {
			if !existing.IsStale(m.stale, m.now()) {
				contended = true
				return
			}
			m.logger.WithFields(map[string]any{
				"node_id": nodeID,
				"holder":  existing.UserName,
			}).Infof("Reclaiming stale lock on %s", nodeID)
		}

		tx.SetLock(nodeID, &models.NodeLock{
			NodeID:     nodeID,
			UserID:     m.user.ID,
			UserName:   m.user.Name,
			AcquiredAt: m.now(),
		})
		if _, ok := tx.Node(nodeID); ok {
			tx.SetNodeEditing(nodeID, true, m.user.Name)
		}
	})
	if err != nil {
		return err
	}
	if contended {
		metrics.LockContention.Inc()
		return ErrLockHeld
	}
	m.track(nodeID)
	return nil
}

// Release clears a lock held by this user. Releasing someone else's lock, or
// an unlocked node, is a no-op.
func (m *LockManager) Release(nodeID string) error {
	err := m.doc.Transact(func(tx *graphdoc.Txn) {
		existing, locked := tx.Lock(nodeID)
		if !locked || existing.UserID != m.user.ID {
			return
		}
		tx.SetLock(nodeID, nil)
		if _, ok := tx.Node(nodeID); ok {
			tx.SetNodeEditing(nodeID, false, "")
		}
	})
	if err != nil {
		return err
	}
	// Whether we released it or another user took it over, it is no longer
	// ours for gauge purposes.
	m.untrack(nodeID)
	return nil
}

// Holder returns the current lock on a node, if any.
func (m *LockManager) Holder(nodeID string) (models.NodeLock, bool) {
	return m.doc.Lock(nodeID)
}

// SweepDeparted force-releases locks whose holders are no longer connected,
// returning the node ids that were freed. The connected predicate is keyed by
// user id, not connection id, so a user keeps their locks across tabs.
func (m *LockManager) SweepDeparted(connected func(userID string) bool) ([]string, error) {
	held := m.doc.Locks()
	if len(held) == 0 {
		return nil, nil
	}

	var freed []string
	err := m.doc.Transact(func(tx *graphdoc.Txn) {
		for nodeID := range held {
			lock, locked := tx.Lock(nodeID)
			if !locked || connected(lock.UserID) {
				continue
			}
			m.logger.WithFields(map[string]any{
				"node_id": nodeID,
				"holder":  lock.UserName,
			}).Infof("Releasing lock on %s, holder left the room", nodeID)
			tx.SetLock(nodeID, nil)
			if _, ok := tx.Node(nodeID); ok {
				tx.SetNodeEditing(nodeID, false, "")
			}
			freed = append(freed, nodeID)
		}
	})
	if err != nil {
		return nil, err
	}
	for _, nodeID := range freed {
		m.untrack(nodeID)
	}
	return freed, nil
}
