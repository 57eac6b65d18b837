package models

import "time"

// NodeLock is the advisory edit lock on a single node. A lock older than the
// stale threshold is eligible for forced reclaim by another user.
type NodeLock struct {
	NodeID     string    `json:"nodeId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// IsStale reports whether the lock has outlived the given threshold.
func (l NodeLock) IsStale(threshold time.Duration, now time.Time) bool {
	return now.Sub(l.AcquiredAt) > threshold
}
