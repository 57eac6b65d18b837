package session

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/logging"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
)

func lockFixture(t *testing.T) (*graphdoc.Document, *LockManager, *LockManager) {
	t.Helper()
	doc := graphdoc.New("test-actor")
	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		tx.PutNode(placed("n1", models.NodeTypeTopic, 0, 0))
	}))

	alice := models.User{ID: "u-alice", Name: "Alice"}
	bob := models.User{ID: "u-bob", Name: "Bob"}
	logger := logging.NewNop()
	return doc,
		NewLockManager(doc, alice, time.Minute, logger),
		NewLockManager(doc, bob, time.Minute, logger)
}

func TestLockAcquireAndContention(t *testing.T) {
	doc, alice, bob := lockFixture(t)

	require.NoError(t, alice.Acquire("n1"))

	lock, ok := doc.Lock("n1")
	require.True(t, ok)
	require.Equal(t, "u-alice", lock.UserID)

	node, ok := doc.Node("n1")
	require.True(t, ok)
	require.True(t, node.IsBeingEdited)
	require.Equal(t, "Alice", node.EditedBy)

	require.ErrorIs(t, bob.Acquire("n1"), ErrLockHeld)

	// Re-acquiring your own lock refreshes it.
	require.NoError(t, alice.Acquire("n1"))
}

func TestLockReleaseOnlyByHolder(t *testing.T) {
	doc, alice, bob := lockFixture(t)
	require.NoError(t, alice.Acquire("n1"))

	require.NoError(t, bob.Release("n1"))
	_, ok := doc.Lock("n1")
	require.True(t, ok, "release by a non-holder must not clear the lock")

	require.NoError(t, alice.Release("n1"))
	_, ok = doc.Lock("n1")
	require.False(t, ok)

	node, _ := doc.Node("n1")
	require.False(t, node.IsBeingEdited)
	require.Empty(t, node.EditedBy)
}

func TestLockStaleReclaim(t *testing.T) {
	doc, alice, bob := lockFixture(t)

	past := time.Now().Add(-2 * time.Minute)
	alice.now = func() time.Time { return past }
	require.NoError(t, alice.Acquire("n1"))

	require.NoError(t, bob.Acquire("n1"))
	lock, ok := doc.Lock("n1")
	require.True(t, ok)
	require.Equal(t, "u-bob", lock.UserID)
}

func TestLockSweepDeparted(t *testing.T) {
	doc, alice, bob := lockFixture(t)
	require.NoError(t, alice.Acquire("n1"))

	// Holder still connected, nothing to free.
	freed, err := bob.SweepDeparted(func(userID string) bool { return true })
	require.NoError(t, err)
	require.Empty(t, freed)

	freed, err = bob.SweepDeparted(func(userID string) bool { return false })
	require.NoError(t, err)
	require.Equal(t, []string{"n1"}, freed)

	_, ok := doc.Lock("n1")
	require.False(t, ok)
	node, _ := doc.Node("n1")
	require.False(t, node.IsBeingEdited)
}

func TestLocksHeldGaugeCountsOnlyLocalLocks(t *testing.T) {
	_, alice, bob := lockFixture(t)
	base := testutil.ToFloat64(metrics.LocksHeld)

	require.NoError(t, alice.Acquire("n1"))
	require.Equal(t, base+1, testutil.ToFloat64(metrics.LocksHeld))

	// A refresh is not a second lock.
	require.NoError(t, alice.Acquire("n1"))
	require.Equal(t, base+1, testutil.ToFloat64(metrics.LocksHeld))

	// Bob never acquired n1; neither his no-op release nor his sweep of
	// alice's lock may move the gauge.
	require.NoError(t, bob.Release("n1"))
	require.Equal(t, base+1, testutil.ToFloat64(metrics.LocksHeld))

	freed, err := bob.SweepDeparted(func(userID string) bool { return false })
	require.NoError(t, err)
	require.Equal(t, []string{"n1"}, freed)
	require.Equal(t, base+1, testutil.ToFloat64(metrics.LocksHeld))

	// Alice letting go of her (already swept) lock is what drops it.
	require.NoError(t, alice.Release("n1"))
	require.Equal(t, base, testutil.ToFloat64(metrics.LocksHeld))

	// Releasing a lock you never held stays a no-op.
	require.NoError(t, alice.Release("n1"))
	require.Equal(t, base, testutil.ToFloat64(metrics.LocksHeld))
}
