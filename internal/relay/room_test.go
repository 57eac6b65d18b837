package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/graphdoc"
	"github.com/Ramsey-B/trellis/pkg/logging"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/wire"
)

// replayFrames drains everything queued for c and applies the sync and
// update payloads to a fresh replica, the way a real client would.
func replayFrames(t *testing.T, c *client) *graphdoc.Document {
	t.Helper()
	replica := graphdoc.New("replica")
drain:
	for {
		select {
		case data := <-c.send:
			msg, err := wire.Decode(data)
			require.NoError(t, err)
			switch msg.Type {
			case wire.TypeSync, wire.TypeUpdate:
				require.NoError(t, replica.ApplyUpdate(msg.Update))
			}
		default:
			break drain
		}
	}
	return replica
}

// A client joining while an update lands must end up with that update,
// either inside the snapshot or as a broadcast frame after it. A large
// seeded document keeps the snapshot encode slow enough to expose any
// ordering gap between the two.
func TestJoinConcurrentWithUpdateNeverDropsIt(t *testing.T) {
	logger := logging.NewNop()
	alice := models.User{ID: "u1", Name: "Alice", Community: "Engineering"}
	bob := models.User{ID: "u2", Name: "Bob", Community: "Engineering"}

	doc := graphdoc.New("relay:Engineering/path-1")
	require.NoError(t, doc.Transact(func(tx *graphdoc.Txn) {
		for i := 0; i < 2000; i++ {
			tx.PutNode(topicRecord(fmt.Sprintf("seed-%04d", i), float64(i%2)*400, float64(i)*40))
		}
	}))

	room := newRoom("Engineering/path-1", "Engineering", "path-1", "", doc, nil, nil, logger, time.Minute, time.Minute, nil)
	defer room.close()

	sender := newClient(nil, "conn-sender", alice, room)
	require.NoError(t, room.join(context.Background(), sender))

	for i := 0; i < 25; i++ {
		nodeID := fmt.Sprintf("topic-%d", i)
		update := encodeUpdate(t, func(tx *graphdoc.Txn) {
			tx.PutNode(topicRecord(nodeID, 200, 40))
		})
		frame := wire.Message{Type: wire.TypeUpdate, Update: update}
		data, err := frame.Encode()
		require.NoError(t, err)

		joiner := newClient(nil, fmt.Sprintf("conn-joiner-%d", i), bob, room)

		var wg sync.WaitGroup
		var joinErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			room.handleFrame(sender, data)
		}()
		go func() {
			defer wg.Done()
			joinErr = room.join(context.Background(), joiner)
		}()
		wg.Wait()
		require.NoError(t, joinErr)

		replica := replayFrames(t, joiner)
		_, ok := replica.Node(nodeID)
		require.True(t, ok, "joiner %d never saw %s", i, nodeID)

		room.leave(joiner)
	}
}
