package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEphemeral(t *testing.T) {
	assert.True(t, IsEphemeral("CommunityX/test-diagram1"))
	assert.True(t, IsEphemeral("test-room"))
	assert.False(t, IsEphemeral("CommunityX/diagram1"))
	assert.False(t, IsEphemeral("CommunityX/production-test-thing"))
	// A test community does not make the diagram ephemeral
	assert.False(t, IsEphemeral("test-community/diagram1"))
}

func TestMemoryLogAppendAndReplay(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, log.AppendUpdate(ctx, "c/d1", []byte("u1")))
	require.NoError(t, log.AppendUpdate(ctx, "c/d1", []byte("u2")))
	require.NoError(t, log.AppendUpdate(ctx, "c/d2", []byte("other")))

	updates, err := log.GetDocument(ctx, "c/d1")
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, []byte("u1"), updates[0])
	assert.Equal(t, []byte("u2"), updates[1])

	// Unknown room replays empty, not an error
	updates, err = log.GetDocument(ctx, "c/unknown")
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestMemoryLogClearGuard(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, log.AppendUpdate(ctx, "c/diagram1", []byte("u1")))
	require.NoError(t, log.AppendUpdate(ctx, "c/test-diagram", []byte("u1")))

	err := log.ClearDocument(ctx, "c/diagram1")
	assert.ErrorIs(t, err, ErrClearNotAllowed)

	require.NoError(t, log.ClearDocument(ctx, "c/test-diagram"))

	updates, err := log.GetDocument(ctx, "c/test-diagram")
	require.NoError(t, err)
	assert.Empty(t, updates)

	updates, err = log.GetDocument(ctx, "c/diagram1")
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}

func TestMemoryLogCopiesRecords(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	update := []byte("original")
	require.NoError(t, log.AppendUpdate(ctx, "c/d1", update))
	update[0] = 'X'

	stored, err := log.GetDocument(ctx, "c/d1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), stored[0])
}
