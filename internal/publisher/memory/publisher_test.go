package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherGroupsByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id, err := pub.Publish(ctx, "processed", map[string]any{"event_id": "e1", "last_step": "indexed"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(ctx, "audit", "raw")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	processed := pub.Topic("processed")
	require.Len(t, processed, 1)
	var got map[string]string
	require.NoError(t, processed[0].Decode(&got))
	require.Equal(t, map[string]string{"event_id": "e1", "last_step": "indexed"}, got)
	require.Equal(t, 2, pub.Count())

	processed[0].Topic = "changed"
	require.Equal(t, "processed", pub.Topic("processed")[0].Topic)
	require.Empty(t, pub.Topic("missing"))
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "processed", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
	require.Zero(t, pub.Count())
}
