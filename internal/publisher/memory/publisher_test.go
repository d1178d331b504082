package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "mirror.published", map[string]string{"artifact_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "mirror.expired", 3)
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "mirror.published", msgs[0].EventType)
	require.Equal(t, 3, msgs[1].Payload)

	msgs[0].EventType = "modified"
	require.Equal(t, "mirror.published", pub.Messages()[0].EventType, "Messages() returns a copy")
}
