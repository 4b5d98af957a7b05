package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/domain"
)

func TestSerialDispatcher_OrderPerConversation(t *testing.T) {
	var (
		mu  sync.Mutex
		got = map[string][]string{}
	)
	d := newSerialDispatcher(func(m domain.InboundMessage) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got[m.ConversationID] = append(got[m.ConversationID], m.Content)
		mu.Unlock()
	})

	for _, text := range []string{"a", "b", "c"} {
		d.enqueue(domain.InboundMessage{ConversationID: "1", Content: text})
		d.enqueue(domain.InboundMessage{ConversationID: "2", Content: text})
	}
	require.NoError(t, d.wait(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, got["1"])
	assert.Equal(t, []string{"a", "b", "c"}, got["2"])
}

func TestSerialDispatcher_DropsAfterWait(t *testing.T) {
	calls := 0
	d := newSerialDispatcher(func(domain.InboundMessage) { calls++ })
	require.NoError(t, d.wait(context.Background()))

	d.enqueue(domain.InboundMessage{ConversationID: "1", Content: "late"})
	assert.Zero(t, calls)
	assert.Empty(t, d.queues)
}

func TestSerialDispatcher_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	d := newSerialDispatcher(func(domain.InboundMessage) { <-release })
	d.enqueue(domain.InboundMessage{ConversationID: "1", Content: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.wait(context.Background()))
}
