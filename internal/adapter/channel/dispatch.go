package channel

import (
	"context"
	"sync"

	"vigil/internal/domain"
)

// serialDispatcher runs one worker per conversation with a pending queue.
// A worker drains its queue in order and exits when it is empty.
type serialDispatcher struct {
	handle func(domain.InboundMessage)

	mu     sync.Mutex
	queues map[string][]domain.InboundMessage
	closed bool
	wg     sync.WaitGroup
}

func newSerialDispatcher(handle func(domain.InboundMessage)) *serialDispatcher {
	return &serialDispatcher{
		handle: handle,
		queues: make(map[string][]domain.InboundMessage),
	}
}

func (d *serialDispatcher) enqueue(msg domain.InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	key := msg.ConversationID
	if q, running := d.queues[key]; running {
		d.queues[key] = append(q, msg)
		return
	}
	d.queues[key] = []domain.InboundMessage{msg}
	d.wg.Add(1)
	go d.work(key)
}

func (d *serialDispatcher) work(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		msg := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.handle(msg)
	}
}

// wait stops accepting messages and blocks until every worker has drained
// or ctx is done.
func (d *serialDispatcher) wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
