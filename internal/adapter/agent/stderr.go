package agent

import "sync"

// stderrBufferSize caps how much agent stderr is kept for error reports.
const stderrBufferSize = 8 << 10

// stderrTail keeps the last max bytes written to it. A chatty agent
// cannot grow it without bound.
type stderrTail struct {
	mu      sync.Mutex
	data    []byte
	max     int
	written int64
}

func newStderrTail(maxBytes int) *stderrTail {
	return &stderrTail{
		data: make([]byte, 0, min(maxBytes, 1024)),
		max:  maxBytes,
	}
}

// Write implements io.Writer.
func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data = append(t.data, p...)
	t.written += int64(len(p))
	if len(t.data) > t.max {
		t.data = t.data[len(t.data)-t.max:]
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.data)
}

// Dropped reports how many leading bytes were discarded.
func (t *stderrTail) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written - int64(len(t.data))
}
