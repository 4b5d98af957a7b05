package mailbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMailbox(t *testing.T) *FileMailbox {
	t.Helper()
	m, err := New(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestClaimEmpty(t *testing.T) {
	m := newMailbox(t)
	text, err := m.Claim(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
	require.NoError(t, m.Ack(context.Background()))
}

func TestAppendClaimAck(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)

	require.NoError(t, m.Append(ctx, "A"))
	text, err := m.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", text)
	require.NoError(t, m.Ack(ctx))

	text, err = m.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, text, "mailbox should be empty after a delivered sweep")
}

func TestAppendsCoalesceIntoOneClaim(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)

	require.NoError(t, m.Append(ctx, "A"))
	require.NoError(t, m.Append(ctx, "B\n"))

	text, err := m.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A\nB", text)
}

func TestReleaseKeepsContentAndMergesNewWrites(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)

	require.NoError(t, m.Append(ctx, "first"))
	text, err := m.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	require.NoError(t, m.Release(ctx))

	require.NoError(t, m.Append(ctx, "second"))
	text, err = m.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", text)
	require.NoError(t, m.Ack(ctx))

	spools, err := m.spools()
	require.NoError(t, err)
	assert.Empty(t, spools)
}

func TestAppendDuringClaimIsNotLost(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)

	require.NoError(t, m.Append(ctx, "before"))
	text, err := m.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "before", text)

	require.NoError(t, m.Append(ctx, "during"))
	require.NoError(t, m.Ack(ctx))

	text, err = m.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "during", text)
}

func TestExternalWriterIsPickedUp(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)

	require.NoError(t, os.WriteFile(m.Path(), []byte("disk is 95% full"), 0o600))
	text, err := m.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "disk is 95% full", text)
}

func TestWhitespaceOnlyIsDropped(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)

	require.NoError(t, os.WriteFile(m.Path(), []byte("\n\n  \n"), 0o600))
	text, err := m.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)

	matches, err := filepath.Glob(filepath.Join(m.dir, "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDoubleClaimRejected(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)
	require.NoError(t, m.Append(ctx, "x"))
	_, err := m.Claim(ctx)
	require.NoError(t, err)

	_, err = m.Claim(ctx)
	assert.Error(t, err)
}

func TestConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	m := newMailbox(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Append(ctx, "line"))
		}()
	}
	wg.Wait()

	text, err := m.Claim(ctx)
	require.NoError(t, err)
	assert.Len(t, strings.Split(text, "\n"), 25)
}
