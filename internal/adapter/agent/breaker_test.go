package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/domain"
)

// scriptedRunner returns a canned stream, failing while fail is set.
type scriptedRunner struct {
	fail     atomic.Bool
	startErr error
	invokes  atomic.Int32
}

func (s *scriptedRunner) Name() string { return "scripted" }

func (s *scriptedRunner) Invoke(_ context.Context, _ domain.AgentRequest) (<-chan domain.StreamElement, error) {
	s.invokes.Add(1)
	if s.startErr != nil {
		return nil, s.startErr
	}
	ch := make(chan domain.StreamElement, 2)
	ch <- domain.StreamElement{Kind: domain.ElementText, Text: "ok"}
	if s.fail.Load() {
		ch <- domain.StreamElement{Kind: domain.ElementError, Err: domain.ErrAgentInvocation}
	}
	close(ch)
	return ch, nil
}

func drain(ch <-chan domain.StreamElement) []domain.StreamElement {
	var out []domain.StreamElement
	for el := range ch {
		out = append(out, el)
	}
	return out
}

func TestCircuitBreakerRunner_PassesThrough(t *testing.T) {
	inner := &scriptedRunner{}
	r := NewCircuitBreakerRunner(inner, BreakerConfig{}, slog.New(slog.DiscardHandler))

	ch, err := r.Invoke(context.Background(), domain.AgentRequest{Prompt: "x"})
	require.NoError(t, err)
	els := drain(ch)
	require.Len(t, els, 1)
	assert.Equal(t, "ok", els[0].Text)
	assert.Equal(t, "scripted", r.Name())
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestCircuitBreakerRunner_TripsOnStreamErrors(t *testing.T) {
	inner := &scriptedRunner{}
	inner.fail.Store(true)
	r := NewCircuitBreakerRunner(inner, BreakerConfig{MaxFailures: 2}, slog.New(slog.DiscardHandler))

	for i := 0; i < 2; i++ {
		ch, err := r.Invoke(context.Background(), domain.AgentRequest{Prompt: "x"})
		require.NoError(t, err)
		els := drain(ch)
		assert.Equal(t, domain.ElementError, els[len(els)-1].Kind)
	}
	// drain returns once the channel closes, which happens after Execute
	// has recorded the outcome.
	assert.Equal(t, gobreaker.StateOpen, r.State())

	_, err := r.Invoke(context.Background(), domain.AgentRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.invokes.Load())
}

func TestCircuitBreakerRunner_StartError(t *testing.T) {
	boom := errors.New("boom")
	r := NewCircuitBreakerRunner(&scriptedRunner{startErr: boom}, BreakerConfig{}, slog.New(slog.DiscardHandler))

	_, err := r.Invoke(context.Background(), domain.AgentRequest{Prompt: "x"})
	assert.ErrorIs(t, err, boom)
}
