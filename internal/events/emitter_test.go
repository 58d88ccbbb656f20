package events

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitEvent_NoHandlers(t *testing.T) {
	t.Parallel()
	emitter := NewInMemoryEventEmitter(logger.Discard())

	event, err := NewJobsSubmitted([]int64{1})
	require.NoError(t, err)
	assert.NoError(t, emitter.EmitEvent(context.Background(), event))
}

func TestEmitEvent_NilEvent(t *testing.T) {
	t.Parallel()
	emitter := NewInMemoryEventEmitter(nil)
	assert.Error(t, emitter.EmitEvent(context.Background(), nil))
}

func TestEmitEvent_RoutesByType(t *testing.T) {
	t.Parallel()
	emitter := NewInMemoryEventEmitter(logger.Discard())

	submitted := &MockEventHandler{}
	other := &MockEventHandler{}
	everything := &MockEventHandler{}
	emitter.Subscribe(TypeJobsSubmitted, submitted)
	emitter.Subscribe("jobs_archived", other)
	emitter.RegisterHandler(everything)

	event, err := NewJobsSubmitted([]int64{4, 5})
	require.NoError(t, err)
	require.NoError(t, emitter.EmitEvent(context.Background(), event))

	assert.Equal(t, 1, submitted.HandledCount)
	assert.Equal(t, event, submitted.LastEvent)
	assert.Equal(t, 0, other.HandledCount)
	assert.Equal(t, 1, everything.HandledCount)
}

func TestEmitEvent_FailuresDoNotStopDelivery(t *testing.T) {
	t.Parallel()
	emitter := NewInMemoryEventEmitter(logger.Discard())

	errFirst := errors.New("first handler failed")
	failing := &MockEventHandler{HandlerError: errFirst}
	panicking := HandlerFunc(func(context.Context, *Event) error {
		panic("boom")
	})
	healthy := &MockEventHandler{}

	emitter.Subscribe(TypeJobsSubmitted, failing)
	emitter.Subscribe(TypeJobsSubmitted, panicking)
	emitter.Subscribe(TypeJobsSubmitted, healthy)

	event, err := NewJobsSubmitted([]int64{1})
	require.NoError(t, err)

	err = emitter.EmitEvent(context.Background(), event)
	require.Error(t, err)
	assert.ErrorIs(t, err, errFirst)
	assert.Contains(t, err.Error(), "panicked: boom")
	assert.Equal(t, 1, failing.HandledCount)
	assert.Equal(t, 1, healthy.HandledCount)
}
