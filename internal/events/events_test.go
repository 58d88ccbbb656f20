package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	type testPayload struct {
		ID     uuid.UUID `json:"id"`
		Action string    `json:"action"`
	}

	payload := testPayload{
		ID:     uuid.New(),
		Action: "test_action",
	}

	event, err := NewEvent("test_event", payload)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, "test_event", event.Type)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)

	var decoded testPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestNewEventUnencodablePayload(t *testing.T) {
	_, err := NewEvent("bad", make(chan int))
	assert.Error(t, err)
}

func TestNewJobsSubmitted(t *testing.T) {
	event, err := NewJobsSubmitted([]int64{3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, TypeJobsSubmitted, event.Type)

	var payload JobsSubmittedPayload
	require.NoError(t, event.UnmarshalPayload(&payload))
	assert.Equal(t, []int64{3, 4, 5}, payload.IDs)
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *Event
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestHandlerFunc(t *testing.T) {
	var got *Event
	var handler EventHandler = HandlerFunc(func(_ context.Context, e *Event) error {
		got = e
		return errors.New("handled")
	})

	event, err := NewJobsSubmitted([]int64{1})
	require.NoError(t, err)

	assert.EqualError(t, handler.HandleEvent(context.Background(), event), "handled")
	assert.Same(t, event, got)
}
