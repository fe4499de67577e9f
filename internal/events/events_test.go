package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastAndCancel(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, h.Subscribers())

	require.NoError(t, h.Publish(context.Background(), Event{Kind: KindAppended, QueueLength: 1}))
	assert.Equal(t, KindAppended, (<-a).Kind)
	assert.Equal(t, KindAppended, (<-b).Kind)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()
	defer cancel()
	for i := 0; i < 1000; i++ {
		require.NoError(t, h.Publish(context.Background(), Event{Kind: KindPopped}))
	}
}

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, evt Event) error {
	r.got = append(r.got, evt)
	return r.err
}

func TestMultiStampsAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("broker down")}
	err := Multi{ok, nil, bad}.Publish(context.Background(), Event{Kind: KindCleared})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	require.Len(t, ok.got, 1)
	assert.NotZero(t, ok.got[0].Timestamp)
	assert.Len(t, bad.got, 1)
}

func TestKafkaPublisherUnconfigured(t *testing.T) {
	k := NewKafkaPublisher("", "")
	assert.Error(t, k.Publish(context.Background(), Event{Kind: KindAppended}))
	assert.NoError(t, k.Close())
}

func TestEncodeKeysByAction(t *testing.T) {
	msg, err := encode(Event{Kind: KindCompleted, ActionID: "a1", Timestamp: 1000})
	require.NoError(t, err)
	assert.Equal(t, []byte("a1"), msg.Key)
	var back Event
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, KindCompleted, back.Kind)
}
