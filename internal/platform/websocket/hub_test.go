package websocket

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahl/claims-bridge/internal/platform/eventbus"
)

func newClient(topics ...string) *Client {
	return &Client{ID: "c", Topics: topics, Send: make(chan []byte, 8)}
}

func TestRegisterAndCount(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(WorkflowTopic("wf-1"))
	hub.Register(c)

	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, 1, hub.TopicCount(WorkflowTopic("wf-1")))
}

func TestUnregisterRemovesSubscriptionsAndClosesSend(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(WorkflowTopic("wf-1"), TopicAll)
	hub.Register(c)
	hub.Unregister(c)

	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.TopicCount(WorkflowTopic("wf-1")))
	_, open := <-c.Send
	assert.False(t, open)

	// A second unregister of the same client is a no-op.
	hub.Unregister(c)
}

func TestBroadcastReachesWorkflowTopicAndFirehose(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	focused := newClient(WorkflowTopic("wf-1"))
	firehose := newClient(TopicAll)
	other := newClient(WorkflowTopic("wf-2"))
	hub.Register(focused)
	hub.Register(firehose)
	hub.Register(other)

	require.NoError(t, hub.Broadcast("wf-1", eventbus.Event{Stage: "signing", Status: "completed"}))

	var got eventbus.Event
	require.NoError(t, json.Unmarshal(<-focused.Send, &got))
	assert.Equal(t, "signing", got.Stage)

	select {
	case <-firehose.Send:
	default:
		t.Fatal("firehose subscriber missed the event")
	}
	select {
	case <-other.Send:
		t.Fatal("unrelated workflow's subscriber received the event")
	default:
	}
}

func TestSlowClientIsSkippedNotBlocked(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{ID: "slow", Topics: []string{TopicAll}, Send: make(chan []byte)}
	hub.Register(slow)

	// Nothing reads slow.Send; Broadcast must still return.
	require.NoError(t, hub.Broadcast("wf-1", eventbus.Event{Stage: "received"}))
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient()
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{WorkflowTopic("wf-1")}})
	assert.Equal(t, 1, hub.TopicCount(WorkflowTopic("wf-1")))

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{WorkflowTopic("wf-1")}})
	assert.Equal(t, 0, hub.TopicCount(WorkflowTopic("wf-1")))
	assert.Empty(t, c.Topics)
}

func TestConcurrentRegisterBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(TopicAll)
			hub.Register(c)
			_ = hub.Broadcast("wf-1", eventbus.Event{Stage: "received"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.ClientCount())
}
