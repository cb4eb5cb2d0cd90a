package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSubscribersOfSameExecution(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := hub.Subscribe("exec-1")
	b := hub.Subscribe("exec-1")
	other := hub.Subscribe("exec-2")
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)
	defer hub.Unsubscribe(other)

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 3 }, time.Second, time.Millisecond)

	hub.Publish("exec-1", []byte(`{"event":"x"}`))

	select {
	case msg := <-a.send:
		assert.Equal(t, `{"event":"x"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber a")
	}
	select {
	case msg := <-b.send:
		assert.Equal(t, `{"event":"x"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber b")
	}
	select {
	case <-other.send:
		t.Fatal("subscriber for a different execution should not receive the message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := hub.Subscribe("exec-1")
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	hub.Unsubscribe(c)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, time.Millisecond)

	_, ok := <-c.send
	assert.False(t, ok, "send channel should be closed after unsubscribe")
}
