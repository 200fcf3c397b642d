package plebbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerSub(c *Client, id uint64) chan json.RawMessage {
	ch := make(chan json.RawMessage, 8)
	c.mu.Lock()
	c.subs[id] = ch
	c.mu.Unlock()
	return ch
}

func notification(subID uint64) []byte {
	return []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"commentUpdate","params":{"subscription":%d,"result":{"updatedAt":1}}}`,
		subID,
	))
}

// A notification can arrive for a subscription that is being released at the
// same moment: the server keeps streaming until it processes the unsubscribe
// call. Hammering that interleaving must never panic with a send on a closed
// channel.
func TestNotificationDuringUnsubscribe(t *testing.T) {
	c := NewClient(ClientConfig{Hosts: []string{"ws://localhost:9138"}})

	for id := uint64(1); id <= 500; id++ {
		registerSub(c, id)
		msg := notification(id)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.dispatch(msg)
			}
		}()
		go func(id uint64) {
			defer wg.Done()
			c.unsubscribe(id)
		}(id)
		wg.Wait()

		c.mu.Lock()
		_, still := c.subs[id]
		c.mu.Unlock()
		assert.False(t, still)
	}
}

func TestNotificationDuringClose(t *testing.T) {
	c := NewClient(ClientConfig{Hosts: []string{"ws://localhost:9138"}})

	for id := uint64(1); id <= 100; id++ {
		registerSub(c, id)
	}
	msg := notification(42)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.dispatch(msg)
		}
	}()
	go func() {
		defer wg.Done()
		c.Close()
	}()
	wg.Wait()

	c.mu.Lock()
	assert.Empty(t, c.subs)
	c.mu.Unlock()
}

func TestDispatchDropsUnknownSubscription(t *testing.T) {
	c := NewClient(ClientConfig{Hosts: []string{"ws://localhost:9138"}})

	// Must not block or panic; there is simply nobody waiting.
	c.dispatch(notification(99))
}

func TestConnectStopsOnCancelDuringBackoff(t *testing.T) {
	// A port nothing listens on, so every dial fails and Connect sits in its
	// backoff sleep most of the time.
	c := NewClient(ClientConfig{Hosts: []string{"ws://127.0.0.1:1"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Connect(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect kept retrying after cancellation")
	}
}
