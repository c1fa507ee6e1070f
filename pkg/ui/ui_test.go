package ui

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/redisstream"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/transport"
)

func TestFanout_ForwardsInOrder(t *testing.T) {
	var got []string
	a := Funcs{ServerError: func(m string) { got = append(got, "a:"+m) }}
	b := Funcs{ServerError: func(m string) { got = append(got, "b:"+m) }}
	f := NewFanout(a, nil, b)
	f.OnServerError("x")
	f.OnTyping(true)
	require.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestBridge_PublishesOverGoChannel(t *testing.T) {
	ps, err := redisstream.Build(redisstream.Settings{Topic: redisstream.DefaultTopic})
	require.NoError(t, err)
	defer func() { _ = ps.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []Event
	subscribed := make(chan struct{})
	go func() {
		ch, err := ps.Subscriber.Subscribe(ctx, redisstream.DefaultTopic)
		if err != nil {
			return
		}
		close(subscribed)
		for msg := range ch {
			mu.Lock()
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				events = append(events, ev)
			}
			mu.Unlock()
			msg.Ack()
		}
	}()
	<-subscribed

	b := NewBridge(ps.Publisher, redisstream.DefaultTopic)
	b.OnMessageAppended("c1", chatstore.Message{ID: "m1", Role: chatstore.RoleUser, Content: "hi"})
	b.OnRenderFrame(render.Frame{ConversationID: "c1", MessageID: "m2", Text: "h"})
	b.OnRenderFrame(render.Frame{ConversationID: "c1", MessageID: "m2", Text: "hello", Final: true})
	b.OnConnectionStateChanged(transport.StateReady)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, EventMessageAppended, events[0].Type)
	require.Equal(t, "hi", events[0].Message.Content)
	require.Equal(t, EventRenderFrame, events[1].Type)
	require.True(t, events[1].Final)
	require.Equal(t, "hello", events[1].Text)
	require.Equal(t, EventConnectionState, events[2].Type)
	require.Equal(t, "ready", events[2].State)
}

func TestConsume_StopsOnCancel(t *testing.T) {
	ps, err := redisstream.Build(redisstream.Settings{})
	require.NoError(t, err)
	defer func() { _ = ps.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Event, 64)
	done := make(chan error, 1)
	go func() {
		done <- Consume(ctx, ps.Subscriber, "t", func(ev Event) { got <- ev })
	}()

	b := NewBridge(ps.Publisher, "t")
	require.Eventually(t, func() bool {
		b.OnTyping(true)
		select {
		case ev := <-got:
			return ev.Type == EventTyping && ev.Typing
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not stop")
	}
}
