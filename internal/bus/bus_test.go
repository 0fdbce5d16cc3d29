package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/victorbrgs/omnibox/internal/model"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(ConnectionTopic("c1"), 10)
	defer unsub()

	b.Publish(FromCanonical(ConnectionTopic("c1"), &model.CanonicalEvent{Kind: model.MessageReceived}))

	select {
	case evt := <-ch:
		if evt.Name != string(model.MessageReceived) {
			t.Errorf("got name %q, want %q", evt.Name, model.MessageReceived)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicIsolation(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(ConnectionTopic("c1"), 10)
	defer unsub()

	b.Publish(FromCanonical(ConnectionTopic("c2"), &model.CanonicalEvent{Kind: model.MessageReceived}))
	b.Publish(FromCanonical(ConnectionTopic("c1"), &model.CanonicalEvent{Kind: model.MessageSent}))

	select {
	case evt := <-ch:
		if evt.Topic != ConnectionTopic("c1") {
			t.Errorf("got topic %q, want connection:c1", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The c2 event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestPrefixSubscription(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(Topic("connection:"), 10)
	defer unsub()

	b.Publish(FromCanonical(ConnectionTopic("c1"), &model.CanonicalEvent{Kind: model.MessageReceived}))
	b.Publish(FromCanonical(OrgTopic("o1"), &model.CanonicalEvent{Kind: model.MessageReceived}))

	got := 0
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case <-ch:
			got++
		case <-deadline:
			if got != 1 {
				t.Errorf("received %d events, want 1", got)
			}
			return
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(ConnectionTopic("c1"), 10)
	unsub()

	b.Publish(FromCanonical(ConnectionTopic("c1"), &model.CanonicalEvent{Kind: model.MessageReceived}))

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(ConnectionTopic("c1"), 1)
	defer unsub()

	b.Publish(FromCanonical(ConnectionTopic("c1"), &model.CanonicalEvent{Kind: model.MessageReceived}))
	// Buffer full: must be dropped, not block the publisher.
	b.Publish(FromCanonical(ConnectionTopic("c1"), &model.CanonicalEvent{Kind: model.MessageSent}))

	evt := <-ch
	if evt.Name != string(model.MessageReceived) {
		t.Errorf("got %q, want %q", evt.Name, model.MessageReceived)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(ConnectionTopic("c1"), 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			b.Publish(FromCanonical(ConnectionTopic("c1"), &model.CanonicalEvent{Kind: model.MessageReceived}))
		}
	}()
	go func() {
		defer wg.Done()
		unsub()
	}()
	wg.Wait()
}
