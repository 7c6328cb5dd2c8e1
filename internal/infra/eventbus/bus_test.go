package eventbus

import (
	"testing"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	sub, ok := b.Subscribe()
	if !ok {
		t.Fatal("expected subscribe to succeed")
	}

	b.Publish("model_loaded", map[string]any{"model_id": "m"})

	select {
	case evt := <-sub.C:
		if evt.Type != "model_loaded" {
			t.Fatalf("unexpected event type %q", evt.Type)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestOverflowEvictsOnlyThatSubscriber(t *testing.T) {
	b := New()
	b.queueSize = 1
	slow, _ := b.Subscribe()
	fast, _ := b.Subscribe()

	// Fill slow's queue without draining it.
	b.Publish("e1", nil)
	// This publish should overflow slow's queue (still full) and evict it,
	// while fast (who we drain) keeps receiving.
	<-fast.C
	b.Publish("e2", nil)

	select {
	case <-slow.Done:
	default:
		t.Fatal("expected slow subscriber to be evicted after queue overflow")
	}

	select {
	case <-fast.C:
	default:
		t.Fatal("expected fast subscriber to still receive events")
	}
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", b.SubscriberCount())
	}
}

func TestHardSubscriberCap(t *testing.T) {
	b := New()
	b.maxSubs = 2
	if _, ok := b.Subscribe(); !ok {
		t.Fatal("expected first subscribe to succeed")
	}
	if _, ok := b.Subscribe(); !ok {
		t.Fatal("expected second subscribe to succeed")
	}
	if _, ok := b.Subscribe(); ok {
		t.Fatal("expected third subscribe to fail at hard cap")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // must not panic on double-close
	select {
	case <-sub.Done:
	default:
		t.Fatal("expected Done to be closed")
	}
}
