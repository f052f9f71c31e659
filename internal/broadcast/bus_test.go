package broadcast

import (
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()
	b := New[int](nil, "test")

	ch1, unsub1 := b.Subscribe(1)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(1)
	defer unsub2()

	b.Publish(42)

	for _, ch := range []<-chan int{ch1, ch2} {
		select {
		case v := <-ch:
			if v != 42 {
				t.Errorf("got %d, want 42", v)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for value")
		}
	}
}

func TestPublishDropsOnFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New[int](nil, "test")

	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(1)
	b.Publish(2) // dropped, channel buffer is full

	v := <-ch
	if v != 1 {
		t.Errorf("got %d, want 1 (first published value retained)", v)
	}

	select {
	case <-ch:
		t.Fatal("expected no second value, publisher should have dropped it")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New[int](nil, "test")

	ch, unsub := b.Subscribe(1)
	unsub()

	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	t.Parallel()
	b := New[string](nil, "test")
	b.Publish("hello")
}
