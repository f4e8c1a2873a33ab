package bus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestSendDeliversToSubscribers verifies synchronous fan-out to every
// registered handler.
func TestSendDeliversToSubscribers(t *testing.T) {
	b := NewMessageBus()
	var gotA, gotB []Message
	b.Subscribe("a", func(m Message) { gotA = append(gotA, m) })
	b.Subscribe("b", func(m Message) { gotB = append(gotB, m) })

	msg := Message{Kind: KindEscalation, OrgID: uuid.New(), Body: "stuck"}
	b.Send(msg)

	if len(gotA) != 1 || gotA[0].Body != "stuck" {
		t.Errorf("handler a got %v", gotA)
	}
	if len(gotB) != 1 || gotB[0].Kind != KindEscalation {
		t.Errorf("handler b got %v", gotB)
	}
}

// TestUnsubscribeStopsDelivery verifies a removed handler sees no further
// messages.
func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMessageBus()
	count := 0
	b.Subscribe("x", func(Message) { count++ })

	b.Send(Message{Kind: KindProgressReport})
	b.Unsubscribe("x")
	b.Send(Message{Kind: KindProgressReport})

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
}

// TestConsume verifies the queue side delivers sent messages and honors
// context cancellation.
func TestConsume(t *testing.T) {
	b := NewMessageBus()
	want := Message{Kind: KindEmergencyStop, Body: "budget"}
	b.Send(want)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := b.Consume(ctx)
	if !ok {
		t.Fatal("Consume returned not-ok with a queued message")
	}
	if got.Kind != want.Kind || got.Body != want.Body {
		t.Errorf("Consume = %+v, want %+v", got, want)
	}

	cancelled, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if _, ok := b.Consume(cancelled); ok {
		t.Error("Consume on cancelled context returned ok")
	}
}

// TestSendAfterClose verifies a closed bus drops messages instead of
// delivering them.
func TestSendAfterClose(t *testing.T) {
	b := NewMessageBus()
	count := 0
	b.Subscribe("x", func(Message) { count++ })
	b.Close()
	b.Send(Message{Kind: KindReviewRequest})
	if count != 0 {
		t.Errorf("handler called %d times after close, want 0", count)
	}
}

// TestSendNeverBlocksOnFullQueue verifies overflow drops rather than stalls
// the sender.
func TestSendNeverBlocksOnFullQueue(t *testing.T) {
	b := NewMessageBus()
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+10; i++ {
			b.Send(Message{Kind: KindProgressReport})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a full queue")
	}
}
