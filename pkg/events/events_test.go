package events

import (
	"testing"
	"time"
)

func TestBroadcastToAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)

	broker.Publish(&Event{
		Type:  EventJobFailed,
		Queue: "secret-replication",
		JobID: "job-1",
		Error: "boom",
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			if event.Type != EventJobFailed {
				t.Errorf("Expected %s, got %s", EventJobFailed, event.Type)
			}
			if event.JobID != "job-1" {
				t.Errorf("Expected job-1, got %s", event.JobID)
			}
			if event.Timestamp.IsZero() {
				t.Error("Expected timestamp to be stamped on publish")
			}
		case <-time.After(time.Second):
			t.Fatal("Subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	if broker.SubscriberCount() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", broker.SubscriberCount())
	}

	broker.Unsubscribe(sub)
	if broker.SubscriberCount() != 0 {
		t.Fatalf("Expected 0 subscribers, got %d", broker.SubscriberCount())
	}

	if _, open := <-sub; open {
		t.Fatal("Expected channel to be closed after unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained: its buffer fills and later events are skipped
	slow := broker.Subscribe()
	defer broker.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventJobStarted, JobID: "job"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
