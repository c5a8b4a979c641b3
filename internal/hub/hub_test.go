package hub

import (
	"errors"
	"testing"
	"time"

	"github.com/brianly1003/sw/internal/domain"
	"github.com/brianly1003/sw/internal/domain/events"
	"github.com/brianly1003/sw/internal/testutil"
)

func startedHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.Stop() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := startedHub(t)

	a := testutil.NewMockSubscriber("a")
	b := testutil.NewMockSubscriber("b")
	h.Subscribe(a)
	h.Subscribe(b)
	waitFor(t, "subscriptions", func() bool { return h.SubscriberCount() == 2 })

	h.Publish(events.NewRegistryReloadedEvent("/tmp/state.json"))

	waitFor(t, "delivery", func() bool {
		return a.EventCount() == 1 && b.EventCount() == 1
	})
	if a.Events()[0].Type() != events.EventTypeRegistryReloaded {
		t.Errorf("type = %q", a.Events()[0].Type())
	}
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	h := startedHub(t)

	bad := testutil.NewMockSubscriber("bad")
	bad.SetSendError(errors.New("broken pipe"))
	good := testutil.NewMockSubscriber("good")
	h.Subscribe(bad)
	h.Subscribe(good)
	waitFor(t, "subscriptions", func() bool { return h.SubscriberCount() == 2 })

	h.Publish(events.NewHeartbeatEvent(1))

	waitFor(t, "bad subscriber removal", func() bool { return h.SubscriberCount() == 1 })
	waitFor(t, "good delivery", func() bool { return good.EventCount() == 1 })
	if !bad.IsClosed() {
		t.Error("failed subscriber was not closed")
	}
}

func TestUnsubscribeClosesSubscriber(t *testing.T) {
	h := startedHub(t)

	sub := testutil.NewMockSubscriber("s")
	h.Subscribe(sub)
	waitFor(t, "subscription", func() bool { return h.SubscriberCount() == 1 })

	h.Unsubscribe("s")
	waitFor(t, "removal", func() bool { return h.SubscriberCount() == 0 })
	if !sub.IsClosed() {
		t.Error("unsubscribed subscriber was not closed")
	}
}

func TestStopClosesEverything(t *testing.T) {
	h := New()
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	sub := testutil.NewMockSubscriber("s")
	h.Subscribe(sub)
	waitFor(t, "subscription", func() bool { return h.SubscriberCount() == 1 })

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.IsRunning() {
		t.Error("hub still running after Stop")
	}
	if !sub.IsClosed() {
		t.Error("subscriber not closed on Stop")
	}
	// Publishing after Stop must not panic or block.
	h.Publish(events.NewHeartbeatEvent(2))
}

func TestStartTwiceIsNoop(t *testing.T) {
	h := startedHub(t)
	if err := h.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !h.IsRunning() {
		t.Error("hub not running")
	}
}

func TestChannelSubscriberFullBufferReportsClosed(t *testing.T) {
	sub := NewChannelSubscriber("s", 1)
	ev := events.NewHeartbeatEvent(1)

	if err := sub.Send(ev); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := sub.Send(ev); !errors.Is(err, domain.ErrSubscriberClosed) {
		t.Errorf("full buffer: want ErrSubscriberClosed, got %v", err)
	}
}

func TestChannelSubscriberSendAfterClose(t *testing.T) {
	sub := NewChannelSubscriber("s", 1)
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sub.Send(events.NewHeartbeatEvent(1)); !errors.Is(err, domain.ErrSubscriberClosed) {
		t.Errorf("want ErrSubscriberClosed, got %v", err)
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done not closed after Close")
	}
}

func TestFuncSubscriberInvokesCallback(t *testing.T) {
	got := make(chan events.Event, 1)
	sub := NewFuncSubscriber("f", func(e events.Event) { got <- e })

	if err := sub.Send(events.NewHeartbeatEvent(7)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case e := <-got:
		if e.Type() != events.EventTypeHeartbeat {
			t.Errorf("type = %q", e.Type())
		}
	default:
		t.Fatal("callback not invoked")
	}

	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sub.Send(events.NewHeartbeatEvent(8)); !errors.Is(err, domain.ErrSubscriberClosed) {
		t.Errorf("want ErrSubscriberClosed after Close, got %v", err)
	}
}
