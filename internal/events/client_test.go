package events

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestStreamReceivesEvents(t *testing.T) {
	b := NewBroadcaster()
	ts := httptest.NewServer(Handler(b))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events := NewStream(ts.URL).Subscribe(ctx)

	deadline := time.Now().Add(time.Second)
	for b.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Event{Type: EventItem, RunID: "run-9", Index: 1, Total: 3, Status: "failed", Detail: "timeout"})

	select {
	case e := <-events:
		if e.RunID != "run-9" || e.Index != 1 || e.Total != 3 || e.Detail != "timeout" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}

	cancel()
	for range events {
	}
}

func TestStreamReconnects(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\nevent: run_started\ndata: {\"type\":\"run_started\",\"run_id\":\"run-2\"}\n\n")
	}))
	defer ts.Close()

	s := NewStream(ts.URL)
	s.reconnectMin = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	select {
	case e := <-s.Subscribe(ctx):
		if e.Type != EventRunStarted || e.RunID != "run-2" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for event after reconnect")
	}
}
