package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bina/bimsync/pkg/models"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	b.Unsubscribe(ch2) // second call is a no-op
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{
		Type:   EventItem,
		RunID:  "run-1",
		Index:  0,
		Total:  3,
		Status: models.StatusDownloading.String(),
		Label:  "Structure / L1",
	})

	select {
	case received := <-ch:
		if received.Type != EventItem {
			t.Errorf("expected type %s, got %s", EventItem, received.Type)
		}
		if received.ItemStatus() != models.StatusDownloading {
			t.Errorf("expected downloading, got %v", received.ItemStatus())
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(Event{Type: EventResolved, Total: 4})

	for i, ch := range []chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Total != 4 {
				t.Errorf("subscriber %d: expected total 4, got %d", i, received.Total)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the channel buffer (64)
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventItem, Index: i})
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:
	if count != 64 {
		t.Errorf("expected 64 buffered events, got %d", count)
	}
}

func TestItemStatusUnknown(t *testing.T) {
	if s := (Event{Status: "bogus"}).ItemStatus(); s != models.StatusPending {
		t.Errorf("expected pending for unknown status, got %v", s)
	}
}

func TestMarshalEvent(t *testing.T) {
	item := models.WorkItem{Discipline: "Structure"}
	data, err := MarshalEvent(Event{
		Type:      EventRunFinished,
		RunID:     "run-2",
		Item:      &item,
		Timestamp: 1234567890,
	})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["run_id"] != "run-2" {
		t.Errorf("unexpected run_id: %v", m["run_id"])
	}
	if _, ok := m["Item"]; ok {
		t.Error("item pointer should not be serialized")
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	b := NewBroadcaster()
	ts := httptest.NewServer(Handler(b))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// The subscription is registered after headers are flushed.
	deadline := time.Now().Add(time.Second)
	for b.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Event{Type: EventRunStarted, RunID: "run-3"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(line) != "event: "+EventRunStarted {
		t.Errorf("unexpected event line %q", line)
	}
	line, _ = reader.ReadString('\n')
	if !strings.Contains(line, `"run_id":"run-3"`) {
		t.Errorf("unexpected data line %q", line)
	}
}
