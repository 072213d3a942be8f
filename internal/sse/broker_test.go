package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/a11yledger/internal/ingest"
)

func committed(runID string, changes ...ingest.Change) *ingest.Summary {
	sum := &ingest.Summary{RunID: runID, Files: 1, Changes: changes}
	for _, c := range changes {
		switch c.Kind {
		case "inserted":
			sum.Inserted++
		case "merged":
			sum.Merged++
		}
	}
	return sum
}

// drain collects messages until none arrive for a short while.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func countType(msgs []string, typ string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, "event: "+typ+"\n") {
			n++
		}
	}
	return n
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestBatchFinished_CommittedEventOrder(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.BatchFinished(committed("r1",
		ingest.Change{ID: "abc#0", Version: 1, Kind: "inserted"},
		ingest.Change{ID: "def#0", Version: 3, Kind: "merged"},
	), nil)

	msgs := drain(ch)
	want := []string{TypeDefectInserted, TypeDefectMerged, TypeIngestCompleted, TypeDocumentUpdated}
	if len(msgs) != len(want) {
		t.Fatalf("messages = %q", msgs)
	}
	for i, typ := range want {
		if !strings.Contains(msgs[i], "event: "+typ+"\n") {
			t.Errorf("message %d = %q, want %s", i, msgs[i], typ)
		}
	}
	if !strings.Contains(msgs[0], `"id":"abc#0","version":1,"run_id":"r1"`) {
		t.Errorf("defect payload = %q", msgs[0])
	}
	if !strings.Contains(msgs[2], `"inserted":1,"merged":1`) {
		t.Errorf("batch payload = %q", msgs[2])
	}
	if !strings.Contains(msgs[3], `"changed":2`) {
		t.Errorf("document payload = %q", msgs[3])
	}
}

func TestBatchFinished_AbortedSendsNoDefectEvents(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	sum := committed("r2", ingest.Change{ID: "abc#0", Version: 1, Kind: "inserted"})
	sum.Aborted = true
	b.BatchFinished(sum, errors.New("batch aborted: cancelled"))

	msgs := drain(ch)
	if len(msgs) != 1 || countType(msgs, TypeIngestAborted) != 1 {
		t.Fatalf("messages = %q", msgs)
	}
	if !strings.Contains(msgs[0], `"error":"batch aborted: cancelled"`) {
		t.Errorf("aborted payload = %q", msgs[0])
	}
}

func TestBatchFinished_NoChangesNoDocumentUpdate(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	sum := committed("r3", ingest.Change{ID: "abc#0", Version: 1, Kind: "unchanged"})
	sum.Unchanged = 1
	b.BatchFinished(sum, nil)

	msgs := drain(ch)
	if len(msgs) != 1 || countType(msgs, TypeIngestCompleted) != 1 {
		t.Errorf("messages = %q", msgs)
	}
}

func TestDocumentUpdated_CoalescedWithTrailingFlush(t *testing.T) {
	b := NewBroker(200 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.BatchFinished(committed("r1", ingest.Change{ID: "a#0", Version: 1, Kind: "inserted"}), nil)
	b.BatchFinished(committed("r2", ingest.Change{ID: "b#0", Version: 1, Kind: "inserted"}), nil)
	b.BatchFinished(committed("r3", ingest.Change{ID: "a#0", Version: 2, Kind: "merged"}), nil)

	first := drain(ch)
	if n := countType(first, TypeDocumentUpdated); n != 1 {
		t.Fatalf("document.updated inside window = %d, want 1: %q", n, first)
	}

	time.Sleep(250 * time.Millisecond)
	trailing := drain(ch)
	if len(trailing) != 1 || countType(trailing, TypeDocumentUpdated) != 1 {
		t.Fatalf("trailing = %q", trailing)
	}
	if !strings.Contains(trailing[0], `"run_id":"r3","changed":2`) {
		t.Errorf("trailing payload = %q", trailing[0])
	}
}

func TestEventsCarryIncreasingIDs(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.BatchFinished(committed("r1", ingest.Change{ID: "a#0", Version: 1, Kind: "inserted"}), nil)

	msgs := drain(ch)
	for i, m := range msgs {
		want := "id: " + string(rune('1'+i)) + "\n"
		if !strings.HasPrefix(m, want) {
			t.Errorf("message %d = %q, want prefix %q", i, m, want)
		}
	}
}

func TestSubscribe_ReplaysAfterLastID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	// Events 1..3: inserted, completed, document.updated.
	b.BatchFinished(committed("r1", ingest.Change{ID: "a#0", Version: 1, Kind: "inserted"}), nil)
	// Event 4: aborted.
	b.BatchFinished(&ingest.Summary{RunID: "r2", Aborted: true}, nil)
	time.Sleep(20 * time.Millisecond)

	ch := b.Subscribe(2)
	defer b.Unsubscribe(ch)

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("replayed = %q", msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 3\nevent: "+TypeDocumentUpdated) ||
		!strings.HasPrefix(msgs[1], "id: 4\nevent: "+TypeIngestAborted) {
		t.Errorf("replayed = %q", msgs)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.BatchFinished(committed("r1", ingest.Change{ID: "abc#0", Version: 2, Kind: "merged"}), nil)
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: defect.merged") || !strings.Contains(body, "event: ingest.completed") {
		t.Errorf("handler output missing events: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestSSEHandler_LastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	b.BatchFinished(committed("r1", ingest.Change{ID: "abc#0", Version: 1, Kind: "inserted"}), nil)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, "event: defect.inserted") {
		t.Errorf("event 1 replayed: %q", body)
	}
	if !strings.Contains(body, "id: 2\nevent: ingest.completed") {
		t.Errorf("missing replay of event 2: %q", body)
	}
}

func TestBatchFinished_DropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	// Overfill the client buffer; the broker must not block.
	for i := 0; i < 2*HistorySize; i++ {
		b.BatchFinished(committed("r"), nil)
	}
	if b.ClientCount() != 1 {
		t.Error("broker stopped serving after overflow")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.BatchFinished(committed("r1"), nil)
	b.BatchFinished(nil, nil)
}

func TestSSEHandler_Heartbeat(t *testing.T) {
	old := HeartbeatInterval
	HeartbeatInterval = 20 * time.Millisecond
	defer func() { HeartbeatInterval = old }()

	b := NewBroker(time.Hour)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), ": ping\n\n") {
		t.Errorf("handler output missing heartbeat: %q", w.Body.String())
	}
}
