package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/resultbox/internal/reconcile"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{ID: "evt-1", Type: "file.created", Data: map[string]string{"path": "/data/dropbox/a.vcf"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "id: evt-1\n") {
			t.Errorf("missing id in %q", s)
		}
		if !strings.Contains(s, "event: file.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"/data/dropbox/a.vcf"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishChange_ManifestThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First change should trigger manifest.updated.
	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeCreated, Section: "dropbox", ID: "0", Path: "/d/a.vcf"})
	// Second change immediately should NOT trigger another manifest.updated.
	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeMoved, Section: "dropbox", ID: "0", Path: "/d/a.vcf", Dest: "/d/b.vcf"})
	// Unknown kinds are dropped.
	b.PublishChange(reconcile.Change{Kind: "touched", Section: "dropbox"})

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	manifestCount := 0
	var fileEvents []string
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "manifest.updated") {
				manifestCount++
			} else {
				fileEvents = append(fileEvents, s)
			}
		default:
			break loop
		}
	}

	if len(fileEvents) != 2 {
		t.Fatalf("file events = %d, want 2", len(fileEvents))
	}
	if !strings.Contains(fileEvents[1], "event: file.moved") || !strings.Contains(fileEvents[1], `"dest":"/d/b.vcf"`) {
		t.Errorf("unexpected move event %q", fileEvents[1])
	}
	if manifestCount != 1 {
		t.Errorf("manifest events = %d, want 1 (throttled)", manifestCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
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

	b.Publish(Event{Type: "file.deleted", Data: map[string]string{"path": "x.tsv"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: file.deleted") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
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

	// Should be safe no-op after close.
	b.Publish(Event{Type: "file.deleted", Data: map[string]string{"path": "x.tsv"}})
	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeDeleted, Path: "x.tsv"})
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribe_SectionFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	jobs := b.Subscribe("process-0")
	defer b.Unsubscribe(jobs)
	all := b.Subscribe()
	defer b.Unsubscribe(all)

	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeCreated, Section: "dropbox", ID: "0", Path: "/d/a.vcf"})
	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeCreated, Section: "process-0", ID: "0", Path: "/r/j/a.tsv"})
	b.Publish(Event{Type: "server.notice", Data: "hello"})
	time.Sleep(50 * time.Millisecond)

	got := drain(jobs)
	// file.created + manifest.updated for process-0, plus the unsectioned notice.
	if len(got) != 3 {
		t.Fatalf("filtered client got %d events: %q", len(got), got)
	}
	for _, msg := range got {
		if strings.Contains(msg, `"section":"dropbox"`) {
			t.Errorf("dropbox event leaked: %q", msg)
		}
	}
	if n := len(drain(all)); n != 5 {
		t.Errorf("unfiltered client got %d events, want 5", n)
	}
}

func TestPublishChange_ThrottlePerSection(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeCreated, Section: "dropbox", ID: "0"})
	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeCreated, Section: "process-1", ID: "0"})
	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeDeleted, Section: "dropbox", ID: "0"})
	time.Sleep(50 * time.Millisecond)

	manifest := 0
	for _, msg := range drain(ch) {
		if strings.Contains(msg, "event: manifest.updated") {
			manifest++
		}
	}
	if manifest != 2 {
		t.Errorf("manifest events = %d, want one per section", manifest)
	}
}

func TestSSEHandler_SectionQueryAndKeepAlive(t *testing.T) {
	b := NewBroker(time.Hour, WithKeepAlive(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events?section=process-2", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeCreated, Section: "dropbox", ID: "0", Path: "/d/x.vcf"})
	b.PublishChange(reconcile.Change{Kind: reconcile.ChangeCreated, Section: "process-2", ID: "4", Path: "/r/y.tsv"})
	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, ": keepalive") {
		t.Errorf("missing keepalive: %q", body)
	}
	if strings.Contains(body, "/d/x.vcf") || !strings.Contains(body, "/r/y.tsv") {
		t.Errorf("section filter not applied: %q", body)
	}
}

func TestWithKeepAlive_IgnoresNonPositive(t *testing.T) {
	b := NewBroker(time.Second, WithKeepAlive(0))
	defer b.Close()
	if b.keepAlive != 30*time.Second {
		t.Errorf("keepAlive = %v, want default", b.keepAlive)
	}
}
