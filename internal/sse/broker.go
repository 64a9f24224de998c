// Package sse pushes manifest changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/starford/resultbox/internal/reconcile"
)

// Event is one message on the stream. An empty ID is replaced by a fresh
// UUID. Section routes the event to clients following that section; an empty
// Section reaches every client.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Section string `json:"-"`
	Data    any    `json:"data"`
}

// Broker fans events out to connected clients.
//
// One goroutine owns the client set and the per-section throttle state;
// every public method talks to it over channels.
type Broker struct {
	manifestMin time.Duration
	keepAlive   time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan reconcile.Change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type subscription struct {
	ch       chan []byte
	sections []string
}

// wants reports whether the subscriber follows section.
func (s subscription) wants(section string) bool {
	return section == "" || len(s.sections) == 0 || slices.Contains(s.sections, section)
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets the interval of the comment lines sent on idle streams.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.keepAlive = d
		}
	}
}

// NewBroker creates a broker that sends manifest.updated for a section at
// most once per throttle interval.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		manifestMin:   throttle,
		keepAlive:     30 * time.Second,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan reconcile.Change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return fmt.Appendf(nil, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]subscription)
	lastManifest := make(map[string]time.Time)

	broadcast := func(event Event) {
		raw, err := encode(event)
		if err != nil {
			return
		}
		for ch, sub := range clients {
			if !sub.wants(event.Section) {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall every other stream.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case c := <-b.changeCh:
			switch c.Kind {
			case reconcile.ChangeCreated, reconcile.ChangeDeleted, reconcile.ChangeMoved:
			default:
				continue
			}
			broadcast(Event{Type: "file." + c.Kind, Section: c.Section, Data: c})

			now := time.Now()
			if now.Sub(lastManifest[c.Section]) >= b.manifestMin {
				lastManifest[c.Section] = now
				broadcast(Event{
					Type:    "manifest.updated",
					Section: c.Section,
					Data:    map[string]string{"section": c.Section},
				})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client following sections, or every section when
// none are given.
func (b *Broker) Subscribe(sections ...string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, sections: sections}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues event for broadcast.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange turns a saved manifest change into a file.<kind> event and
// a throttled manifest.updated. It satisfies reconcile.Notifier.
func (b *Broker) PublishChange(c reconcile.Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- c:
	case <-b.stopped:
	}
}

// ServeHTTP streams events (GET /api/events). The optional section query
// parameter is a comma separated list of sections to follow.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var sections []string
	for _, s := range strings.Split(r.URL.Query().Get("section"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: 3000\n\n"))
	flusher.Flush()

	ch := b.Subscribe(sections...)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			// Comment lines keep proxies from closing idle streams.
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
