package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/fieldcam/camctl/internal/bus"
)

// broadcaster fans a single producer channel of bus.Event out to any number
// of SSE subscribers, dropping events for a subscriber whose send buffer is
// full rather than blocking the drain loop (the same back-pressure stance
// bus.Chan itself takes on its producer side).
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan bus.Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan bus.Event]struct{})}
}

func (b *broadcaster) subscribe() chan bus.Event {
	ch := make(chan bus.Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan bus.Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// drain reads from the process event bus until it closes, forwarding every
// event to each current subscriber.
func (b *broadcaster) drain(events <-chan bus.Event) {
	for evt := range events {
		b.mu.Lock()
		for ch := range b.subs {
			select {
			case ch <- evt:
			default:
			}
		}
		b.mu.Unlock()
	}
}

// handleEvents streams bus events to the client as server-sent events, one
// JSON object per event, named by its kind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.subscribe()
	defer s.broadcaster.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload)
			flusher.Flush()
		}
	}
}
