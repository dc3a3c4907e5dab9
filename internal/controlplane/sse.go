package controlplane

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/fentz26/timebook/internal/pomodoro"
)

const (
	// sseWriteTimeout bounds a write to one client.
	sseWriteTimeout = 2 * time.Second
	// sseBuffer is the number of messages queued per client before it is dropped.
	sseBuffer = 16
)

type sseClient struct {
	id       string
	messages chan string
	done     chan struct{}
	once     sync.Once
}

func (c *sseClient) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster fans engine notifications out to SSE clients. Each client's
// handler goroutine owns its ResponseWriter; Broadcast only queues messages.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*sseClient
	nextID  int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*sseClient)}
}

// Notify implements pomodoro.Notifier.
func (b *Broadcaster) Notify(n pomodoro.Notification) {
	b.Broadcast(n)
}

// Broadcast queues data as one SSE message for every client. A client whose
// queue is full is dropped.
func (b *Broadcaster) Broadcast(data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	var slow []*sseClient
	b.mu.RLock()
	for _, c := range b.clients {
		select {
		case c.messages <- message:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("clientId", c.id).Msg("SSE client too slow, dropping")
		b.remove(c)
	}
}

func (b *Broadcaster) add() *sseClient {
	b.mu.Lock()
	b.nextID++
	c := &sseClient{
		id:       fmt.Sprintf("client-%d", b.nextID),
		messages: make(chan string, sseBuffer),
		done:     make(chan struct{}),
	}
	b.clients[c.id] = c
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", c.id).Int("totalClients", count).Msg("SSE client connected")
	return c
}

func (b *Broadcaster) remove(c *sseClient) {
	b.mu.Lock()
	_, present := b.clients[c.id]
	delete(b.clients, c.id)
	count := len(b.clients)
	b.mu.Unlock()
	c.close()

	if present {
		log.Debug().Str("clientId", c.id).Int("totalClients", count).Msg("SSE client disconnected")
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP streams notifications until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	send := func(message string) bool {
		// Not every writer supports deadlines; the write then simply blocks.
		_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
		if _, err := fmt.Fprint(w, message); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	c := b.add()
	defer b.remove(c)

	if !send("data: {\"type\":\"connected\"}\n\n") {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case message := <-c.messages:
			if !send(message) {
				log.Debug().Str("clientId", c.id).Msg("SSE write failed")
				return
			}
		}
	}
}
