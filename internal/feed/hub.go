// Package feed pushes round updates to websocket subscribers: each time a
// round family rolls over, clients get the new round and the outcome of the
// one that just closed.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/xtding233/wager-backend/internal/settle"
)

// Msg is the wire envelope.
type Msg struct {
	T string `json:"t"`
	M any    `json:"m,omitempty"`
}

// Source reports rounds. *settle.Engine implements it.
type Source interface {
	Families() map[string]string
	CurrentRound(family string) (settle.RoundStatus, error)
}

type client struct {
	id   string
	send chan []byte
}

type Hub struct {
	src          Source
	interval     time.Duration
	allowOrigins []string
	log          *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}

	lastMu sync.Mutex
	last   map[string]int64 // family -> last published round id
}

// NewHub polls src every interval. allow takes origins ("https://a.example")
// or host patterns ("*.example"); an empty list accepts any origin.
func NewHub(src Source, interval time.Duration, allow []string, log *logrus.Entry) *Hub {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		src:          src,
		interval:     interval,
		allowOrigins: originPatterns(allow),
		log:          log,
		clients:      map[*client]struct{}{},
		last:         map[string]int64{},
	}
}

func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}

// Run publishes round changes until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			h.Poll()
		}
	}
}

// Poll broadcasts every round family whose current round changed.
func (h *Hub) Poll() int {
	sent := 0
	for _, st := range h.snapshot() {
		h.lastMu.Lock()
		prev, seen := h.last[st.Current.Family]
		changed := !seen || prev != st.Current.ID
		h.last[st.Current.Family] = st.Current.ID
		h.lastMu.Unlock()
		if changed {
			h.broadcast(Msg{T: "round", M: st})
			sent++
		}
	}
	return sent
}

func (h *Hub) snapshot() []settle.RoundStatus {
	var names []string
	for name, mode := range h.src.Families() {
		if mode == "round" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]settle.RoundStatus, 0, len(names))
	for _, name := range names {
		st, err := h.src.CurrentRound(name)
		if err != nil {
			h.log.WithError(err).WithField("family", name).Warn("round feed skipped family")
			continue
		}
		out = append(out, st)
	}
	return out
}

func (h *Hub) broadcast(m Msg) {
	b, err := json.Marshal(m)
	if err != nil {
		h.log.WithError(err).Error("feed encode failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// slow subscriber; it catches up on the next round
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades to a websocket, sends a snapshot of every round family
// and then streams updates. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.allowOrigins}
	if len(h.allowOrigins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.WithError(err).Debug("feed upgrade refused")
		return
	}
	c := &client{id: uuid.NewString(), send: make(chan []byte, 64)}
	log := h.log.WithField("client", c.id)

	for _, st := range h.snapshot() {
		b, _ := json.Marshal(Msg{T: "round", M: st})
		c.send <- b
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Debug("feed client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		log.Debug("feed client disconnected")
	}()

	ctx := conn.CloseRead(r.Context())
	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}
