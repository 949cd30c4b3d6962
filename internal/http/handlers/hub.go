package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/middleware"
	"github.com/CanSsever/qoder-deneme-sub000/internal/statuscache"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type subscriber struct {
	jobID string
	send  chan statuscache.Status
}

// Hub relays status updates to websocket subscribers. A subscriber with a
// job id only sees that job and is closed once it turns terminal; one
// without sees every job.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *infra.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub accepts same-origin upgrades, plus allowedOrigins when given.
func NewHub(allowedOrigins []string, logger *infra.Logger) *Hub {
	h := &Hub{
		logger: infra.LoggerOrNop(logger),
		subs:   map[*subscriber]struct{}{},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
		}
	}
	return h
}

// Run publishes every update until the channel closes or ctx is done.
func (h *Hub) Run(ctx context.Context, updates <-chan statuscache.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			h.Publish(s)
		}
	}
}

// Publish hands s to interested subscribers. Slow subscribers miss updates
// rather than blocking the relay.
func (h *Hub) Publish(s statuscache.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.jobID != "" && sub.jobID != s.JobID {
			continue
		}
		select {
		case sub.send <- s:
		default:
			h.logger.Debug().Str("job_id", s.JobID).Msg("http: dropping update for slow subscriber")
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Serve upgrades the request and streams updates. initial, when set, is
// sent first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, jobID string, initial *statuscache.Status) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("http: websocket upgrade failed")
		return
	}
	sub := &subscriber{jobID: jobID, send: make(chan statuscache.Status, sendBuffer)}
	h.add(sub)
	defer h.remove(sub)
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(s statuscache.Status) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s); err != nil {
			return false
		}
		return !(jobID != "" && s.Terminal())
	}
	if initial != nil && !write(*initial) {
		closeNormally(conn)
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case s := <-sub.send:
			if !write(s) {
				closeNormally(conn)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
