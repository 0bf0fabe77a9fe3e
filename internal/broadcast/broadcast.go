// Package broadcast serves scheduler snapshots to browser overlays over a
// websocket, plus a plain JSON endpoint with the latest one.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/musicrpc/musicrpc/internal/scheduler"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// sendBuffer is the number of updates queued per client before the
	// client is considered too slow and dropped.
	sendBuffer = 8
)

// Update is the JSON document overlays receive. Type is "change" while a
// song is known and "stop" otherwise.
type Update struct {
	Type           string    `json:"type"`
	Title          string    `json:"title,omitempty"`
	Artist         string    `json:"artist,omitempty"`
	Album          string    `json:"album,omitempty"`
	Player         string    `json:"player,omitempty"`
	Playing        bool      `json:"playing"`
	ElapsedMs      int64     `json:"elapsedMs,omitempty"`
	DurationMs     int64     `json:"durationMs,omitempty"`
	ArtworkURL     string    `json:"albumArt,omitempty"`
	ArtistImageURL string    `json:"artistImage,omitempty"`
	URL            string    `json:"url,omitempty"`
	Presence       string    `json:"presence"`
	At             time.Time `json:"at"`
}

// FromSnapshot converts a snapshot into the overlay document.
func FromSnapshot(snap scheduler.Snapshot) Update {
	u := Update{Type: "stop", Presence: snap.State.String(), At: snap.At}
	if !snap.PresenceEnabled {
		u.Presence = "disabled"
	}
	if info := snap.Song; info != nil {
		u.Type = "change"
		u.Title = info.Title
		u.Artist = info.Artist
		u.Album = info.DisplayAlbum()
		u.Player = info.Player
		u.Playing = info.Playing
		u.ElapsedMs = info.Elapsed.Milliseconds()
		u.DurationMs = info.Duration.Milliseconds()
		u.ArtworkURL = info.ArtworkURL
		u.ArtistImageURL = info.ArtistImageURL
		u.URL = info.URL
	}
	return u
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans snapshots out to every connected overlay.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
	h.latest, _ = json.Marshal(Update{Type: "stop", Presence: "disconnected"})
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts native clients without an Origin header (OBS, file://),
// same-host pages and loopback pages.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		h.logger.Debug("invalid websocket origin", slog.String("origin", origin))
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	h.logger.Info("rejected websocket origin", slog.String("origin", origin))
	return false
}

// Publish records the snapshot as the latest and queues it for every client.
// Clients whose queue is full are dropped.
func (h *Hub) Publish(snap scheduler.Snapshot) {
	payload, err := json.Marshal(FromSnapshot(snap))
	if err != nil {
		h.logger.Error("encode snapshot", slog.Any("err", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = payload
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow overlay client", slog.String("remote", c.conn.RemoteAddr().String()))
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected overlays.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later Publish calls are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	c.send <- h.latest
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Handler serves GET /ws and GET /now.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/now", h.serveNow)
	return mux
}

func (h *Hub) serveNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	payload := h.latest
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(payload)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}
	c, ok := h.register(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	h.logger.Debug("overlay connected", slog.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("overlay read failed", slog.Any("err", err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("overlay write failed", slog.Any("err", err))
				h.unregister(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// Serve listens on addr until ctx is done, then shuts the server down and
// disconnects every overlay.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("broadcast listen %s: %w", addr, err)
	}
	return h.serve(ctx, ln)
}

func (h *Hub) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.logger.Info("overlay feed listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		h.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("broadcast serve: %w", err)
	case <-ctx.Done():
	}

	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("broadcast shutdown: %w", err)
	}
	return nil
}
