// Package viewport hosts the embedded simulation viewport over a websocket.
// A viewport instance connects to the host, and that connection is the
// restricted message channel the handshake talks through.
package viewport

import (
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/handshake"
)

var (
	ErrNotConnected   = errors.New("viewport: no instance connected")
	ErrOriginMismatch = errors.New("viewport: target origin does not match the instance")
	ErrBackpressure   = errors.New("viewport: send buffer full")
)

const sendBuffer = 16

// Config configures a Host.
type Config struct {
	// URL is the page a viewport instance is loaded from.
	URL string
	// AllowedOrigins gates the websocket upgrade.
	AllowedOrigins []string
}

// Host owns the single viewport instance. Only one instance is connected at
// a time; loading a new one drops the old.
type Host struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger
	inbound  chan handshake.Inbound

	mu       sync.Mutex
	token    string
	client   *client
	onLoaded func(token string)
}

type client struct {
	conn   *websocket.Conn
	origin string
	token  string
	send   chan handshake.Message
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHost creates a host with no instance loaded.
func NewHost(cfg Config, log zerolog.Logger) *Host {
	return &Host{
		cfg:      cfg,
		upgrader: buildUpgrader(cfg.AllowedOrigins),
		log:      log.With().Str("component", "viewport").Logger(),
		inbound:  make(chan handshake.Inbound, 64),
	}
}

// OnLoaded registers the load-complete callback. It runs on the connecting
// request's goroutine, after the instance can receive messages.
func (h *Host) OnLoaded(f func(token string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLoaded = f
}

// Inbound is the stream of messages received from connected instances, each
// stamped with the origin and load token its connection was opened with.
func (h *Host) Inbound() <-chan handshake.Inbound {
	return h.inbound
}

// LoadURL is the viewport page URL for a load with token.
func (h *Host) LoadURL(token string) string {
	u, err := url.Parse(h.cfg.URL)
	if err != nil || token == "" {
		return h.cfg.URL
	}
	q := u.Query()
	q.Set("v", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Load expects a new instance carrying token and drops the current one.
func (h *Host) Load(token string) error {
	h.mu.Lock()
	h.token = token
	old := h.client
	h.client = nil
	h.mu.Unlock()

	if old != nil {
		old.close()
	}
	h.log.Info().Str("url", h.LoadURL(token)).Msg("Viewport load requested")
	return nil
}

// Post queues m for the connected instance. Messages addressed to any origin
// other than the instance's are dropped.
func (h *Host) Post(m handshake.Message, targetOrigin string) error {
	h.mu.Lock()
	c := h.client
	h.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	if !handshake.SameOrigin(c.origin, targetOrigin) {
		return ErrOriginMismatch
	}
	select {
	case c.send <- m:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		return ErrBackpressure
	}
}

// ServeHTTP upgrades a viewport instance. The "v" query parameter must carry
// the token of the current load; instances from earlier loads are refused.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("v")

	h.mu.Lock()
	expected := h.token
	h.mu.Unlock()
	if token != expected {
		h.log.Warn().Str("token", token).Msg("Refused stale viewport instance")
		http.Error(w, "stale viewport instance", http.StatusConflict)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		origin: r.Header.Get("Origin"),
		token:  token,
		send:   make(chan handshake.Message, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.token != token {
		// A reload raced the upgrade.
		h.mu.Unlock()
		c.close()
		return
	}
	old := h.client
	h.client = c
	onLoaded := h.onLoaded
	h.mu.Unlock()
	if old != nil {
		old.close()
	}

	log := h.log.With().Str("origin", c.origin).Str("token", token).Logger()
	log.Info().Msg("Viewport connected")

	go h.writePump(c, log)
	if onLoaded != nil {
		onLoaded(token)
	}
	h.readPump(c, log)

	h.mu.Lock()
	if h.client == c {
		h.client = nil
	}
	h.mu.Unlock()
	c.close()
}

func (h *Host) readPump(c *client, log zerolog.Logger) {
	for {
		var msg handshake.Message
		if err := readJSON(c.conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}
		select {
		case h.inbound <- handshake.Inbound{Origin: c.origin, Token: c.token, Message: msg}:
		case <-c.done:
			return
		}
	}
}

func (h *Host) writePump(c *client, log zerolog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			if err := writeJSON(c.conn, m); err != nil {
				log.Warn().Err(err).Str("type", string(m.Type)).Msg("Viewport write failed")
				c.close()
				return
			}
		}
	}
}

// Close drops the connected instance.
func (h *Host) Close() {
	h.mu.Lock()
	c := h.client
	h.client = nil
	h.mu.Unlock()
	if c != nil {
		c.close()
	}
}
