package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is one frame pushed by the server.
type Event struct {
	Channel     string         `json:"channel"`
	Type        string         `json:"type"`
	ProjectID   string         `json:"project_id"`
	Payload     map[string]any `json:"payload"`
	PublishedAt time.Time      `json:"published_at"`
}

// EventHandler is called for each event received via WebSocket
type EventHandler func(event Event)

// Event types pushed on the reservations and conflicts channels.
const (
	EventReservationAcquired = "reservation.acquired"
	EventReservationReleased = "reservation.released"
	EventReservationRenewed  = "reservation.renewed"
	EventReservationExpired  = "reservation.expired"
	EventReservationExpiring = "reservation.expiring"
	EventConflictDetected    = "conflict.detected"
	EventConflictResolved    = "conflict.resolved"
)

// WSClient streams a project's events and reconnects when the connection drops.
type WSClient struct {
	baseURL   string
	apiKey    string
	project   string
	channels  []string
	reconnect bool
	maxWait   time.Duration

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers []EventHandler

	done      chan struct{}
	closeOnce sync.Once
}

// WSOption configures the WebSocket client
type WSOption func(*WSClient)

func WithWSAPIKey(key string) WSOption {
	return func(c *WSClient) {
		c.apiKey = key
	}
}

// WithChannels limits the stream to "reservations" and/or "conflicts".
// The default is both.
func WithChannels(channels ...string) WSOption {
	return func(c *WSClient) {
		c.channels = channels
	}
}

func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) {
		c.reconnect = enabled
	}
}

func NewWSClient(baseURL, project string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		project:   project,
		done:      make(chan struct{}),
		reconnect: true,
		maxWait:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers an event handler
func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect dials the server and starts delivering events to the handlers.
func (c *WSClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *WSClient) dial(ctx context.Context) error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}
	opts := &websocket.DialOptions{}
	if c.apiKey != "" {
		opts.HTTPHeader = map[string][]string{"Authorization": {"Bearer " + c.apiKey}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close stops the read loop and closes the connection.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "client closing")
		}
	})
	return err
}

func (c *WSClient) buildWSURL() (string, error) {
	if strings.TrimSpace(c.project) == "" {
		return "", errors.New("project required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/projects/" + c.project
	if len(c.channels) > 0 {
		q := u.Query()
		q.Set("channels", strings.Join(c.channels, ","))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if !c.reconnect || !c.redial(ctx) {
				return
			}
			continue
		}
		c.dispatchEvent(event)
	}
}

func (c *WSClient) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// redial retries with exponential backoff until it connects or is stopped.
func (c *WSClient) redial(ctx context.Context) bool {
	backoff := time.Second
	for {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if err := c.dial(ctx); err == nil {
			return true
		}
		backoff = min(backoff*2, c.maxWait)
	}
}

// FilteredEventHandler only passes events whose type is in types.
func FilteredEventHandler(handler EventHandler, types ...string) EventHandler {
	return func(event Event) {
		for _, t := range types {
			if event.Type == t {
				handler(event)
				return
			}
		}
	}
}
