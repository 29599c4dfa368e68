// Package ws fans reservation and conflict events out to websocket
// subscribers of a project.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/auth"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

const (
	writeTimeout = 5 * time.Second
	routePrefix  = "/ws/projects/"
)

// Envelope is the frame written to subscribers.
type Envelope struct {
	Channel     string         `json:"channel"`
	Type        string         `json:"type"`
	ProjectID   string         `json:"project_id"`
	Payload     map[string]any `json:"payload"`
	PublishedAt time.Time      `json:"published_at"`
}

type subscriber struct {
	conn     *websocket.Conn
	agentID  string
	channels map[string]bool // empty means all
}

func (s *subscriber) wants(channel string) bool {
	return len(s.channels) == 0 || s.channels[channel]
}

// Hub tracks subscribers per project and implements events.Publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	logger *slog.Logger
	now    func() time.Time
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger,
		now:    time.Now,
	}
}

// Handler upgrades GET /ws/projects/{project}. The optional channels query
// parameter is a comma separated list of workspace:reservations and
// workspace:conflicts (the workspace: prefix may be omitted).
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requested := strings.Trim(strings.TrimPrefix(r.URL.Path, routePrefix), "/")
		if requested == "" || strings.Contains(requested, "/") {
			http.Error(w, "project required", http.StatusBadRequest)
			return
		}
		info, _ := auth.FromContext(r.Context())
		project, ok := info.ProjectFor(requested)
		if !ok {
			http.Error(w, "project not permitted for this key", http.StatusForbidden)
			return
		}
		channels, err := parseChannels(r.URL.Query().Get("channels"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sub := &subscriber{conn: conn, agentID: info.AgentFor(r.URL.Query().Get("agent_id")), channels: channels}
		h.add(project, sub)
		defer h.remove(project, sub)
		h.logger.DebugContext(r.Context(), "subscriber connected", "project_id", project, "agent_id", sub.agentID)

		// Inbound frames are ignored; reading keeps control frames flowing
		// and notices the close.
		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

// Publish writes the event to every subscriber of ch.ProjectID that wants
// ch.Type. Subscribers that fail a write are dropped. It returns an error only
// when every write failed.
func (h *Hub) Publish(ctx context.Context, ch core.Channel, eventType core.EventType, payload map[string]any) error {
	targets := h.snapshot(ch.ProjectID, ch.Type)
	if len(targets) == 0 {
		return nil
	}
	env := Envelope{
		Channel:     ch.Type,
		Type:        string(eventType),
		ProjectID:   ch.ProjectID,
		Payload:     payload,
		PublishedAt: h.now().UTC(),
	}
	var errs []error
	for _, sub := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, sub.conn, env)
		cancel()
		if err != nil {
			errs = append(errs, err)
			h.remove(ch.ProjectID, sub)
			go sub.conn.Close(websocket.StatusGoingAway, "write error")
		}
	}
	if len(errs) == len(targets) {
		return fmt.Errorf("publish %s to %d subscriber(s): %w", eventType, len(targets), errors.Join(errs...))
	}
	return nil
}

// Subscribers returns the number of connected subscribers for project.
func (h *Hub) Subscribers(project string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[project])
}

func (h *Hub) snapshot(project, channel string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*subscriber
	for sub := range h.subs[project] {
		if sub.wants(channel) {
			out = append(out, sub)
		}
	}
	return out
}

func (h *Hub) add(project string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.subs[project]
	if !ok {
		perProject = make(map[*subscriber]struct{})
		h.subs[project] = perProject
	}
	perProject[sub] = struct{}{}
}

func (h *Hub) remove(project string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.subs[project]
	if !ok {
		return
	}
	delete(perProject, sub)
	if len(perProject) == 0 {
		delete(h.subs, project)
	}
}

func parseChannels(raw string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, "workspace:") {
			part = "workspace:" + part
		}
		switch part {
		case core.ChannelReservations, core.ChannelConflicts:
			out[part] = true
		default:
			return nil, fmt.Errorf("unknown channel %q", part)
		}
	}
	return out, nil
}
