package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAPIKey    Mode = "api_key"
)

// AgentHeader names the calling agent when the key does not fix one.
const AgentHeader = "X-Agent-ID"

// Info describes the authenticated caller.
type Info struct {
	Mode      Mode
	Project   string
	AgentID   string
	Localhost bool
}

// ProjectFor returns the project a caller may act on. Localhost callers may
// name any project; key holders are confined to theirs.
func (i Info) ProjectFor(requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if i.Mode != ModeAPIKey {
		return requested, requested != ""
	}
	if requested == "" || requested == i.Project {
		return i.Project, true
	}
	return "", false
}

// AgentFor returns the agent a caller acts as. A key bound to an agent wins
// over anything in the request.
func (i Info) AgentFor(requested string) string {
	if i.AgentID != "" {
		return i.AgentID
	}
	return strings.TrimSpace(requested)
}

type contextKey struct{}

func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// WithInfo stores info on ctx.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = NewKeyring(true, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent := strings.TrimSpace(r.Header.Get(AgentHeader))
			if ring.AllowLocalhostWithoutAuth && isLocalRequest(r) {
				info := Info{Mode: ModeLocalhost, AgentID: agent, Localhost: true}
				next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
				return
			}
			p, ok := authorize(r, ring)
			if !ok {
				writeUnauthorized(w)
				return
			}
			if p.AgentID != "" {
				agent = p.AgentID
			}
			info := Info{Mode: ModeAPIKey, Project: p.Project, AgentID: agent}
			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
		})
	}
}

func authorize(r *http.Request, ring *Keyring) (Principal, bool) {
	key := bearer(r.Header.Get("Authorization"))
	if key == "" {
		// Browsers cannot set headers on websocket upgrades.
		key = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if key == "" {
		return Principal{}, false
	}
	return ring.Lookup(key)
}

func bearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": "missing or invalid api key"})
}

func isLocalRequest(r *http.Request) bool {
	if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.IsLoopback()
		}
		return strings.EqualFold(ip, "localhost")
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if host == "" || host == "@" {
		// Unix socket peers have no address.
		return true
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

func forwardedFor(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
