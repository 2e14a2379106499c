// Package navguard keeps the application window on the backend origin. New
// windows and navigations elsewhere are cancelled and handed to the operating
// system's URL handler.
package navguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Action is what the window should do with a request.
type Action int

const (
	// Allow lets the window proceed.
	Allow Action = iota
	// External cancels the in-app action; the URL went to the OS opener.
	External
	// Deny cancels the in-app action and drops the URL.
	Deny
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case External:
		return "external"
	default:
		return "deny"
	}
}

// Decision is the guard's verdict on one URL.
type Decision struct {
	Action Action
	URL    string
	Reason string
}

// Allowed reports whether the window may proceed.
func (d Decision) Allowed() bool { return d.Action == Allow }

// Opener hands a URL to the operating system.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

var externalSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

// Guard decides navigation requests against the backend origin and a
// development allow-list of exact origins or glob patterns.
type Guard struct {
	opener Opener
	logger *zap.Logger

	mu       sync.RWMutex
	backend  string
	exact    map[string]bool
	patterns []string
}

// New builds a guard. backendURL may be empty and set later with Arm; until
// then only allow-listed origins stay in-app.
func New(backendURL string, allow []string, opener Opener, logger *zap.Logger) (*Guard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{opener: opener, logger: logger, exact: make(map[string]bool)}
	for _, entry := range allow {
		if err := g.addAllowed(entry); err != nil {
			return nil, err
		}
	}
	if backendURL != "" {
		if err := g.Arm(backendURL); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Guard) addAllowed(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if strings.ContainsAny(entry, "*?[{") {
		pattern := strings.ToLower(strings.TrimRight(entry, "/"))
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid allow pattern %q", entry)
		}
		g.patterns = append(g.patterns, pattern)
		return nil
	}
	origin, err := Origin(entry)
	if err != nil {
		return fmt.Errorf("allow entry %q: %w", entry, err)
	}
	g.exact[origin] = true
	return nil
}

// Arm records the backend origin.
func (g *Guard) Arm(backendURL string) error {
	origin, err := Origin(backendURL)
	if err != nil {
		return fmt.Errorf("backend url: %w", err)
	}
	g.mu.Lock()
	g.backend = origin
	g.mu.Unlock()
	g.logger.Debug("navigation guard armed", zap.String("origin", origin))
	return nil
}

// BackendOrigin returns the armed origin, or "" before Arm.
func (g *Guard) BackendOrigin() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.backend
}

// Allowed reports whether raw may load inside the window.
func (g *Guard) Allowed(raw string) bool {
	origin, err := Origin(raw)
	if err != nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.backend != "" && origin == g.backend {
		return true
	}
	if g.exact[origin] {
		return true
	}
	for _, pattern := range g.patterns {
		if ok, _ := doublestar.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

// WindowOpen decides a request for a new top-level window.
func (g *Guard) WindowOpen(ctx context.Context, raw string) Decision {
	return g.decide(ctx, "window-open", raw)
}

// WillNavigate decides a navigation of the main window.
func (g *Guard) WillNavigate(ctx context.Context, raw string) Decision {
	return g.decide(ctx, "navigate", raw)
}

func (g *Guard) decide(ctx context.Context, kind, raw string) Decision {
	if g.Allowed(raw) {
		return Decision{Action: Allow, URL: raw}
	}
	u, err := url.Parse(raw)
	if err != nil || !externalSchemes[strings.ToLower(u.Scheme)] {
		g.logger.Info("navigation dropped", zap.String("kind", kind), zap.String("url", raw))
		return Decision{Action: Deny, URL: raw, Reason: "unsupported scheme"}
	}
	d := Decision{Action: External, URL: raw, Reason: "foreign origin"}
	if g.opener == nil {
		return d
	}
	if err := g.opener.Open(ctx, raw); err != nil {
		g.logger.Warn("open external url", zap.String("kind", kind), zap.String("url", raw), zap.Error(err))
		d.Reason = err.Error()
		return d
	}
	g.logger.Info("navigation handed to system browser", zap.String("kind", kind), zap.String("url", raw))
	return d
}

// Origin normalises raw to scheme://host:port with the scheme's default port
// made explicit.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("no origin for scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New("missing host")
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if scheme == "https" {
			port = "443"
		}
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}
