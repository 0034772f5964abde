package realtime

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// EventsPath is appended to the API base to form the event stream endpoint.
const EventsPath = "/ws/events"

// Config holds the configuration for a realtime client.
type Config struct {
	// APIURL is the base URL of the HTTP API, absolute ("https://host/api")
	// or relative to Origin ("/api").
	// Fallback: HOLYHOME_API_URL environment variable.
	APIURL string

	// Origin is the scheme and host the application is served from. It is
	// only needed when APIURL is relative.
	// Fallback: HOLYHOME_ORIGIN environment variable.
	Origin string

	// HandshakeTimeout bounds each WebSocket dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

// resolveConfig fills empty fields from environment variables and validates required fields.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = os.Getenv("HOLYHOME_API_URL")
	}
	if cfg.Origin == "" {
		cfg.Origin = os.Getenv("HOLYHOME_ORIGIN")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	if cfg.APIURL == "" && cfg.Origin == "" {
		return cfg, fmt.Errorf("APIURL is required (set in Config or HOLYHOME_API_URL env)")
	}
	if _, err := EventsURL(cfg.APIURL, cfg.Origin); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EventsURL derives the event stream endpoint from the API base. An absolute
// base keeps its host and path and switches to the matching WebSocket scheme;
// a relative base takes scheme and host from origin.
func EventsURL(apiURL, origin string) (string, error) {
	base, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse API URL: %w", err)
	}
	if base.Opaque != "" {
		return "", fmt.Errorf("API URL %q has no scheme, use http://%s or a path", apiURL, apiURL)
	}

	if base.Scheme != "" && base.Host != "" {
		scheme, err := wsScheme(base.Scheme)
		if err != nil {
			return "", err
		}
		u := url.URL{Scheme: scheme, Host: base.Host, Path: joinEventsPath(base.Path)}
		return u.String(), nil
	}

	if origin == "" {
		return "", fmt.Errorf("relative API URL %q needs an Origin", apiURL)
	}
	page, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if page.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	scheme, err := wsScheme(page.Scheme)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: scheme, Host: page.Host, Path: joinEventsPath(base.Path)}
	return u.String(), nil
}

func wsScheme(scheme string) (string, error) {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return "wss", nil
	case "http", "ws":
		return "ws", nil
	}
	return "", fmt.Errorf("unsupported URL scheme %q", scheme)
}

func joinEventsPath(basePath string) string {
	p := strings.TrimRight(basePath, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p + EventsPath
}
