package realtime

import (
	"testing"
	"time"
)

func TestResolveConfig_ExplicitValues(t *testing.T) {
	cfg := Config{
		APIURL:           "https://holyhome.app/api",
		HandshakeTimeout: 3 * time.Second,
	}
	resolved, err := resolveConfig(cfg)
	if err != nil {
		t.Fatalf("resolveConfig() error: %v", err)
	}
	if resolved.APIURL != "https://holyhome.app/api" {
		t.Errorf("APIURL = %q, want explicit value", resolved.APIURL)
	}
	if resolved.HandshakeTimeout != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 3s", resolved.HandshakeTimeout)
	}
}

func TestResolveConfig_EnvFallback(t *testing.T) {
	t.Setenv("HOLYHOME_API_URL", "/api")
	t.Setenv("HOLYHOME_ORIGIN", "https://env-host")

	resolved, err := resolveConfig(Config{})
	if err != nil {
		t.Fatalf("resolveConfig() error: %v", err)
	}
	if resolved.APIURL != "/api" {
		t.Errorf("APIURL = %q, want env value", resolved.APIURL)
	}
	if resolved.Origin != "https://env-host" {
		t.Errorf("Origin = %q, want env value", resolved.Origin)
	}
	if resolved.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want default 10s", resolved.HandshakeTimeout)
	}
}

func TestResolveConfig_ExplicitOverridesEnv(t *testing.T) {
	t.Setenv("HOLYHOME_API_URL", "http://env-host/api")

	resolved, err := resolveConfig(Config{APIURL: "http://explicit/api"})
	if err != nil {
		t.Fatalf("resolveConfig() error: %v", err)
	}
	if resolved.APIURL != "http://explicit/api" {
		t.Errorf("APIURL = %q, want explicit value over env", resolved.APIURL)
	}
}

func TestResolveConfig_MissingAPIURL(t *testing.T) {
	t.Setenv("HOLYHOME_API_URL", "")
	t.Setenv("HOLYHOME_ORIGIN", "")
	if _, err := resolveConfig(Config{}); err == nil {
		t.Fatal("resolveConfig() should error when APIURL is missing")
	}
}

func TestResolveConfig_RelativeWithoutOrigin(t *testing.T) {
	t.Setenv("HOLYHOME_ORIGIN", "")
	if _, err := resolveConfig(Config{APIURL: "/api"}); err == nil {
		t.Fatal("resolveConfig() should error for a relative APIURL without Origin")
	}
}

func TestEventsURL(t *testing.T) {
	tests := []struct {
		apiURL string
		origin string
		want   string
	}{
		{"https://holyhome.app/api", "", "wss://holyhome.app/api/ws/events"},
		{"http://localhost:3000", "", "ws://localhost:3000/ws/events"},
		{"http://localhost:3000/api/", "", "ws://localhost:3000/api/ws/events"},
		{"wss://holyhome.app/api", "", "wss://holyhome.app/api/ws/events"},
		{"/api", "https://holyhome.app", "wss://holyhome.app/api/ws/events"},
		{"/api", "http://localhost:5173", "ws://localhost:5173/api/ws/events"},
		{"", "https://holyhome.app", "wss://holyhome.app/ws/events"},
		{"api", "http://localhost:5173/", "ws://localhost:5173/api/ws/events"},
	}
	for _, tt := range tests {
		got, err := EventsURL(tt.apiURL, tt.origin)
		if err != nil {
			t.Errorf("EventsURL(%q, %q) error: %v", tt.apiURL, tt.origin, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EventsURL(%q, %q) = %q, want %q", tt.apiURL, tt.origin, got, tt.want)
		}
	}
}

func TestEventsURL_Errors(t *testing.T) {
	tests := []struct {
		apiURL string
		origin string
	}{
		{"ftp://example.com/api", ""},
		{"/api", ""},
		{"/api", "file:///tmp"},
		{"/api", "gopher://host"},
		{"localhost:3000/api", ""},
		{"localhost:3000/api", "http://localhost:3000"},
	}
	for _, tt := range tests {
		if _, err := EventsURL(tt.apiURL, tt.origin); err == nil {
			t.Errorf("EventsURL(%q, %q) should error", tt.apiURL, tt.origin)
		}
	}
}
