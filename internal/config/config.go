// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
	"time"
)

// maxEndpointSlots is the number of VIDEO_ROUND_ROBIN_SERVER_<n> variables
// that are consulted, independent of MAX_NODES.
const maxEndpointSlots = 8

// defaultAdminAccounts is the static allowlist of operator usernames.
var defaultAdminAccounts = []string{
	"clipmux-admin",
}

// Settings carries the full process configuration. It is read once at
// startup; there is no file layer and no reload.
type Settings struct {
	// ProductName is reported by the status endpoint and used in greetings.
	ProductName string
	// MaintenanceMode refuses new websocket sessions when set.
	MaintenanceMode bool
	// MaxNodes caps how many configured endpoints are actually used.
	MaxNodes int
	// HFToken authenticates calls to the inference endpoints and the LLM API.
	HFToken string
	// SecretToken guards the detailed metrics endpoint.
	SecretToken string
	// TextModel optionally pins the text generation model.
	TextModel string
	// EndpointURLs are the usable video inference endpoints, in slot order.
	EndpointURLs []string
	// AdminAccounts lists usernames that resolve to the admin role.
	AdminAccounts []string

	// ListenAddr is the HTTP bind address.
	ListenAddr string
	// StaticDir is the root of the embedded web client; empty disables it.
	StaticDir string
	// TrustedProxies are CIDRs allowed to assert X-Forwarded-For.
	TrustedProxies []string
	// LogLevel overrides the zerolog level ("debug", "info", ...).
	LogLevel string
	// ShutdownTimeout bounds the graceful drain on SIGTERM.
	ShutdownTimeout time.Duration
}

// FromEnv assembles Settings from the process environment.
func FromEnv() Settings {
	maxNodes := ParseInt("MAX_NODES", 8)

	return Settings{
		ProductName:     ParseString("PRODUCT_NAME", "ClipMux"),
		MaintenanceMode: ParseBool("MAINTENANCE_MODE", false),
		MaxNodes:        maxNodes,
		HFToken:         ParseString("HF_TOKEN", ""),
		SecretToken:     ParseString("SECRET_TOKEN", ""),
		TextModel:       ParseString("TEXT_MODEL", ""),
		EndpointURLs:    endpointURLsFromEnv(maxNodes),
		AdminAccounts:   defaultAdminAccounts,

		ListenAddr:      ParseString("LISTEN_ADDR", ":8080"),
		StaticDir:       ParseString("STATIC_DIR", ""),
		TrustedProxies:  splitCSV(ParseString("TRUSTED_PROXIES", "")),
		LogLevel:        ParseString("LOG_LEVEL", ""),
		ShutdownTimeout: ParseDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// endpointURLsFromEnv reads the numbered endpoint slots, drops empty ones and
// keeps at most maxNodes survivors.
func endpointURLsFromEnv(maxNodes int) []string {
	urls := make([]string, 0, maxEndpointSlots)
	for i := 1; i <= maxEndpointSlots; i++ {
		key := fmt.Sprintf("VIDEO_ROUND_ROBIN_SERVER_%d", i)
		if url := ParseString(key, ""); url != "" {
			urls = append(urls, url)
		}
	}
	if maxNodes >= 0 && len(urls) > maxNodes {
		urls = urls[:maxNodes]
	}
	return urls
}

// Validate checks settings that cannot be repaired by falling back to a
// default. It is called once at startup.
func (s Settings) Validate() error {
	if s.MaxNodes <= 0 {
		return fmt.Errorf("MAX_NODES must be positive, got %d", s.MaxNodes)
	}
	if err := validateCIDRList("TRUSTED_PROXIES", s.TrustedProxies); err != nil {
		return err
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
