// Package config loads runtime configuration from a .env file and
// environment variables. Environment variables take precedence.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
)

// DefaultRelayURL is used when SCREENLINK_SIGNAL_URL is unset.
const DefaultRelayURL = "wss://relay.screenlink.dev/ws"

// Config holds the application configuration.
type Config struct {
	RelayURL string
	STUNURLs []string
	TURNURL  string
	TURNUser string
	TURNPass string
	// OutPath, when set, is where the viewer writes the received stream
	// as IVF.
	OutPath  string
	LogLevel string
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		RelayURL: getenv("SCREENLINK_SIGNAL_URL", DefaultRelayURL),
		TURNURL:  os.Getenv("SCREENLINK_TURN"),
		TURNUser: os.Getenv("SCREENLINK_TURN_USER"),
		TURNPass: os.Getenv("SCREENLINK_TURN_PASS"),
		OutPath:  os.Getenv("SCREENLINK_OUT"),
		LogLevel: getenv("SCREENLINK_LOG_LEVEL", "info"),
	}

	stun := getenv("SCREENLINK_STUN", "stun:stun.l.google.com:19302")
	for _, u := range strings.Split(stun, ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.STUNURLs = append(cfg.STUNURLs, u)
		}
	}

	return cfg, nil
}

// ICEServers assembles the Pion ICE server list from the configured STUN
// and optional TURN entries.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: c.STUNURLs}}
	if c.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNURL},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
