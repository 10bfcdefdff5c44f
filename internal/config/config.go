package config

import (
	"fmt"
	"os"
)

// Default configuration values.
const (
	DefaultServer = "localhost:8080"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
	DefaultTURN   = "" // no TURN relay unless configured
)

// Config holds client configuration.
type Config struct {
	// Server is the signaling server host:port.
	Server string

	// WebSocketURL is constructed from Server.
	WebSocketURL string

	// Secure selects wss/https schemes.
	Secure bool

	// ICE servers for WebRTC.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN relay candidates.
	ForceRelay bool
}

// Options carries CLI flag overrides into Load.
type Options struct {
	Server     string
	Secure     bool
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := opts.Server
	if server == "" {
		server = os.Getenv("VEDIOCALL_SERVER")
	}
	if server == "" {
		server = DefaultServer
	}

	stunServer := opts.STUNServer
	if stunServer == "" {
		stunServer = os.Getenv("STUN_SERVER")
	}
	if stunServer == "" {
		stunServer = DefaultSTUN
	}

	turnServer := opts.TURNServer
	if turnServer == "" {
		turnServer = os.Getenv("TURN_SERVER")
	}
	if turnServer == "" {
		turnServer = DefaultTURN
	}

	turnUser := opts.TURNUser
	if turnUser == "" {
		turnUser = os.Getenv("TURN_USERNAME")
	}

	turnPass := opts.TURNPass
	if turnPass == "" {
		turnPass = os.Getenv("TURN_PASSWORD")
	}

	wsScheme := "ws"
	if opts.Secure {
		wsScheme = "wss"
	}

	cfg := &Config{
		Server:       server,
		WebSocketURL: fmt.Sprintf("%s://%s/ws", wsScheme, server),
		Secure:       opts.Secure,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
		ForceRelay:   opts.ForceRelay,
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// InfoURL returns the server-info endpoint URL.
func (c *Config) InfoURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/server-info", scheme, c.Server)
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
