package config

import "github.com/caarlos0/env/v11"

// ServerConfig is the signaling server configuration, read from the
// environment.
type ServerConfig struct {
	// Addr is the listen address for HTTP and websocket traffic.
	Addr string `env:"ADDR" envDefault:":8080"`

	// ShutdownTimeout bounds graceful shutdown in seconds.
	ShutdownTimeout int `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
}

// LoadServer parses the server configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
