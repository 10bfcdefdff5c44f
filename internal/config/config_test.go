package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server != DefaultServer {
		t.Errorf("Server = %q, want %q", cfg.Server, DefaultServer)
	}
	if cfg.WebSocketURL != "ws://"+DefaultServer+"/ws" {
		t.Errorf("WebSocketURL = %q", cfg.WebSocketURL)
	}
	if got := cfg.GetSTUNServers(); len(got) != 1 || got[0] != DefaultSTUN {
		t.Errorf("GetSTUNServers = %v", got)
	}
	if cfg.GetTURNServers() != nil {
		t.Errorf("GetTURNServers = %v, want nil without TURN configured", cfg.GetTURNServers())
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("VEDIOCALL_SERVER", "env.example.com:9000")
	t.Setenv("STUN_SERVER", "stun:env.example.com:3478")

	cfg, err := Load(Options{Server: "flag.example.com:8443", Secure: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server != "flag.example.com:8443" {
		t.Errorf("Server = %q, flag should win over env", cfg.Server)
	}
	if cfg.WebSocketURL != "wss://flag.example.com:8443/ws" {
		t.Errorf("WebSocketURL = %q", cfg.WebSocketURL)
	}
	if cfg.STUNServer != "stun:env.example.com:3478" {
		t.Errorf("STUNServer = %q, env should win over default", cfg.STUNServer)
	}
	if cfg.InfoURL() != "https://flag.example.com:8443/api/server-info" {
		t.Errorf("InfoURL = %q", cfg.InfoURL())
	}
}

func TestForceRelayRequiresTURN(t *testing.T) {
	if _, err := Load(Options{ForceRelay: true}); err == nil {
		t.Fatal("Load should fail when forcing relay without a TURN server")
	}

	cfg, err := Load(Options{ForceRelay: true, TURNServer: "turn:relay.example.com"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetTURNServers(); len(got) != 3 {
		t.Errorf("GetTURNServers = %v, want udp/tcp/turns variants", got)
	}
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.ShutdownTimeout != 10 {
		t.Errorf("ShutdownTimeout = %d, want 10", cfg.ShutdownTimeout)
	}
}
