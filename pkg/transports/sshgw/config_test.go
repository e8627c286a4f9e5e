package sshgw

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// writeTestKey generates a throwaway ed25519 key and writes it to a
// temp file.
func writeTestKey(t *testing.T) string {
	t.Helper()
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("marshalling test key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		t.Fatalf("writing test key: %v", err)
	}
	return path
}

func validTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig("gateway.example.org", "mission")
	cfg.PrivateKeyPath = writeTestKey(t)
	cfg.StrictHostKeyChecking = false
	cfg.KnownHostsPath = ""
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "host"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port"},
		{"missing user", func(c *Config) { c.User = "" }, "user"},
		{"password auth without password", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
			c.Password = ""
		}, "password"},
		{"missing key file", func(c *Config) {
			c.PrivateKeyPath = "/nonexistent/id_rsa"
		}, "not found"},
		{"unknown auth method", func(c *Config) {
			c.AuthMethod = "telepathy"
		}, "unsupported auth method"},
		{"zero connect timeout", func(c *Config) {
			c.ConnectTimeout = 0
		}, "connect timeout"},
		{"zero command timeout", func(c *Config) {
			c.CommandTimeout = 0
		}, "command timeout"},
		{"missing gateway command", func(c *Config) {
			c.GatewayCommand = ""
		}, "gateway command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("gw01", "ops")
	if cfg.Port != 22 {
		t.Errorf("port = %d, want 22", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("auth method = %s, want key", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("strict host key checking should default on")
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("connect timeout = %s", cfg.ConnectTimeout)
	}
	if cfg.GatewayCommand != "mission-gateway" {
		t.Errorf("gateway command = %s", cfg.GatewayCommand)
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{Host: "10.0.4.12", Port: 2222}
	if got := cfg.Address(); got != "10.0.4.12:2222" {
		t.Errorf("Address() = %s", got)
	}
}

func TestBuildClientConfigKeyAuth(t *testing.T) {
	cfg := validTestConfig(t)
	clientConfig, err := cfg.BuildClientConfig()
	if err != nil {
		t.Fatalf("BuildClientConfig: %v", err)
	}
	if clientConfig.User != "mission" {
		t.Errorf("user = %s", clientConfig.User)
	}
	if len(clientConfig.Auth) != 1 {
		t.Errorf("auth methods = %d, want 1", len(clientConfig.Auth))
	}
	if clientConfig.Timeout != cfg.ConnectTimeout {
		t.Errorf("timeout = %s", clientConfig.Timeout)
	}
}

func TestBuildClientConfigPasswordAuth(t *testing.T) {
	cfg := validTestConfig(t)
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "hunter2"

	clientConfig, err := cfg.BuildClientConfig()
	if err != nil {
		t.Fatalf("BuildClientConfig: %v", err)
	}
	// Password plus keyboard-interactive fallback.
	if len(clientConfig.Auth) != 2 {
		t.Errorf("auth methods = %d, want 2", len(clientConfig.Auth))
	}
}

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name         string
		instrumentID string
		verb         string
		args         []string
		want         string
	}{
		{
			"no args",
			"SBE37_SIM_02", "ACQUIRE_SAMPLE", nil,
			"mission-gateway send 'SBE37_SIM_02' 'ACQUIRE_SAMPLE'",
		},
		{
			"with args",
			"CTDBP_01", "SET_INTERVAL", []string{"60", "seconds"},
			"mission-gateway send 'CTDBP_01' 'SET_INTERVAL' '60' 'seconds'",
		},
		{
			"quote in argument",
			"PCO2W_01", "ANNOTATE", []string{"operator's note"},
			`mission-gateway send 'PCO2W_01' 'ANNOTATE' 'operator'\''s note'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildCommand("mission-gateway", tt.instrumentID, tt.verb, tt.args)
			if got != tt.want {
				t.Errorf("BuildCommand() = %s, want %s", got, tt.want)
			}
		})
	}
}
