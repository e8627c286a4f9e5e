package sshgw

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication.
	AuthMethodKey AuthMethod = "key"
)

// Config holds gateway connection configuration.
type Config struct {
	// Host is the gateway hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// AuthMethod specifies which authentication method to use.
	AuthMethod AuthMethod

	// Password for password-based authentication.
	Password string

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string

	// PrivateKeyPassphrase is the passphrase for encrypted private keys.
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file. If empty,
	// host key verification is disabled (not recommended for
	// production).
	KnownHostsPath string

	// StrictHostKeyChecking enables strict host key verification.
	StrictHostKeyChecking bool

	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration

	// CommandTimeout is the default timeout for a gateway invocation.
	CommandTimeout time.Duration

	// KeepAliveInterval is the interval for sending keep-alive
	// messages. Zero disables keep-alive.
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries is the number of keep-alive failures
	// tolerated before the connection is considered dead.
	MaxKeepAliveRetries int

	// GatewayCommand is the remote command that relays instrument
	// traffic.
	GatewayCommand string

	// SampleDir is the remote directory where the gateway archives
	// retrieved sample files.
	SampleDir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectTimeout:        30 * time.Second,
		CommandTimeout:        2 * time.Minute,
		KeepAliveInterval:     0,
		MaxKeepAliveRetries:   3,
		GatewayCommand:        "mission-gateway",
		SampleDir:             "/var/lib/mission-gateway/samples",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			defaultKeys := []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			}
			for _, keyPath := range defaultKeys {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	if c.GatewayCommand == "" {
		return fmt.Errorf("gateway command is required")
	}
	return nil
}

// BuildClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many SSH servers only offer keyboard-interactive for the
		// common "Password:" prompt.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		// Insecure: accept any host key (only for testing/development).
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
