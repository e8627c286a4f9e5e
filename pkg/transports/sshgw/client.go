package sshgw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/openmission/openmission/pkg/engine"
	"github.com/openmission/openmission/pkg/telemetry"
)

// Client is an SSH connection to the instrument gateway. It implements
// engine.InstrumentClient: each Send runs one gateway CLI invocation
// on the remote host and blocks until the gateway acknowledges.
type Client struct {
	cfg    *Config
	logger *telemetry.Logger

	mu          sync.RWMutex
	client      *ssh.Client
	connected   bool
	connectedAt time.Time
}

// NewClient creates a gateway client. A nil logger disables transport
// logging. The client does not connect until Connect is called.
func NewClient(cfg *Config, logger *telemetry.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if logger != nil {
		logger = logger.NewComponentLogger("sshgw")
	}
	return &Client{cfg: cfg, logger: logger}, nil
}

// Connect establishes the SSH connection to the gateway. A live
// connection is reused; a dead one is replaced.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.client != nil {
		if err := c.healthCheckLocked(); err == nil {
			return nil
		}
		if c.logger != nil {
			c.logger.Warn("gateway connection is dead, reconnecting")
		}
		_ = c.client.Close()
	}

	clientConfig, err := c.cfg.BuildClientConfig()
	if err != nil {
		return engine.NewPermanentError("gateway authentication setup failed", err).
			WithCode(engine.ErrCodeGateway)
	}

	address := c.cfg.Address()
	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return engine.NewTransientError("gateway connect cancelled", ctx.Err()).
			WithCode(engine.ErrCodeCancelled)
	case err := <-errChan:
		return engine.NewTransientError(fmt.Sprintf("failed to connect to gateway %s", address), err).
			WithCode(engine.ErrCodeGateway)
	case client := <-connChan:
		c.client = client
		c.connected = true
		c.connectedAt = time.Now()

		if c.cfg.KeepAliveInterval > 0 {
			go c.keepAlive()
		}
		if c.logger != nil {
			c.logger.WithField("address", address).Info("gateway connection established")
		}
		return nil
	}
}

// Close closes the gateway connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}

// IsConnected reports whether the client has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(_ context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.client == nil {
		return engine.NewTransientError("gateway not connected", nil).
			WithCode(engine.ErrCodeGateway)
	}
	return c.healthCheckLocked()
}

func (c *Client) healthCheckLocked() error {
	session, err := c.client.NewSession()
	if err != nil {
		return engine.NewTransientError("gateway health check failed", err).
			WithCode(engine.ErrCodeGateway)
	}
	defer session.Close()

	if err := session.Run(c.cfg.GatewayCommand + " ping"); err != nil {
		return engine.NewTransientError("gateway did not answer ping", err).
			WithCode(engine.ErrCodeGateway)
	}
	return nil
}

// Send implements engine.InstrumentClient. It runs one gateway
// invocation for verb(args) against the instrument and returns a
// classified error on failure: a non-zero gateway exit is a permanent
// rejection, everything else is transient.
func (c *Client) Send(ctx context.Context, instrumentID, verb string, args []string) error {
	c.mu.RLock()
	client := c.client
	connected := c.connected
	c.mu.RUnlock()

	if !connected || client == nil {
		return engine.NewTransientError("gateway not connected", nil).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}

	session, err := client.NewSession()
	if err != nil {
		return engine.NewTransientError("failed to open gateway session", err).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}
	defer session.Close()

	var stderrBuf bytes.Buffer
	session.Stderr = &stderrBuf

	cmd := BuildCommand(c.cfg.GatewayCommand, instrumentID, verb, args)
	if c.logger != nil {
		c.logger.WithInstrumentID(instrumentID).WithField("command", cmd).
			Debug("sending gateway command")
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		return engine.NewTransientError("gateway command cancelled", ctx.Err()).
			WithCode(engine.ErrCodeCancelled).WithInstrument(instrumentID)
	case runErr = <-done:
	}

	if runErr != nil {
		stderr := strings.TrimSpace(stderrBuf.String())
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return engine.NewPermanentError(
				fmt.Sprintf("gateway rejected %s for %s (exit %d): %s",
					verb, instrumentID, exitErr.ExitStatus(), stderr), runErr).
				WithCode(engine.ErrCodeRejected).WithInstrument(instrumentID)
		}
		return engine.NewTransientError(
			fmt.Sprintf("gateway command failed for %s: %s", instrumentID, stderr), runErr).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}
	return nil
}

// BuildCommand assembles the remote gateway invocation for one
// instrument command. All operands are single-quoted so instrument
// arguments survive the remote shell.
func BuildCommand(gatewayCommand, instrumentID, verb string, args []string) string {
	parts := []string{gatewayCommand, "send", shellQuote(instrumentID), shellQuote(verb)}
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes a string for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// keepAlive sends periodic keep-alive requests until the connection
// drops or fails too many times in a row.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for range ticker.C {
		c.mu.RLock()
		client := c.client
		connected := c.connected
		c.mu.RUnlock()
		if !connected || client == nil {
			return
		}

		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			retries++
			if c.logger != nil {
				c.logger.WithError(err).WithField("retries", retries).
					Warn("gateway keep-alive failed")
			}
			if retries >= c.cfg.MaxKeepAliveRetries {
				if c.logger != nil {
					c.logger.Error("gateway keep-alive failed too many times, connection may be dead")
				}
				return
			}
		} else {
			retries = 0
		}
	}
}
