package sshgw

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"

	"github.com/openmission/openmission/pkg/engine"
)

// SampleInfo describes one archived sample file on the gateway.
type SampleInfo struct {
	// Name is the file name within the gateway's sample directory.
	Name string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the file's last modification time.
	ModTime time.Time
}

// ListSamples lists the sample files the gateway has archived for an
// instrument, newest first by name ordering left to the caller.
func (c *Client) ListSamples(ctx context.Context, instrumentID string) ([]SampleInfo, error) {
	sftpClient, err := c.newSFTPClient(instrumentID)
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	if err := ctx.Err(); err != nil {
		return nil, engine.NewTransientError("sample listing cancelled", err).
			WithCode(engine.ErrCodeCancelled).WithInstrument(instrumentID)
	}

	dir := path.Join(c.cfg.SampleDir, instrumentID)
	entries, err := sftpClient.ReadDir(dir)
	if err != nil {
		return nil, engine.NewTransientError(
			fmt.Sprintf("failed to list samples in %s", dir), err).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}

	samples := make([]SampleInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		samples = append(samples, SampleInfo{
			Name:    entry.Name(),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
		})
	}
	return samples, nil
}

// FetchSample downloads one archived sample file into localDir and
// returns the local path.
func (c *Client) FetchSample(ctx context.Context, instrumentID, name, localDir string) (string, error) {
	sftpClient, err := c.newSFTPClient(instrumentID)
	if err != nil {
		return "", err
	}
	defer sftpClient.Close()

	if err := ctx.Err(); err != nil {
		return "", engine.NewTransientError("sample fetch cancelled", err).
			WithCode(engine.ErrCodeCancelled).WithInstrument(instrumentID)
	}

	remotePath := path.Join(c.cfg.SampleDir, instrumentID, name)
	remote, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", engine.NewTransientError(
			fmt.Sprintf("failed to open remote sample %s", remotePath), err).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}
	defer remote.Close()

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create local sample dir: %w", err)
	}

	localPath := filepath.Join(localDir, name)
	local, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local sample file: %w", err)
	}
	defer local.Close()

	written, err := io.Copy(local, remote)
	if err != nil {
		_ = os.Remove(localPath)
		return "", engine.NewTransientError(
			fmt.Sprintf("sample transfer failed after %d bytes", written), err).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}

	if c.logger != nil {
		c.logger.WithInstrumentID(instrumentID).
			WithField("file", name).WithField("bytes", written).
			Info("sample retrieved")
	}
	return localPath, nil
}

// FetchAllSamples downloads every archived sample for an instrument
// into localDir, returning the local paths.
func (c *Client) FetchAllSamples(ctx context.Context, instrumentID, localDir string) ([]string, error) {
	samples, err := c.ListSamples(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(samples))
	for _, sample := range samples {
		if err := ctx.Err(); err != nil {
			return paths, engine.NewTransientError("sample fetch cancelled", err).
				WithCode(engine.ErrCodeCancelled).WithInstrument(instrumentID)
		}
		localPath, err := c.FetchSample(ctx, instrumentID, sample.Name, localDir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, localPath)
	}
	return paths, nil
}

func (c *Client) newSFTPClient(instrumentID string) (*sftp.Client, error) {
	c.mu.RLock()
	client := c.client
	connected := c.connected
	c.mu.RUnlock()

	if !connected || client == nil {
		return nil, engine.NewTransientError("gateway not connected", nil).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, engine.NewTransientError("failed to open SFTP channel", err).
			WithCode(engine.ErrCodeGateway).WithInstrument(instrumentID)
	}
	return sftpClient, nil
}
