package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sage3/foresight/internal/daemon/engine"
	"github.com/sage3/foresight/internal/daemon/server"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/registry"
)

// RemoteClient implements Client by calling the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
	baseURL    string
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &RemoteClient{
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		socketPath: socketPath,
		baseURL:    baseURL,
	}, nil
}

func (c *RemoteClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Status returns the daemon's self report.
func (c *RemoteClient) Status(ctx context.Context) (*engine.Status, error) {
	var s engine.Status
	if err := c.get(ctx, "/api/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Apps lists live SmartBits.
func (c *RemoteClient) Apps(ctx context.Context, withState bool) ([]registry.AppInfo, error) {
	path := "/api/apps"
	if withState {
		path += "?state=true"
	}
	var apps []registry.AppInfo
	if err := c.get(ctx, path, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// Boards lists boards, optionally for one room.
func (c *RemoteClient) Boards(ctx context.Context, roomID string) ([]registry.BoardInfo, error) {
	path := "/api/boards"
	if roomID != "" {
		path += "?room=" + url.QueryEscape(roomID)
	}
	var boards []registry.BoardInfo
	if err := c.get(ctx, path, &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// Pending lists outstanding executions.
func (c *RemoteClient) Pending(ctx context.Context) ([]kernel.PendingExecution, error) {
	var pending []kernel.PendingExecution
	if err := c.get(ctx, "/api/pending", &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Config returns the daemon's running configuration.
func (c *RemoteClient) Config(ctx context.Context) (*server.RunningConfig, error) {
	var cfg server.RunningConfig
	if err := c.get(ctx, "/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StreamChanges subscribes to registry changes via Server-Sent Events (SSE).
func (c *RemoteClient) StreamChanges(ctx context.Context) (<-chan registry.Change, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	// Streaming must not inherit the request timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	ch := make(chan registry.Change, 10)

	go func() {
		defer resp.Body.Close()
		defer close(ch)

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var change registry.Change
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &change); err != nil {
				continue // Skip malformed data
			}
			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
