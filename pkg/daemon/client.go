// Package daemon provides a client for the foresight daemon's status API.
// The daemon owns all live state, so there is no local fallback: commands
// that need it fail with a clear "not running" error instead.
package daemon

import (
	"context"

	"github.com/sage3/foresight/internal/daemon/engine"
	"github.com/sage3/foresight/internal/daemon/server"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/registry"
)

// Client defines the interface for interacting with a running daemon.
type Client interface {
	// Status returns the daemon's self report.
	Status(ctx context.Context) (*engine.Status, error)

	// Apps lists live SmartBits, with their state when withState is set.
	Apps(ctx context.Context, withState bool) ([]registry.AppInfo, error)

	// Boards lists boards, narrowed to roomID when it is not empty.
	Boards(ctx context.Context, roomID string) ([]registry.BoardInfo, error)

	// Pending lists outstanding kernel executions.
	Pending(ctx context.Context) ([]kernel.PendingExecution, error)

	// Config returns the configuration the daemon is running with.
	Config(ctx context.Context) (*server.RunningConfig, error)

	// StreamChanges subscribes to registry changes. The channel is closed
	// when ctx is cancelled or the connection is lost.
	StreamChanges(ctx context.Context) (<-chan registry.Change, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}
