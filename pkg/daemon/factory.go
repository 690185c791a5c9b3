package daemon

import (
	"net"
	"os"
	"time"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/paths"
)

// ErrCodeNotRunning marks commands that need a daemon when none answers.
const ErrCodeNotRunning errors.ErrorCode = "DAEMON_NOT_RUNNING"

// Connect returns a client for the daemon listening on socketPath, or on
// the default socket when socketPath is empty.
func Connect(socketPath string) (Client, error) {
	if socketPath == "" {
		socketPath = paths.SocketPath()
	}
	if _, err := os.Stat(socketPath); err != nil {
		return nil, notRunning(socketPath, err)
	}
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return nil, notRunning(socketPath, err)
	}
	conn.Close()
	return NewRemoteClient(socketPath)
}

func notRunning(socketPath string, err error) *errors.Error {
	return errors.Wrap(err, ErrCodeNotRunning, "foresight daemon is not running; start it with 'foresight run'").
		WithDetail("socket", socketPath)
}
