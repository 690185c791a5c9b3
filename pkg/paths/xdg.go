// Package paths provides XDG-compliant path resolution for foresight.
//
// Resolution order:
// 1. FORESIGHT_HOME (portable root) → $FORESIGHT_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/foresight
// 3. Platform defaults → ~/.config/foresight, ~/.local/state/foresight
package paths

import (
	"os"
	"path/filepath"
)

const appDir = "foresight"

func getConfigHome() string {
	if home := os.Getenv("FORESIGHT_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

func getStateHome() string {
	if home := os.Getenv("FORESIGHT_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the directory holding the global foresight.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appDir)
}

// StateDir returns the directory for the pid file and logs.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appDir)
}

// LogDir returns the directory the daemon writes its log files to.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// RuntimeDir returns the directory for the status socket.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("FORESIGHT_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	return StateDir()
}

// SocketPath returns the path to the daemon's status socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "foresight.sock")
}

// PidFilePath returns the path to the daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "foresight.pid")
}

// EnsureDirs creates all foresight directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), LogDir(), RuntimeDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
