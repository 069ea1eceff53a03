// Package paths centralizes the on-disk layout under ~/.whatsapp-mcp.
package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.whatsapp-mcp.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".whatsapp-mcp")
}

// BridgeDir returns the default bridge working directory.
func BridgeDir() string {
	return filepath.Join(BaseDir(), "bridge")
}

// StoreDir returns the bridge's database directory.
func StoreDir() string {
	return filepath.Join(BridgeDir(), "store")
}

// MessagesDBPath returns the message history database path.
func MessagesDBPath() string {
	return filepath.Join(StoreDir(), "messages.db")
}

// SessionDBPath returns the whatsmeow session database path.
func SessionDBPath() string {
	return filepath.Join(StoreDir(), "whatsapp.db")
}

// LockPath returns the instance lock file path.
func LockPath() string {
	return filepath.Join(BaseDir(), "LOCK")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "wamcpd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the directory tree with proper permissions.
func EnsureDirs() error {
	dirs := []string{
		BaseDir(),
		StoreDir(),
		LogDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
