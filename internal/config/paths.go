package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".conductor"

// DataDir returns the base data directory for conductor.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// EnsureDataDir creates the data directory tree if it does not exist yet.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// CoreConfigPath returns the path to the conductor config file.
func CoreConfigPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "config.toml"), nil
}

// DatabasePath returns the path to the bbolt database file.
func DatabasePath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "conductor.db"), nil
}

// RuntimeHomeDir returns the home directory handed to the runtime process.
// The synthesized runtime config lives here.
func RuntimeHomeDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "runtime"), nil
}

// RuntimeConfigPath returns the path of the synthesized runtime config
// artifact inside the runtime home.
func RuntimeConfigPath() (string, error) {
	runtimeDir, err := RuntimeHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(runtimeDir, "config.toml"), nil
}

// CredentialsPath returns the path to the shared credentials env file.
func CredentialsPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "credentials.env"), nil
}

// UserEnvPath returns the path to a single user's env file.
func UserEnvPath(userID string) (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "users", userID+".env"), nil
}

// WorktreesDir returns the directory where managed git worktrees are created.
func WorktreesDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "worktrees"), nil
}
