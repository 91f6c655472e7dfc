package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "TOOLHOST_CONFIG"
	// EnvToolsPath points at the scanner tool tree
	EnvToolsPath = "APPSEC_TOOLS_PATH"
	// ConfigFileName is the default config file name
	ConfigFileName = "toolhost.yaml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "toolhost"
	// ContainerToolsPath is where container images install the tool tree
	ContainerToolsPath = "/app/application_security_tools"
)

// FindConfigPath searches for config file in priority order:
// 1. $TOOLHOST_CONFIG (explicit path)
// 2. ./toolhost.yaml (working directory)
// 3. $XDG_CONFIG_HOME/toolhost/config.yaml
// 4. ~/.config/toolhost/config.yaml
// 5. /etc/toolhost/config.yaml
//
// Returns empty string if no config file found
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if fileExists(path) {
			return path
		}
	}

	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}

	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		path := filepath.Join(xdgHome, ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		path := filepath.Join(home, ".config", ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	systemPath := filepath.Join("/etc", ConfigDirName, "config.yaml")
	if fileExists(systemPath) {
		return systemPath
	}
	return ""
}

// DefaultConfigPath returns the preferred location for a new config file
func DefaultConfigPath() string {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, ConfigDirName, "config.yaml")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", ConfigDirName, "config.yaml")
	}
	return ConfigFileName
}

// EnsureConfigDir creates the directory containing path.
func EnsureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// ErrToolsPathNotFound is returned when no scanner tool tree exists.
var ErrToolsPathNotFound = errors.New("could not resolve application security tools path")

// ResolveToolsPath locates the scanner tool tree. The first existing
// directory wins: configured, then $APPSEC_TOOLS_PATH, then the container
// install location, then each probe in order.
func ResolveToolsPath(configured string, probes ...string) (string, error) {
	candidates := []string{configured, os.Getenv(EnvToolsPath), ContainerToolsPath}
	candidates = append(candidates, probes...)
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return dir, nil
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w (set %s)", ErrToolsPathNotFound, EnvToolsPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
