package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// EnvConfigDir overrides the config directory.
const EnvConfigDir = "PIER2PIER_CONFIG_DIR"

// Paths holds all platform-specific file paths for pier2pier
type Paths struct {
	ConfigDir  string // ~/.config/pier2pier or equivalent
	DataDir    string // ~/.config/pier2pier/data, one <user>.db per identity
	ConfigFile string // ~/.config/pier2pier/config.toml
}

// GetPaths returns platform-specific paths for pier2pier
func GetPaths() (*Paths, error) {
	var configDir string

	// Allow override via environment variable (useful for testing multiple instances)
	if envConfigDir := os.Getenv(EnvConfigDir); envConfigDir != "" {
		configDir = envConfigDir
	} else {
		switch runtime.GOOS {
		case "linux", "darwin":
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, errors.Wrap(err, "get home directory")
			}
			configDir = filepath.Join(home, ".config", "pier2pier")

		case "windows":
			appData := os.Getenv("APPDATA")
			if appData == "" {
				return nil, errors.New("APPDATA environment variable not set")
			}
			configDir = filepath.Join(appData, "pier2pier")

		default:
			return nil, errors.Errorf("unsupported platform: %s", runtime.GOOS)
		}
	}

	return PathsIn(configDir), nil
}

// PathsIn returns the paths rooted at configDir.
func PathsIn(configDir string) *Paths {
	return &Paths{
		ConfigDir:  configDir,
		DataDir:    filepath.Join(configDir, "data"),
		ConfigFile: filepath.Join(configDir, "config.toml"),
	}
}

// StoreDir returns the directory holding message stores, honoring the
// storage.data_dir setting.
func (p *Paths) StoreDir(cfg *Config) string {
	if cfg != nil && cfg.Storage.DataDir != "" {
		return cfg.Storage.DataDir
	}
	return p.DataDir
}

// EnsureDirectories creates all required directories with appropriate permissions
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	return nil
}
