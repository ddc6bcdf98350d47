package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "moonletter"
	// DefaultTargetLabel is the classifier label that counts as a moon.
	DefaultTargetLabel = "Moon"
	// DefaultThreshold is the minimum confidence for a verified capture.
	DefaultThreshold = 0.75
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// SessionConfig contains persistent local session settings. It is injected
// explicitly at login rather than held in process-wide state, with Save on
// change and teardown when the viewer logs out.
type SessionConfig struct {
	DeviceID    string  `json:"device_id"`
	ViewerName  string  `json:"viewer_name"`
	RelayURL    string  `json:"relay_url"`
	CameraURL   string  `json:"camera_url"`
	ModelRef    string  `json:"model_ref"`
	MetadataRef string  `json:"metadata_ref"`
	TargetLabel string  `json:"target_label"`
	Threshold   float64 `json:"threshold"`
	Location    string  `json:"location"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If MOONLETTER_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("MOONLETTER_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// CapturesDir returns the directory verified capture images are written to.
func CapturesDir(dataDir string) string {
	return filepath.Join(dataDir, "captures")
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		CapturesDir(dataDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*SessionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg SessionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *SessionConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*SessionConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *SessionConfig {
	viewerName := ""
	if host, err := os.Hostname(); err == nil && host != "" {
		viewerName = host
	}

	return &SessionConfig{
		DeviceID:    uuid.NewString(),
		ViewerName:  viewerName,
		TargetLabel: DefaultTargetLabel,
		Threshold:   DefaultThreshold,
	}
}

func normalizeDefaults(cfg *SessionConfig) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.ViewerName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.ViewerName = host
			updated = true
		}
	}

	if cfg.TargetLabel == "" {
		cfg.TargetLabel = DefaultTargetLabel
		updated = true
	}

	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
		updated = true
	}

	return updated
}
