package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds user defaults shared by the CLI, the TUI and the server.
// Flags and SURVEYOR_* environment variables take precedence over it.
type Config struct {
	// Dir is the default store directory.
	Dir string `yaml:"dir,omitempty"`
	// Server is the base URL of a `surveyor serve` instance. When set, the
	// CLI edits through it instead of opening the store directly.
	Server string `yaml:"server,omitempty"`
	// Broadcast selects the cross-tab channel: memory, ws(s)/http(s) or redis.
	Broadcast string `yaml:"broadcast,omitempty"`
	// Listen is the default `serve` address.
	Listen string `yaml:"listen,omitempty"`
	// JWTSecret enables bearer-token auth on the server and signs tokens
	// issued by `surveyor token issue`.
	JWTSecret string `yaml:"jwtSecret,omitempty"`
	// Token is the bearer token the CLI sends to Server.
	Token    string `yaml:"token,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`
	Format   string `yaml:"format,omitempty"`
}

func ConfigDir() (string, error) {
	// Test/advanced override (keeps unit tests from touching ~/.surveyor).
	if v := strings.TrimSpace(os.Getenv("SURVEYOR_CONFIG_DIR")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadConfig returns an empty config when the file does not exist.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func atomicWriteFile(dir, tmpPattern, path string, b []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = os.Chmod(tmp, perm)
	return os.Rename(tmp, path)
}

// SaveConfig writes the config atomically; the file holds the JWT secret so
// it is only readable by the owner.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicWriteFile(dir, "config.yaml.*.tmp", path, b, 0o600)
}
