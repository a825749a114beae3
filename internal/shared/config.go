package shared

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Playback PlaybackConfig `toml:"playback"`
	Backends BackendsConfig `toml:"backends"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the remote-control HTTP server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PlaybackConfig tunes the player core.
type PlaybackConfig struct {
	DefaultBackend     string  `toml:"default_backend"`
	ProgressIntervalMS int     `toml:"progress_interval_ms"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"`
	BulkSongLimit      int     `toml:"bulk_song_limit"`
	RateLimit          float64 `toml:"rate_limit"`
	LogFile            string  `toml:"log_file"`
}

// ProgressInterval is the now-playing push cadence, 1s when unset.
func (p PlaybackConfig) ProgressInterval() time.Duration {
	if p.ProgressIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(p.ProgressIntervalMS) * time.Millisecond
}

// HTTPTimeout bounds every backend request, 30s when unset.
func (p PlaybackConfig) HTTPTimeout() time.Duration {
	if p.HTTPTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.HTTPTimeoutSeconds) * time.Second
}

// BackendsConfig holds one section per music source.
type BackendsConfig struct {
	Catalog      CatalogConfig      `toml:"catalog"`
	AudioStation AudioStationConfig `toml:"audiostation"`
	Subsonic     SubsonicConfig     `toml:"subsonic"`
	Local        LocalConfig        `toml:"local"`
}

// CatalogConfig contains OAuth2 client credentials for the catalog service.
type CatalogConfig struct {
	BaseURL      string `toml:"base_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	RefreshToken string `toml:"refresh_token"`
}

// AudioStationConfig contains the home server address and account.
type AudioStationConfig struct {
	BaseURL  string `toml:"base_url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// SubsonicConfig contains a Subsonic-compatible server address and account.
type SubsonicConfig struct {
	BaseURL    string `toml:"base_url"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	ClientName string `toml:"client_name"`
	APIVersion string `toml:"api_version"`
}

// LocalConfig points at a music directory.
type LocalConfig struct {
	Root string `toml:"root"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrMissingConfig, err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// BackendCredentials flattens the section for backend into the key/value form adapters accept.
//
// Empty values are omitted so stored settings can fill them in.
func (c *Config) BackendCredentials(backend string) (map[string]string, error) {
	var pairs map[string]string
	b := c.Backends
	switch backend {
	case "catalog":
		pairs = map[string]string{
			"base_url":      b.Catalog.BaseURL,
			"client_id":     b.Catalog.ClientID,
			"client_secret": b.Catalog.ClientSecret,
			"redirect_uri":  b.Catalog.RedirectURI,
			"refresh_token": b.Catalog.RefreshToken,
		}
	case "audiostation":
		pairs = map[string]string{
			"base_url": b.AudioStation.BaseURL,
			"username": b.AudioStation.Username,
			"password": b.AudioStation.Password,
		}
	case "subsonic":
		pairs = map[string]string{
			"base_url":    b.Subsonic.BaseURL,
			"username":    b.Subsonic.Username,
			"password":    b.Subsonic.Password,
			"client_name": b.Subsonic.ClientName,
			"api_version": b.Subsonic.APIVersion,
		}
	case "local":
		pairs = map[string]string{"root": ExpandHome(b.Local.Root)}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	out := make(map[string]string, len(pairs))
	for k, v := range pairs {
		if v != "" {
			out[k] = v
		}
	}
	return out, nil
}

// Validate checks the sections every command depends on.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Playback.BulkSongLimit < 0 {
		return fmt.Errorf("%w: playback.bulk_song_limit must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ValidateBaseURL parses raw as an absolute http(s) URL without a trailing slash.
func ValidateBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "", fmt.Errorf("%w: base_url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: malformed base_url %q", ErrInvalidConfig, raw)
	}
	return raw, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
