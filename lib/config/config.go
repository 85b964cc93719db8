// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/boardhost/lib/netutil"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "BOARDHOST_CONFIG"

// Storage backends.
const (
	StorageMemory = "memory"
	StorageDir    = "dir"
	StorageSQLite = "sqlite"
)

// Config is the root of the configuration file.
type Config struct {
	Homeserver HomeserverConfig `yaml:"homeserver" json:"homeserver"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	OIDC       OIDCConfig       `yaml:"oidc" json:"oidc"`
	Client     ClientConfig     `yaml:"client" json:"client"`
	Bridge     BridgeConfig     `yaml:"bridge" json:"bridge"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// HomeserverConfig is the statically configured homeserver.
type HomeserverConfig struct {
	// URL is optional. Without it, the host always shows a login prompt
	// when no stored session exists.
	URL string `yaml:"url" json:"url"`

	// AutoStartLogin begins a login redirect immediately instead of
	// showing a prompt. Requires URL.
	AutoStartLogin bool `yaml:"auto_start_login" json:"auto_start_login"`
}

// StorageConfig selects the credential storage backend.
type StorageConfig struct {
	// Backend is "memory", "dir", or "sqlite".
	Backend string `yaml:"backend" json:"backend"`

	// Path is the directory (dir) or database file (sqlite).
	Path string `yaml:"path" json:"path"`

	// Sealed encrypts every stored value with the age identity at
	// IdentityPath, creating the identity on first use.
	Sealed       bool   `yaml:"sealed" json:"sealed"`
	IdentityPath string `yaml:"identity_path" json:"identity_path"`
}

// OIDCConfig describes this application to authorization servers
// during dynamic client registration.
type OIDCConfig struct {
	ClientName string `yaml:"client_name" json:"client_name"`
	ClientURI  string `yaml:"client_uri" json:"client_uri"`

	// RedirectURL receives the authorization response. The same URL is
	// used for the legacy SSO redirect.
	RedirectURL string `yaml:"redirect_url" json:"redirect_url"`
}

// ClientConfig tunes the live protocol client.
type ClientConfig struct {
	SyncTimeout Duration `yaml:"sync_timeout" json:"sync_timeout"`

	// TURNRefreshFloor is the shortest interval between TURN
	// credential polls regardless of the advertised TTL.
	TURNRefreshFloor Duration `yaml:"turn_refresh_floor" json:"turn_refresh_floor"`
}

// BridgeConfig tunes the event bridge.
type BridgeConfig struct {
	// EchoTimeout bounds the wait for a write's own echo. Zero waits
	// until the caller's context ends.
	EchoTimeout Duration `yaml:"echo_timeout" json:"echo_timeout"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" json:"level"`
	// Format is text or json.
	Format string `yaml:"format" json:"format"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the values a file is merged onto.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:      StorageDir,
			Path:         "${HOME}/.local/state/boardhost",
			IdentityPath: "${BOARDHOST_STATE}/identity.age",
		},
		OIDC: OIDCConfig{
			ClientName:  "Boardhost",
			RedirectURL: "http://localhost:8765/",
		},
		Client: ClientConfig{
			SyncTimeout:      Duration(30 * time.Second),
			TURNRefreshFloor: Duration(5 * time.Minute),
		},
		Bridge: BridgeConfig{
			EchoTimeout: Duration(60 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file named by BOARDHOST_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; set it to the path of your boardhost config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadDefault returns Default() with variables expanded, for running
// without a config file.
func LoadDefault() (*Config, error) {
	config := Default()
	config.expandVariables()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return config, nil
}

// LoadFile reads path onto Default(), expands variables, and validates
// the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), config)
	default:
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	config.expandVariables()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expand(value string, known map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		if resolved := known[parts[1]]; resolved != "" {
			return resolved
		}
		if resolved := os.Getenv(parts[1]); resolved != "" {
			return resolved
		}
		return parts[2]
	})
}

func (c *Config) expandVariables() {
	known := map[string]string{"HOME": os.Getenv("HOME")}
	c.Storage.Path = expand(c.Storage.Path, known)
	known["BOARDHOST_STATE"] = c.Storage.Path
	c.Storage.IdentityPath = expand(c.Storage.IdentityPath, known)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.URL != "" {
		if _, err := netutil.ParseHTTPURL(c.Homeserver.URL); err != nil {
			errs = append(errs, fmt.Errorf("homeserver.url: %w", err))
		}
	}
	if c.Homeserver.AutoStartLogin && c.Homeserver.URL == "" {
		errs = append(errs, errors.New("homeserver.auto_start_login requires homeserver.url"))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageDir, StorageSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Sealed && c.Storage.IdentityPath == "" {
		errs = append(errs, errors.New("storage.identity_path is required when storage.sealed is set"))
	}

	if _, err := netutil.ParseHTTPURL(c.OIDC.RedirectURL); err != nil {
		errs = append(errs, fmt.Errorf("oidc.redirect_url: %w", err))
	}

	if c.Client.SyncTimeout < 0 {
		errs = append(errs, errors.New("client.sync_timeout must not be negative"))
	}
	if c.Client.TURNRefreshFloor <= 0 {
		errs = append(errs, errors.New("client.turn_refresh_floor must be positive"))
	}
	if c.Bridge.EchoTimeout < 0 {
		errs = append(errs, errors.New("bridge.echo_timeout must not be negative"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
