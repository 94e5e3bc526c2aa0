// Package config manages the server configuration stored in config.yaml.
package config

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/maruel/secdb/internal/snapshot"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "config.yaml"

// KeyLength is the length of the API key.
const KeyLength = 8

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultUsername and DefaultPassword are the initial admin credentials.
const (
	DefaultUsername = "admin"
	DefaultPassword = "admin"
)

// Config is the server configuration.
type Config struct {
	Server     Server     `yaml:"server" json:"server"`
	Auth       Auth       `yaml:"auth" json:"auth"`
	Storage    Storage    `yaml:"storage" json:"storage"`
	RateLimits RateLimits `yaml:"rate_limits" json:"rate_limits"`
	History    History    `yaml:"history" json:"history"`
	Log        Log        `yaml:"log" json:"log"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr           string        `yaml:"addr" json:"addr" jsonschema:"description=Address to listen on; the -http flag overrides it"`
	MaxConnections int           `yaml:"max_connections" json:"max_connections" jsonschema:"description=Maximum concurrent connections; 0 means unlimited"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" jsonschema:"description=Maximum duration to read a request"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" jsonschema:"description=Maximum duration to write a response"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout" jsonschema:"description=Maximum idle time of a connection"`
}

// Auth holds the credentials of both surfaces.
type Auth struct {
	Username string `yaml:"username" json:"username" jsonschema:"description=Administrator user name"`
	// PasswordHash is the bcrypt hash of the administrator password.
	PasswordHash string `yaml:"password_hash" json:"password_hash" jsonschema:"description=bcrypt hash of the administrator password"`
	// Password may be set by hand; it is hashed into PasswordHash and removed
	// on next load.
	Password       string        `yaml:"password,omitempty" json:"password,omitempty" jsonschema:"description=Plaintext password; replaced by password_hash on load"`
	APIKey         string        `yaml:"api_key" json:"api_key" jsonschema:"description=8 character shared secret of the API; regenerated when malformed"`
	SessionTimeout time.Duration `yaml:"session_timeout" json:"session_timeout" jsonschema:"description=Inactivity after which a session expires"`
	TokenTTL       time.Duration `yaml:"token_ttl" json:"token_ttl" jsonschema:"description=Lifetime of API bearer tokens"`
}

// Storage configures where and how databases are persisted.
type Storage struct {
	DatabasesDir string `yaml:"databases_dir" json:"databases_dir" jsonschema:"description=Databases directory; relative to the data directory"`
	Codec        string `yaml:"codec" json:"codec" jsonschema:"enum=none,enum=snappy,enum=zstd,enum=gzip,description=Compression of new snapshots"`
	AtomicWrites bool   `yaml:"atomic_writes" json:"atomic_writes" jsonschema:"description=Write snapshots to a temporary file then rename"`
}

// RateLimits defines rate limiting per client IP (requests per minute).
// 0 means unlimited.
type RateLimits struct {
	WritePerMin int `yaml:"write_per_min" json:"write_per_min"`
	ReadPerMin  int `yaml:"read_per_min" json:"read_per_min"`
	AuthPerMin  int `yaml:"auth_per_min" json:"auth_per_min" jsonschema:"description=Failed authentication attempts"`
}

// History configures the git history of the databases directory.
type History struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	AuthorName  string `yaml:"author_name" json:"author_name"`
	AuthorEmail string `yaml:"author_email" json:"author_email"`
}

// Log configures logging.
type Log struct {
	Level     string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	AuditFile string `yaml:"audit_file" json:"audit_file" jsonschema:"description=Audit log; relative to the data directory"`
	SeqURL    string `yaml:"seq_url,omitempty" json:"seq_url,omitempty" jsonschema:"description=Seq server receiving the logs; empty disables it"`
}

// Default returns the default configuration, without credentials.
func Default() Config {
	return Config{
		Server: Server{
			Addr:           "localhost:8080",
			MaxConnections: 256,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    time.Minute,
		},
		Auth: Auth{
			Username:       DefaultUsername,
			SessionTimeout: 5 * time.Minute,
			TokenTTL:       time.Hour,
		},
		Storage: Storage{
			DatabasesDir: "databases",
			Codec:        snapshot.CodecNone.String(),
			AtomicWrites: true,
		},
		RateLimits: RateLimits{
			WritePerMin: 600,
			ReadPerMin:  6000,
			AuthPerMin:  10,
		},
		History: History{
			AuthorName:  "secdb",
			AuthorEmail: "secdb@localhost",
		},
		Log: Log{
			Level:     "info",
			AuditFile: "server.log",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must be non-negative")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return errors.New("server timeouts must be non-negative")
	}
	if c.Auth.Username == "" {
		return errors.New("auth.username is required")
	}
	if c.Auth.PasswordHash == "" {
		return errors.New("auth.password_hash is required")
	}
	if len(c.Auth.APIKey) != KeyLength {
		return fmt.Errorf("auth.api_key must be %d characters", KeyLength)
	}
	if c.Auth.SessionTimeout <= 0 {
		return errors.New("auth.session_timeout must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Storage.DatabasesDir == "" {
		return errors.New("storage.databases_dir is required")
	}
	if _, err := snapshot.ParseCodec(c.Storage.Codec); err != nil {
		return fmt.Errorf("storage.codec: %w", err)
	}
	if c.RateLimits.WritePerMin < 0 || c.RateLimits.ReadPerMin < 0 || c.RateLimits.AuthPerMin < 0 {
		return errors.New("rate_limits must be non-negative")
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Codec returns the parsed storage codec.
func (c *Config) Codec() snapshot.Codec {
	codec, _ := snapshot.ParseCodec(c.Storage.Codec)
	return codec
}

// DatabasesPath returns the databases directory resolved against dataDir.
func (c *Config) DatabasesPath(dataDir string) string {
	return resolve(dataDir, c.Storage.DatabasesDir)
}

// AuditPath returns the audit log resolved against dataDir, or "" when
// disabled.
func (c *Config) AuditPath(dataDir string) string {
	if c.Log.AuditFile == "" {
		return ""
	}
	return resolve(dataDir, c.Log.AuditFile)
}

func resolve(dataDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

// SetPassword replaces the administrator password.
func (c *Config) SetPassword(password string) error {
	if password == "" {
		return errors.New("password is empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	c.Auth.PasswordHash = string(h)
	c.Auth.Password = ""
	return nil
}

// CheckPassword reports whether username and password match the
// administrator credentials.
func (c *Config) CheckPassword(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Auth.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(c.Auth.PasswordHash), []byte(password)) == nil
	return userOK && passOK
}

// CheckAPIKey reports whether key is the API key.
func (c *Config) CheckAPIKey(key string) bool {
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(c.Auth.APIKey)) == 1
}

// GenerateKey returns a random API key of KeyLength characters in [A-Z0-9].
func GenerateKey() (string, error) {
	out := make([]byte, 0, KeyLength)
	var buf [16]byte
	for len(out) < KeyLength {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		for _, b := range buf {
			// Reject values that would bias the modulo.
			if int(b) >= 256-256%len(keyAlphabet) {
				continue
			}
			out = append(out, keyAlphabet[int(b)%len(keyAlphabet)])
			if len(out) == KeyLength {
				break
			}
		}
	}
	return string(out), nil
}

// Load loads dataDir/config.yaml.
//
// The file is created with defaults if missing. A plaintext password is
// hashed, a missing password hash is set to the default password and an API
// key that is not KeyLength characters long is regenerated; the file is
// rewritten in these cases.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	modified := false
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		modified = true
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	if cfg.Auth.Password != "" {
		if err := cfg.SetPassword(cfg.Auth.Password); err != nil {
			return nil, err
		}
		modified = true
	} else if cfg.Auth.PasswordHash == "" {
		if err := cfg.SetPassword(DefaultPassword); err != nil {
			return nil, err
		}
		modified = true
	}
	if len(cfg.Auth.APIKey) != KeyLength {
		if cfg.Auth.APIKey, err = GenerateKey(); err != nil {
			return nil, err
		}
		modified = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	if modified {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Save atomically writes the configuration to dataDir/config.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "secdb configuration"
	return json.MarshalIndent(s, "", "  ")
}
