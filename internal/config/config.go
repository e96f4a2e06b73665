package config

import (
	"net/url"
	"strings"
	"time"
)

// CallbackPath is where the authorization server redirects after login.
const CallbackPath = "/_matrix/custom/oauth/callback"

// Config holds server configuration values.
type Config struct {
	Addr               string          `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout  time.Duration   `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel           string          `mapstructure:"log_level" yaml:"log_level"`
	PublicBaseURL      string          `mapstructure:"public_base_url" yaml:"public_base_url"`
	DatabasePath       string          `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret          string          `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer          string          `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	AccessTokenTTL     time.Duration   `mapstructure:"access_token_ttl" yaml:"access_token_ttl"`
	RequireAccessToken bool            `mapstructure:"require_access_token" yaml:"require_access_token"`
	SendRateLimit      int             `mapstructure:"send_rate_limit" yaml:"send_rate_limit"`
	UploadSizeLimit    int64           `mapstructure:"upload_size_limit" yaml:"upload_size_limit"`
	Room               RoomConfig      `mapstructure:"room" yaml:"room"`
	Sync               SyncConfig      `mapstructure:"sync" yaml:"sync"`
	OAuth              OAuthConfig     `mapstructure:"oauth" yaml:"oauth"`
	Directory          DirectoryConfig `mapstructure:"directory" yaml:"directory"`
}

// RoomConfig describes the single room the shim serves.
type RoomConfig struct {
	ID      string `mapstructure:"id" yaml:"id"`
	Name    string `mapstructure:"name" yaml:"name"`
	Creator string `mapstructure:"creator" yaml:"creator"`
	Version string `mapstructure:"version" yaml:"version"`
}

// SyncConfig bounds long-polling.
type SyncConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
}

// OAuthConfig configures the authorization server used for SSO.
type OAuthConfig struct {
	Provider string   `mapstructure:"provider" yaml:"provider"`
	ClientID string   `mapstructure:"client_id" yaml:"client_id"`
	AuthURL  string   `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL string   `mapstructure:"token_url" yaml:"token_url"`
	Scopes   []string `mapstructure:"scopes" yaml:"scopes"`
	IDPID    string   `mapstructure:"idp_id" yaml:"idp_id"`
	IDPName  string   `mapstructure:"idp_name" yaml:"idp_name"`
	IDPBrand string   `mapstructure:"idp_brand" yaml:"idp_brand"`
}

// DirectoryConfig configures DID to handle resolution.
type DirectoryConfig struct {
	PLCURL    string        `mapstructure:"plc_url" yaml:"plc_url"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		PublicBaseURL:     "http://127.0.0.1:8080",
		DatabasePath:      "matrix-shim.db",
		JWTIssuer:         "matrix-shim",
		AccessTokenTTL:    24 * time.Hour,
		UploadSizeLimit:   10 * 1024 * 1024,
		Room: RoomConfig{
			ID:      "!OEOSqbsIkqLoDShXXD:matrix.org",
			Name:    "test-matrix-room",
			Creator: "did:plc:ulg2bzgrgs7ddjjlmhtegk3v",
			Version: "10",
		},
		Sync: SyncConfig{
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     5 * time.Minute,
		},
		OAuth: OAuthConfig{
			Provider: "https://bsky.social",
			Scopes:   []string{"atproto", "transition:generic"},
			IDPID:    "oauth-atproto",
			IDPName:  "BlueSky",
			IDPBrand: "bluesky",
		},
		Directory: DirectoryConfig{
			PLCURL:    "https://plc.directory",
			CacheSize: 256,
			Timeout:   10 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command-line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.PublicBaseURL != "" {
		c.PublicBaseURL = other.PublicBaseURL
	}
}

// RedirectURL is the OAuth redirect URI registered for this shim.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + CallbackPath
}

// ClientID returns the configured OAuth client id, or the loopback client id
// AT Protocol servers accept for local development.
func (c *Config) ClientID() string {
	if c.OAuth.ClientID != "" {
		return c.OAuth.ClientID
	}
	q := url.Values{}
	q.Set("redirect_uri", c.RedirectURL())
	if len(c.OAuth.Scopes) > 0 {
		q.Set("scope", strings.Join(c.OAuth.Scopes, " "))
	}
	return "http://localhost?" + q.Encode()
}
