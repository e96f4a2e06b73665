package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "MATRIXSHIM"
	envConfigDefaultPath = "MATRIXSHIM_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so env overrides apply even when the
// config file omits them.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("public_base_url", cfg.PublicBaseURL)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("access_token_ttl", cfg.AccessTokenTTL)
	v.SetDefault("require_access_token", cfg.RequireAccessToken)
	v.SetDefault("send_rate_limit", cfg.SendRateLimit)
	v.SetDefault("upload_size_limit", cfg.UploadSizeLimit)

	v.SetDefault("room.id", cfg.Room.ID)
	v.SetDefault("room.name", cfg.Room.Name)
	v.SetDefault("room.creator", cfg.Room.Creator)
	v.SetDefault("room.version", cfg.Room.Version)

	v.SetDefault("sync.default_timeout", cfg.Sync.DefaultTimeout)
	v.SetDefault("sync.max_timeout", cfg.Sync.MaxTimeout)

	v.SetDefault("oauth.provider", cfg.OAuth.Provider)
	v.SetDefault("oauth.client_id", cfg.OAuth.ClientID)
	v.SetDefault("oauth.auth_url", cfg.OAuth.AuthURL)
	v.SetDefault("oauth.token_url", cfg.OAuth.TokenURL)
	v.SetDefault("oauth.scopes", cfg.OAuth.Scopes)
	v.SetDefault("oauth.idp_id", cfg.OAuth.IDPID)
	v.SetDefault("oauth.idp_name", cfg.OAuth.IDPName)
	v.SetDefault("oauth.idp_brand", cfg.OAuth.IDPBrand)

	v.SetDefault("directory.plc_url", cfg.Directory.PLCURL)
	v.SetDefault("directory.cache_size", cfg.Directory.CacheSize)
	v.SetDefault("directory.timeout", cfg.Directory.Timeout)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
