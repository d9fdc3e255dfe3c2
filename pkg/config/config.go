// Package config loads the gateway daemon's configuration from a yaml file
// with NODEGATE_-prefixed environment overrides. A missing file is not an
// error; every field has a usable default so a bare binary runs as a
// single-pod gateway with no shared store.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the gateway daemon configuration.
type Config struct {
	Gateway struct {
		// PodID identifies this gateway process in the shared store. Empty
		// lets the sync layer derive one from the hostname.
		PodID string `mapstructure:"pod_id"`

		// ListenAddr is the HTTP/websocket listen address, host:port.
		ListenAddr string `mapstructure:"listen_addr"`

		LogLevel string `mapstructure:"log_level"`

		// SessionURLBase prefixes the session URL sent to tunnel peers.
		SessionURLBase string `mapstructure:"session_url_base"`
	} `mapstructure:"gateway"`

	HTTP struct {
		// SecretKey signs operator JWTs.
		SecretKey string `mapstructure:"secret_key"`

		// AdminToken, when set, marks logins presenting it as admin.
		AdminToken string `mapstructure:"admin_token"`
	} `mapstructure:"http"`

	Store struct {
		// URL of the shared key-value store (redis://...). Empty disables
		// cross-pod sync; the gateway runs single-pod.
		URL string `mapstructure:"url"`

		KeyPrefix string `mapstructure:"key_prefix"`

		NodeTTL time.Duration `mapstructure:"node_ttl"`
	} `mapstructure:"store"`

	Invoke struct {
		DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	} `mapstructure:"invoke"`
}

// Load reads the configuration from path. An empty path or a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NODEGATE")
	v.AutomaticEnv()

	v.SetDefault("gateway.listen_addr", ":8080")
	v.SetDefault("gateway.log_level", "info")
	v.SetDefault("gateway.session_url_base", "https://gateway.local/nodes")
	v.SetDefault("http.secret_key", "nodegate-dev-secret-change-in-production")
	v.SetDefault("store.key_prefix", "gateway:")
	v.SetDefault("store.node_ttl", 120*time.Second)
	v.SetDefault("invoke.default_timeout", 30*time.Second)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &c, nil
}
