// Package config reads tool configuration from a YAML file or
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/tokforge/retok/resources"
)

// Config stores all configuration of the exporter tools. The values are
// read by viper from a config file or environment variables.
type Config struct {
	Hub    HubConfig    `mapstructure:"hub"`
	Store  StoreConfig  `mapstructure:"store"`
	Export ExportConfig `mapstructure:"export"`
	Debug  bool         `mapstructure:"debug"`
}

// HubConfig stores remote hub connection details. Endpoint and Token left
// empty fall back to HF_ENDPOINT and HF_TOKEN, then the public hub.
type HubConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

// StoreConfig stores local artifact store settings.
type StoreConfig struct {
	Dir      string `mapstructure:"dir"`
	Disabled bool   `mapstructure:"disabled"`
}

// ExportConfig stores re-export defaults.
type ExportConfig struct {
	Mode     string `mapstructure:"mode"`
	Parallel int    `mapstructure:"parallel"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		if confDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(confDir, "retok"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("hub.endpoint", "")
	viper.SetDefault("hub.token", "")
	viper.SetDefault("hub.timeoutSeconds", 0)
	viper.SetDefault("store.dir", resources.DefaultStoreRoot())
	viper.SetDefault("store.disabled", false)
	viper.SetDefault("export.mode", "canonical")
	viper.SetDefault("export.parallel", 4)
	viper.SetDefault("debug", false)

	viper.SetEnvPrefix("retok")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config file")
		}
		// No file found; defaults and environment cover everything.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	return &AppConfig, nil
}

// ClientOption maps the hub section onto resolver client options.
func (c *Config) ClientOption() *resources.ClientOption {
	return resources.ClientOptions().
		WithEndpoint(c.Hub.Endpoint).
		WithAuthToken(c.Hub.Token).
		WithTimeout(time.Duration(c.Hub.TimeoutSeconds) * time.Second).
		If(c.Debug, func(o *resources.ClientOption) *resources.ClientOption {
			return o.WithDebug()
		})
}
