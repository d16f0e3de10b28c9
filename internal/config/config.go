// Package config loads the engine parameters an embedder needs before
// constructing a raid or agent engine. It is not a CLI: Load is meant to be
// called once by whatever process wires the engine together.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds everything needed to construct an engine.
type Config struct {
	DataDevices   int    `mapstructure:"data_devices"`
	ParityDevices int    `mapstructure:"parity_devices"`
	ChunkSize     int    `mapstructure:"chunk_size"`
	Root          string `mapstructure:"root"`
	LogLevel      string `mapstructure:"log_level"`
}

// N is the total device count D+C.
func (c Config) N() int { return c.DataDevices + c.ParityDevices }

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_devices", 4)
	v.SetDefault("parity_devices", 2)
	v.SetDefault("chunk_size", 4096)
	v.SetDefault("root", ".")
	v.SetDefault("log_level", "info")
}

// Load reads (D, C, X, Root, LogLevel) from an optional YAML file and from
// RAID_-prefixed environment variables, validating the bounds the engines
// require before any device directory is touched.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RAID")
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.DataDevices <= 0 {
		return errors.New("config: data_devices must be positive")
	}
	if cfg.ParityDevices < 0 {
		return errors.New("config: parity_devices must not be negative")
	}
	if cfg.DataDevices+cfg.ParityDevices > 256 {
		return errors.New("config: data_devices+parity_devices must not exceed 256")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if cfg.Root == "" {
		return errors.New("config: root must not be empty")
	}
	return nil
}
