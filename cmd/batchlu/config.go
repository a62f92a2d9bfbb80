package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the batchlu configuration file (~/.config/batchlu/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Device
	Backend          string `yaml:"backend"`
	BatchedThreshold *int64 `yaml:"batched_threshold"`
	ScratchLimit     *int64 `yaml:"scratch_limit"`
	MemoryLimit      *int64 `yaml:"memory_limit"`
	Streams          *int64 `yaml:"streams"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// applyDeviceConfig applies config file defaults to the device and logging
// flags when the corresponding CLI flag was not explicitly set.
// BATCHLU_BACKEND counts as setting --backend.
func applyDeviceConfig(c *cli.Command, cfg Config) {
	// An exported but empty BATCHLU_BACKEND marks the flag set without
	// naming a backend.
	if cfg.Backend != "" && (!c.IsSet("backend") || strings.TrimSpace(backendName) == "") {
		backendName = cfg.Backend
	}
	if cfg.BatchedThreshold != nil && !c.IsSet("batched-threshold") {
		batchedThreshold = *cfg.BatchedThreshold
	}
	if cfg.ScratchLimit != nil && !c.IsSet("scratch-limit") {
		scratchLimit = *cfg.ScratchLimit
	}
	if cfg.MemoryLimit != nil && !c.IsSet("memory-limit") {
		memoryLimit = *cfg.MemoryLimit
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyStreamsConfig applies the streams default for run and serve.
func applyStreamsConfig(c *cli.Command, cfg Config, streams *int64) {
	if cfg.Streams != nil && !c.IsSet("streams") {
		*streams = *cfg.Streams
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. A missing file yields a zero Config;
// a file that exists but does not parse is an error.
func LoadConfig() (Config, error) {
	return loadConfigFile(configPath())
}

func loadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// loadCommandConfig loads the config file and merges it into the flags of c.
func loadCommandConfig(c *cli.Command) (Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Config{}, cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
	}
	applyDeviceConfig(c, cfg)
	return cfg, nil
}
