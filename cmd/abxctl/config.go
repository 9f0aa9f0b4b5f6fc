package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/abxctl/internal/client"
	"github.com/danmuck/abxctl/internal/output"
)

type fileConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Deadline        string `toml:"deadline"`
	DeadlineMS      int64  `toml:"deadline_ms"`
	MaxAttempts     int    `toml:"max_attempts"`
	RetryBaseDelay  string `toml:"retry_base_delay"`
	Output          string `toml:"output"`
	MetricsTextfile string `toml:"metrics_textfile"`
	LogFile         string `toml:"log_file"`
}

// runConfig is the resolved process configuration.
type runConfig struct {
	Client          client.Config
	Output          string
	MetricsTextfile string
	LogFile         string
}

func defaultRunConfig() runConfig {
	return runConfig{
		Client: client.DefaultConfig(),
		Output: output.DefaultPath,
	}
}

// loadRunConfig applies the keys defined in path over the defaults.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load abx config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("load abx config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		if host := strings.TrimSpace(raw.Host); host != "" {
			cfg.Client.Host = host
		}
	}
	if meta.IsDefined("port") {
		cfg.Client.Port = raw.Port
	}
	if meta.IsDefined("deadline") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Deadline))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse deadline: %w", err)
		}
		cfg.Client.Session.Deadline = d
	}
	if meta.IsDefined("deadline_ms") {
		cfg.Client.Session.Deadline = time.Duration(raw.DeadlineMS) * time.Millisecond
	}
	if meta.IsDefined("max_attempts") {
		cfg.Client.Session.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("retry_base_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryBaseDelay))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse retry_base_delay: %w", err)
		}
		cfg.Client.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("metrics_textfile") {
		cfg.MetricsTextfile = strings.TrimSpace(raw.MetricsTextfile)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	return cfg, nil
}
