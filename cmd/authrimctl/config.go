package main

import (
	"fmt"

	"github.com/ghodss/yaml"
)

// Config is authrimctl's config format, grounded on cmd/dex/config.go's
// Config/Validate checklist idiom.
type Config struct {
	Redis     Redis     `json:"redis"`
	Telemetry Telemetry `json:"telemetry"`
	Tombstone Tombstone `json:"tombstone"`
	Logger    Logger    `json:"logger"`
}

type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type Telemetry struct {
	HTTP string `json:"http"`
}

type Tombstone struct {
	// Interval between sweeps; "0" disables the periodic loop (one-shot
	// `tombstones gc` still works).
	Interval  string `json:"interval"`
	Retention string `json:"retention"`
}

type Logger struct {
	Level string `json:"level"`
}

func loadConfig(raw []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return c, c.Validate()
}

// Validate the configuration, per cmd/dex/config.go's fast-checks-first idiom.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Redis.Addr == "", "no redis.addr specified in config file"},
	}
	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("invalid config: %s", check.errMsg)
		}
	}
	return nil
}
