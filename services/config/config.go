// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Package config loads service settings from the environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Env          string `mapstructure:"env"`
	ListenAddr   string `mapstructure:"listen_addr"`
	DatabasePath string `mapstructure:"database_path"`

	AIProvider string `mapstructure:"ai_provider"`
	AIModel    string `mapstructure:"ai_model"`
	AIAPIKey   string `mapstructure:"ai_api_key"`

	// CopilotRPM caps copilot queries per workspace per minute. Zero
	// disables the cap.
	CopilotRPM int `mapstructure:"copilot_rpm"`
}

// Load reads configuration with precedence: defaults, then the optional
// config file, then OPSDECK_* environment variables.
func Load(configFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("env", "development")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_path", "opsdeck.db")
	v.SetDefault("ai_provider", "")
	v.SetDefault("ai_model", "")
	v.SetDefault("ai_api_key", "")
	v.SetDefault("copilot_rpm", 30)

	v.SetEnvPrefix("OPSDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}
