// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package config carries the engine-wide tunables that spec.md leaves to
// external collaborators: dispatch/scheduled pool sizes and the default
// per-state timeout budget. It mirrors the teacher's
// cmd/discovery/main.go ParseConfig/SetDefaults pair.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/asaskevich/govalidator"
)

const (
	// DefaultDispatchPoolSize is used when EngineConfig.DispatchPoolSize is unset.
	DefaultDispatchPoolSize = 64
	// DefaultScheduledPoolSize is the minimum worker count spec.md requires for the
	// scheduled pool ("at least three workers for timers").
	DefaultScheduledPoolSize = 3
	// DefaultStateTimeout is the default value of EngineConfig.DefaultTimeout. No
	// combinator reads it: Timeout always takes an explicit duration.
	DefaultStateTimeout = 30 * time.Second
)

// EngineConfig configures the shared pools an Operation runtime falls back to
// when no pool is injected explicitly via op.Option.
type EngineConfig struct {
	DispatchPoolSize  int    `json:"dispatchPoolSize" valid:"range(1|100000)"`
	ScheduledPoolSize int    `json:"scheduledPoolSize" valid:"range(1|1000)"`
	DefaultTimeout    string `json:"defaultTimeout" valid:"-"`
}

// Default returns the built-in configuration used when no config file is supplied.
func Default() *EngineConfig {
	return &EngineConfig{
		DispatchPoolSize:  DefaultDispatchPoolSize,
		ScheduledPoolSize: DefaultScheduledPoolSize,
		DefaultTimeout:    DefaultStateTimeout.String(),
	}
}

// ParseConfig reads and validates an EngineConfig from a JSON file, applying
// defaults for any zero-valued field the caller omitted.
func ParseConfig(path string) (*EngineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine config %s: %w", path, err)
	}
	conf := &EngineConfig{}
	if err := json.Unmarshal(raw, conf); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	SetDefaults(conf)
	if _, err := govalidator.ValidateStruct(conf); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if _, err := conf.Timeout(); err != nil {
		return nil, fmt.Errorf("invalid defaultTimeout: %w", err)
	}
	return conf, nil
}

// SetDefaults fills in zero-valued fields with the package defaults.
func SetDefaults(conf *EngineConfig) {
	if conf.DispatchPoolSize == 0 {
		conf.DispatchPoolSize = DefaultDispatchPoolSize
	}
	if conf.ScheduledPoolSize == 0 {
		conf.ScheduledPoolSize = DefaultScheduledPoolSize
	}
	if conf.DefaultTimeout == "" {
		conf.DefaultTimeout = DefaultStateTimeout.String()
	}
}

// Timeout parses DefaultTimeout into a time.Duration.
func (c *EngineConfig) Timeout() (time.Duration, error) {
	return time.ParseDuration(c.DefaultTimeout)
}
