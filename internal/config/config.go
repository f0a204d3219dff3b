// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bcem/tracker/internal/matcher"
	"github.com/bcem/tracker/internal/normalize"
	"github.com/bcem/tracker/internal/progression"
)

// Config holds all configuration for the tracker.
type Config struct {
	// Store
	StoreBackend string // "memory", "sqlite" or "postgres"
	SQLitePath   string
	DatabaseURL  string

	// Redis. An empty URL disables the processed tracker and event queue.
	RedisURL     string
	EventsQueue  string
	ProcessedTTL time.Duration // 0 keeps processed ids forever

	// HTTP API
	Port int

	// MergeSweepInterval runs queued merge_into cells periodically while
	// serving. 0 disables the sweep.
	MergeSweepInterval time.Duration

	// Reconciliation rules
	StatusOrder     []string
	TerminalStatus  []string
	StatusAliases   map[string]string
	CompanySuffixes []string
	Matching        matcher.Config
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Store struct {
		Backend     string `yaml:"backend"`
		SQLitePath  string `yaml:"sqlite_path"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"store"`
	Redis struct {
		URL          string `yaml:"url"`
		ProcessedTTL string `yaml:"processed_ttl"`
		Queues       struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Server struct {
		Port               int    `yaml:"port"`
		MergeSweepInterval string `yaml:"merge_sweep_interval"`
	} `yaml:"server"`
	Statuses struct {
		Order    []string          `yaml:"order"`
		Terminal []string          `yaml:"terminal"`
		Aliases  map[string]string `yaml:"aliases"`
	} `yaml:"statuses"`
	Normalize struct {
		CompanySuffixes []string `yaml:"company_suffixes"`
	} `yaml:"normalize"`
	Matching struct {
		CompanyThreshold  *int     `yaml:"company_threshold"`
		PositionThreshold *int     `yaml:"position_threshold"`
		CombinedThreshold *float64 `yaml:"combined_threshold"`
		CompanyWeight     *float64 `yaml:"company_weight"`
		RecentWindowDays  *int     `yaml:"recent_window_days"`
	} `yaml:"matching"`
}

// DefaultPath is read when neither the caller nor CONFIG_PATH names a file.
const DefaultPath = "config.yaml"

// Load reads configuration from path (CONFIG_PATH or config.yaml when
// empty), expanding ${VAR} references, and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = envOrDefault("CONFIG_PATH", DefaultPath)
	}

	var raw rawConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	ttl, err := parseDuration(firstNonEmpty(os.Getenv("PROCESSED_TTL"), raw.Redis.ProcessedTTL, "0s"))
	if err != nil {
		return nil, fmt.Errorf("processed_ttl: %w", err)
	}

	sweep, err := parseDuration(firstNonEmpty(os.Getenv("MERGE_SWEEP_INTERVAL"), raw.Server.MergeSweepInterval, "0s"))
	if err != nil {
		return nil, fmt.Errorf("merge_sweep_interval: %w", err)
	}

	cfg := &Config{
		StoreBackend:       strings.ToLower(firstNonEmpty(os.Getenv("STORE_BACKEND"), raw.Store.Backend, "sqlite")),
		SQLitePath:         firstNonEmpty(os.Getenv("SQLITE_PATH"), raw.Store.SQLitePath, "tracker.db"),
		DatabaseURL:        firstNonEmpty(os.Getenv("DATABASE_URL"), raw.Store.DatabaseURL),
		RedisURL:           firstNonEmpty(os.Getenv("REDIS_URL"), raw.Redis.URL),
		EventsQueue:        firstNonEmpty(os.Getenv("EVENTS_QUEUE"), raw.Redis.Queues.Events, "tracker-events"),
		ProcessedTTL:       ttl,
		Port:               envOrDefaultInt("PORT", firstPositive(raw.Server.Port, 8080)),
		MergeSweepInterval: sweep,
		StatusOrder:        orDefault(raw.Statuses.Order, progression.DefaultOrder),
		TerminalStatus:     orDefault(raw.Statuses.Terminal, progression.DefaultTerminal),
		StatusAliases:      raw.Statuses.Aliases,
		CompanySuffixes:    orDefault(raw.Normalize.CompanySuffixes, normalize.DefaultSuffixes),
		Matching:           matcher.DefaultConfig(),
	}
	if cfg.StatusAliases == nil {
		cfg.StatusAliases = progression.DefaultAliases
	}

	m := raw.Matching
	if m.CompanyThreshold != nil {
		cfg.Matching.CompanyThreshold = *m.CompanyThreshold
	}
	if m.PositionThreshold != nil {
		cfg.Matching.PositionThreshold = *m.PositionThreshold
	}
	if m.CombinedThreshold != nil {
		cfg.Matching.CombinedThreshold = *m.CombinedThreshold
	}
	if m.CompanyWeight != nil {
		cfg.Matching.CompanyWeight = *m.CompanyWeight
	}
	if m.RecentWindowDays != nil {
		cfg.Matching.RecentWindow = time.Duration(*m.RecentWindowDays) * 24 * time.Hour
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings Load cannot default away.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	m := c.Matching
	for name, v := range map[string]int{"company_threshold": m.CompanyThreshold, "position_threshold": m.PositionThreshold} {
		if v < 0 || v > 100 {
			return fmt.Errorf("matching.%s must be within 0..100, got %d", name, v)
		}
	}
	if m.CombinedThreshold < 0 || m.CombinedThreshold > 100 {
		return fmt.Errorf("matching.combined_threshold must be within 0..100, got %v", m.CombinedThreshold)
	}
	if m.CompanyWeight < 0 || m.CompanyWeight > 1 {
		return fmt.Errorf("matching.company_weight must be within 0..1, got %v", m.CompanyWeight)
	}
	if m.RecentWindow < 0 {
		return errors.New("matching.recent_window_days must not be negative")
	}

	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("statuses: %w", err)
	}
	return nil
}

// Policy builds the status progression policy.
func (c *Config) Policy() (*progression.Policy, error) {
	return progression.New(c.StatusOrder, c.TerminalStatus, c.StatusAliases)
}

// Normalizer builds the company/position normalizer.
func (c *Config) Normalizer() *normalize.Normalizer {
	return normalize.New(c.CompanySuffixes)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func orDefault(values, fallback []string) []string {
	if len(values) > 0 {
		return values
	}
	return fallback
}
