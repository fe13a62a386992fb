package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Provider struct {
	BaseURL           string   `json:"base_url"`
	Proxies           []string `json:"proxies"` // wrapping prefixes, tried after the direct route
	AttemptTimeoutSec int      `json:"attempt_timeout_sec"`
	CacheTTLSec       int      `json:"cache_ttl_sec"`
	BatchWorkers      int      `json:"batch_workers"`
}

type Store struct {
	Path string `json:"path"`
}

type Refresh struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron expression
}

type Log struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

type Config struct {
	Server   Server   `json:"server"`
	Provider Provider `json:"provider"`
	Store    Store    `json:"store"`
	Refresh  Refresh  `json:"refresh"`
	Log      Log      `json:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		Provider: Provider{
			BaseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
			Proxies: []string{
				"https://api.allorigins.win/raw?url=",
				"https://corsproxy.io/?url=",
			},
			AttemptTimeoutSec: 8,
			CacheTTLSec:       60,
			BatchWorkers:      5,
		},
		Store:   Store{Path: "data/roster.db"},
		Refresh: Refresh{Enabled: true, Schedule: "@every 10m"},
		Log:     Log{Level: "info", Pretty: false},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_PROXIES"); v != "" {
		cfg.Provider.Proxies = splitCSV(v)
	}
	if v := os.Getenv("PROVIDER_ATTEMPT_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Provider.AttemptTimeoutSec = x
		}
	}
	if v := os.Getenv("PROVIDER_CACHE_TTL_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Provider.CacheTTLSec = x
		}
	}
	if v := os.Getenv("PROVIDER_BATCH_WORKERS"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Provider.BatchWorkers = x
		}
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REFRESH_SCHEDULE"); v != "" {
		cfg.Refresh.Schedule = v
	}
	if v := os.Getenv("REFRESH_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.Refresh.Enabled = true
		case "0", "false", "no", "n":
			cfg.Refresh.Enabled = false
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.Log.Pretty = true
		case "0", "false", "no", "n":
			cfg.Log.Pretty = false
		}
	}
}

func atoi(s string) int {
	var x int
	_, _ = fmt.Sscanf(s, "%d", &x)
	return x
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
