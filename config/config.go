// Package config centralises runtime configuration for solroute services:
// typed defaults overlaid by an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML decoding for strings such as
// "500ms" and "2s" alongside plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML decodes either a Go duration string or an integer.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	case float64:
		*d = Duration(v)
		return nil
	}
	return fmt.Errorf("unsupported duration value %v", raw)
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerSettings configures the intake HTTP server.
type ServerSettings struct {
	Addr          string  `yaml:"addr"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
	RateBurst     int     `yaml:"rateBurst"`
}

// DatabaseSettings configures order persistence. An empty DSN selects the
// in-memory store.
type DatabaseSettings struct {
	DSN string `yaml:"dsn"`
}

// QueueSettings tunes the job queue retry policy and lease timeout.
type QueueSettings struct {
	MaxAttempts  int      `yaml:"maxAttempts"`
	BaseDelay    Duration `yaml:"baseDelay"`
	MaxDelay     Duration `yaml:"maxDelay"`
	LeaseTimeout Duration `yaml:"leaseTimeout"`
}

// WorkerSettings tunes the worker pool.
type WorkerSettings struct {
	Count      int      `yaml:"count"`
	BuildPause Duration `yaml:"buildPause"`
}

// RouterSettings tunes quote discovery.
type RouterSettings struct {
	QuoteTimeout Duration `yaml:"quoteTimeout"`
}

// ExecutorSettings tunes simulated settlement.
type ExecutorSettings struct {
	SettleDelayMin Duration `yaml:"settleDelayMin"`
	SettleDelayMax Duration `yaml:"settleDelayMax"`
}

// ProviderSettings declares one venue adapter. Kind selects the adapter
// implementation; Script carries the pricing source for script providers.
type ProviderSettings struct {
	Name      string  `yaml:"name"`
	Kind      string  `yaml:"kind"`
	BasePrice float64 `yaml:"basePrice"`
	Script    string  `yaml:"script"`
}

// TelemetrySettings configures OpenTelemetry export. An empty endpoint keeps
// telemetry on noop providers.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings is the configuration tree loaded from defaults and overrides.
type Settings struct {
	Server    ServerSettings     `yaml:"server"`
	Database  DatabaseSettings   `yaml:"database"`
	Queue     QueueSettings      `yaml:"queue"`
	Workers   WorkerSettings     `yaml:"workers"`
	Router    RouterSettings     `yaml:"router"`
	Executor  ExecutorSettings   `yaml:"executor"`
	Providers []ProviderSettings `yaml:"providers"`
	Telemetry TelemetrySettings  `yaml:"telemetry"`
}

// Default returns the default solroute configuration.
func Default() Settings {
	return Settings{
		Server: ServerSettings{
			Addr:          ":3000",
			RatePerSecond: 50,
			RateBurst:     100,
		},
		Database: DatabaseSettings{DSN: ""},
		Queue: QueueSettings{
			MaxAttempts:  3,
			BaseDelay:    Duration(time.Second),
			MaxDelay:     Duration(30 * time.Second),
			LeaseTimeout: Duration(30 * time.Second),
		},
		Workers: WorkerSettings{
			Count:      10,
			BuildPause: Duration(500 * time.Millisecond),
		},
		Router: RouterSettings{
			QuoteTimeout: Duration(2 * time.Second),
		},
		Executor: ExecutorSettings{
			SettleDelayMin: Duration(2 * time.Second),
			SettleDelayMax: Duration(3 * time.Second),
		},
		Providers: []ProviderSettings{
			{Name: "Raydium", Kind: "raydium"},
			{Name: "Meteora", Kind: "meteora"},
		},
		Telemetry: TelemetrySettings{
			OTLPEndpoint: "",
			ServiceName:  "solroute-gateway",
		},
	}
}

// Load reads settings from path over the defaults. The boolean reports
// whether a file was found; a missing file is not an error.
func Load(path string) (Settings, bool, error) {
	settings := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings.normalize(), false, nil
		}
		return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return Settings{}, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	return settings.normalize(), true, nil
}

func (s Settings) normalize() Settings {
	defaults := Default()
	if s.Server.Addr == "" {
		s.Server.Addr = defaults.Server.Addr
	}
	if s.Server.RatePerSecond <= 0 {
		s.Server.RatePerSecond = defaults.Server.RatePerSecond
	}
	if s.Server.RateBurst <= 0 {
		s.Server.RateBurst = defaults.Server.RateBurst
	}
	if s.Queue.MaxAttempts <= 0 {
		s.Queue.MaxAttempts = defaults.Queue.MaxAttempts
	}
	if s.Queue.BaseDelay <= 0 {
		s.Queue.BaseDelay = defaults.Queue.BaseDelay
	}
	if s.Queue.MaxDelay <= 0 {
		s.Queue.MaxDelay = defaults.Queue.MaxDelay
	}
	if s.Queue.LeaseTimeout <= 0 {
		s.Queue.LeaseTimeout = defaults.Queue.LeaseTimeout
	}
	if s.Workers.Count <= 0 {
		s.Workers.Count = defaults.Workers.Count
	}
	if s.Workers.BuildPause < 0 {
		s.Workers.BuildPause = defaults.Workers.BuildPause
	}
	if s.Router.QuoteTimeout <= 0 {
		s.Router.QuoteTimeout = defaults.Router.QuoteTimeout
	}
	if s.Executor.SettleDelayMin <= 0 {
		s.Executor.SettleDelayMin = defaults.Executor.SettleDelayMin
	}
	if s.Executor.SettleDelayMax < s.Executor.SettleDelayMin {
		s.Executor.SettleDelayMax = s.Executor.SettleDelayMin
	}
	if len(s.Providers) == 0 {
		s.Providers = defaults.Providers
	}
	if s.Telemetry.ServiceName == "" {
		s.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
	return s
}
