package config

import (
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Roost configuration, loadable from YAML.
type Config struct {
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJSON"`

	API          API          `yaml:"api"`
	ContentStore ContentStore `yaml:"contentStore"`
	Supervisor   Supervisor   `yaml:"supervisor"`
	Cron         Cron         `yaml:"cron"`
	Lifecycle    Lifecycle    `yaml:"lifecycle"`
}

// API configures the HTTP adapter.
type API struct {
	ListenAddr string `yaml:"listenAddr"`
	Debug      bool   `yaml:"debug"` // include stack traces in error bodies
}

// ContentStore configures the content-addressed storage client.
type ContentStore struct {
	Primary        string        `yaml:"primary"`
	Gateways       []string      `yaml:"gateways"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// Supervisor configures the worker runtime supervisor.
type Supervisor struct {
	PortMin                  int           `yaml:"portMin"`
	PortMax                  int           `yaml:"portMax"`
	MaxWarmInstances         int           `yaml:"maxWarmInstances"`
	MaxConcurrentInvocations int           `yaml:"maxConcurrentInvocations"`
	IdleTimeout              time.Duration `yaml:"idleTimeout"`
	RuntimeCommand           []string      `yaml:"runtimeCommand"`
	NetworkID                string        `yaml:"networkID"`
	PublicGatewayURL         string        `yaml:"publicGatewayURL"`
	KeyServiceURL            string        `yaml:"keyServiceURL"`
}

// Cron configures the cron scheduler.
type Cron struct {
	TickInterval time.Duration `yaml:"tickInterval"`
	HistoryCap   int           `yaml:"historyCap"`
}

// Lifecycle configures the database lifecycle controller.
type Lifecycle struct {
	Region         string `yaml:"region"`
	DumpCommand    string `yaml:"dumpCommand"`    // relational engine dump utility
	RestoreCommand string `yaml:"restoreCommand"` // relational engine restore utility
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:  "/var/lib/roost",
		LogLevel: "info",
		API: API{
			ListenAddr: "127.0.0.1:7410",
		},
		ContentStore: ContentStore{
			Primary:        "http://127.0.0.1:5001",
			RequestTimeout: 30 * time.Second,
		},
		Supervisor: Supervisor{
			PortMin:                  30000,
			PortMax:                  39999,
			MaxWarmInstances:         5,
			MaxConcurrentInvocations: 10,
			IdleTimeout:              5 * time.Minute,
			RuntimeCommand:           []string{"bun", "run"},
		},
		Cron: Cron{
			TickInterval: time.Minute,
			HistoryCap:   100,
		},
		Lifecycle: Lifecycle{
			Region:         "us-east-1",
			DumpCommand:    "pg_dump",
			RestoreCommand: "pg_restore",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, trace.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, trace.Wrap(err, "parsing config file")
	}
	return cfg, nil
}
