package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/trumpfiles/internal/aggregate"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Catalog   Catalog   `yaml:"catalog"`
	Dashboard Dashboard `yaml:"dashboard"`
	Postgres  Postgres  `yaml:"postgres"`
	Sources   Sources   `yaml:"sources"`
	Logging   Logging   `yaml:"logging"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
	Metrics    bool   `yaml:"metrics"`
}

type Catalog struct {
	PageSize int `yaml:"page_size"`
}

// Dashboard selects which scoring dimensions feed each chart.
type Dashboard struct {
	CrossTab      []string `yaml:"cross_tab"`
	Profile       []string `yaml:"profile"`
	Timeline      []string `yaml:"timeline"`
	MissingScores string   `yaml:"missing_scores"`
}

type Postgres struct {
	DSNEnv string `yaml:"dsn_env"`
	View   string `yaml:"view"`
}

type Sources struct {
	FetchTimeout int `yaml:"fetch_timeout"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for trumpfiles.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "trumpfiles")
}

// DataDir returns the XDG data directory for trumpfiles.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "trumpfiles")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/trumpfiles/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'trumpfiles init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Server:  Server{Host: "127.0.0.1", Port: 8000, Metrics: true},
		Catalog: Catalog{PageSize: 50},
		Dashboard: Dashboard{
			CrossTab:      []string{"danger", "absurdity"},
			Profile:       []string{"danger", "lawlessness", "insanity", "absurdity", "authoritarianism"},
			Timeline:      []string{"danger", "absurdity"},
			MissingScores: "zero",
		},
		Postgres: Postgres{DSNEnv: "DATABASE_URL", View: "ai_complete_trump_data"},
		Sources:  Sources{FetchTimeout: 15},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects dashboard settings the aggregation engine cannot honour.
func (c *Config) Validate() error {
	if len(c.Dashboard.CrossTab) != 2 {
		return fmt.Errorf("dashboard.cross_tab: expected exactly 2 metrics, got %d", len(c.Dashboard.CrossTab))
	}
	groups := map[string][]string{
		"dashboard.cross_tab": c.Dashboard.CrossTab,
		"dashboard.profile":   c.Dashboard.Profile,
		"dashboard.timeline":  c.Dashboard.Timeline,
	}
	for key, names := range groups {
		if _, err := aggregate.ParseMetrics(names); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if _, err := aggregate.ParseMissingPolicy(c.Dashboard.MissingScores); err != nil {
		return fmt.Errorf("dashboard.missing_scores: %w", err)
	}
	if c.Catalog.PageSize < 50 {
		c.Catalog.PageSize = 50
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	host := c.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, c.Server.Port)
}

// FetchTimeout returns the per-request timeout for source resolution.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Sources.FetchTimeout) * time.Second
}

// PostgresDSN reads the upstream connection string from the configured env var.
func (c *Config) PostgresDSN() (string, error) {
	env := c.Postgres.DSNEnv
	if env == "" {
		env = "DATABASE_URL"
	}
	dsn := strings.TrimSpace(os.Getenv(env))
	if dsn == "" {
		return "", fmt.Errorf("missing %s in environment", env)
	}
	return dsn, nil
}

// Engine builds the aggregation engine described by the dashboard section.
func (c *Config) Engine() aggregate.Engine {
	policy, _ := aggregate.ParseMissingPolicy(c.Dashboard.MissingScores)
	return aggregate.Engine{Missing: policy}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// DashboardOptions resolves the configured metric lists. Validate has already
// rejected unknown names, so parse errors fall back to the defaults.
func (c *Config) DashboardOptions() aggregate.Options {
	opts := aggregate.DefaultOptions()
	if ms, err := aggregate.ParseMetrics(c.Dashboard.Timeline); err == nil && len(ms) > 0 {
		opts.Timeline = ms
	}
	if ms, err := aggregate.ParseMetrics(c.Dashboard.Profile); err == nil && len(ms) > 0 {
		opts.Profile = ms
	}
	if ms, err := aggregate.ParseMetrics(c.Dashboard.CrossTab); err == nil && len(ms) == 2 {
		opts.CrossTab = [2]aggregate.Metric{ms[0], ms[1]}
	}
	return opts
}
