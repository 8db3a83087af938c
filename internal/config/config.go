package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vigil/internal/models"
)

// Duration lets interval fields in the YAML file be written as Go
// duration strings ("30s", "1h").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

type Config struct {
	Addr     string `yaml:"addr"`
	DataDir  string `yaml:"data_dir"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	ComponentSweepInterval Duration `yaml:"component_sweep_interval"`
	ResourceSweepInterval  Duration `yaml:"resource_sweep_interval"`
	StorageSweepInterval   Duration `yaml:"storage_sweep_interval"`
	NetworkSweepInterval   Duration `yaml:"network_sweep_interval"`
	MaintenanceInterval    Duration `yaml:"maintenance_interval"`
	ReportInterval         Duration `yaml:"report_interval"`

	ProbeTimeout        Duration `yaml:"probe_timeout"`
	MaxConcurrentProbes int      `yaml:"max_concurrent_probes"`
	MaxRecoveryAttempts int      `yaml:"max_recovery_attempts"`
	RetentionDays       int      `yaml:"retention_days"`
	ReportWindow        Duration `yaml:"report_window"`
	ShutdownGrace       Duration `yaml:"shutdown_grace"`
	CacheDir            string   `yaml:"cache_dir"`

	Thresholds Thresholds        `yaml:"thresholds"`
	Components []ComponentConfig `yaml:"components"`
	Notify     NotifyConfig      `yaml:"notify"`
}

type Thresholds struct {
	CPUHighPct        float64 `yaml:"cpu_high_pct"`
	CPUCriticalPct    float64 `yaml:"cpu_critical_pct"`
	MemHighPct        float64 `yaml:"mem_high_pct"`
	MemCriticalPct    float64 `yaml:"mem_critical_pct"`
	DiskHighPct       float64 `yaml:"disk_high_pct"`
	DiskCriticalPct   float64 `yaml:"disk_critical_pct"`
	LatencyHighMs     float64 `yaml:"latency_high_ms"`
	LatencyCriticalMs float64 `yaml:"latency_critical_ms"`
}

type ComponentConfig struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	CheckURL   string   `yaml:"check_url"`
	PIDFile    string   `yaml:"pid_file"`
	RestartCmd []string `yaml:"restart_cmd"`
	DependsOn  []string `yaml:"depends_on"`
}

type NotifyConfig struct {
	Console    bool   `yaml:"console"`
	File       string `yaml:"file"`
	WebhookURL string `yaml:"webhook_url"`
}

// Load builds the configuration from defaults, an optional YAML file
// (VIGIL_CONFIG or the path argument) and env overrides, in that order.
func Load(path string) (Config, error) {
	dataDir := getenv("VIGIL_DATA_DIR", "./data")
	cfg := Config{
		Addr:                   ":8090",
		DataDir:                dataDir,
		DBPath:                 dataDir + "/vigil.db",
		LogLevel:               "info",
		ComponentSweepInterval: Duration(60 * time.Second),
		ResourceSweepInterval:  Duration(30 * time.Second),
		StorageSweepInterval:   Duration(60 * time.Second),
		NetworkSweepInterval:   Duration(60 * time.Second),
		MaintenanceInterval:    Duration(time.Hour),
		ReportInterval:         Duration(30 * time.Minute),
		ProbeTimeout:           Duration(5 * time.Second),
		MaxConcurrentProbes:    8,
		MaxRecoveryAttempts:    5,
		RetentionDays:          14,
		ReportWindow:           Duration(30 * time.Minute),
		ShutdownGrace:          Duration(10 * time.Second),
		Thresholds: Thresholds{
			CPUHighPct:        80,
			CPUCriticalPct:    95,
			MemHighPct:        85,
			MemCriticalPct:    95,
			DiskHighPct:       85,
			DiskCriticalPct:   95,
			LatencyHighMs:     500,
			LatencyCriticalMs: 2000,
		},
		Notify: NotifyConfig{Console: true},
	}

	if path == "" {
		path = os.Getenv("VIGIL_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Addr = getenv("VIGIL_ADDR", cfg.Addr)
	cfg.DBPath = getenv("VIGIL_DB_PATH", cfg.DBPath)
	cfg.LogLevel = getenv("VIGIL_LOG_LEVEL", cfg.LogLevel)
	cfg.ComponentSweepInterval = Duration(getenvDuration("VIGIL_COMPONENT_SWEEP_INTERVAL", cfg.ComponentSweepInterval.Std()))
	cfg.ResourceSweepInterval = Duration(getenvDuration("VIGIL_RESOURCE_SWEEP_INTERVAL", cfg.ResourceSweepInterval.Std()))
	cfg.MaxRecoveryAttempts = getenvInt("VIGIL_MAX_RECOVERY_ATTEMPTS", cfg.MaxRecoveryAttempts)
	cfg.RetentionDays = getenvInt("VIGIL_RETENTION_DAYS", cfg.RetentionDays)

	return cfg, cfg.Validate()
}

// Validate rejects broken definitions before the first sweep runs.
// Any error here is fatal at startup.
func (c Config) Validate() error {
	if c.ComponentSweepInterval <= 0 || c.ResourceSweepInterval <= 0 ||
		c.StorageSweepInterval <= 0 || c.NetworkSweepInterval <= 0 ||
		c.MaintenanceInterval <= 0 || c.ReportInterval <= 0 {
		return fmt.Errorf("all sweep intervals must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	if c.MaxConcurrentProbes < 1 {
		return fmt.Errorf("max_concurrent_probes must be at least 1")
	}
	if c.MaxRecoveryAttempts < 1 {
		return fmt.Errorf("max_recovery_attempts must be at least 1")
	}
	if c.Thresholds.CPUHighPct >= c.Thresholds.CPUCriticalPct ||
		c.Thresholds.MemHighPct >= c.Thresholds.MemCriticalPct ||
		c.Thresholds.DiskHighPct >= c.Thresholds.DiskCriticalPct ||
		c.Thresholds.LatencyHighMs >= c.Thresholds.LatencyCriticalMs {
		return fmt.Errorf("high thresholds must be below critical thresholds")
	}
	seen := make(map[string]bool, len(c.Components))
	for i, cc := range c.Components {
		if cc.Name == "" {
			return fmt.Errorf("component %d: name is required", i)
		}
		if seen[cc.Name] {
			return fmt.Errorf("component %q: duplicate name", cc.Name)
		}
		seen[cc.Name] = true
		switch models.ComponentKind(cc.Kind) {
		case models.KindProcess:
			if cc.PIDFile == "" {
				return fmt.Errorf("component %q: process kind requires pid_file", cc.Name)
			}
		case models.KindEndpoint:
			if cc.CheckURL == "" {
				return fmt.Errorf("component %q: external-endpoint kind requires check_url", cc.Name)
			}
		default:
			return fmt.Errorf("component %q: unknown kind %q", cc.Name, cc.Kind)
		}
		for _, dep := range cc.DependsOn {
			if dep == cc.Name {
				return fmt.Errorf("component %q: depends on itself", cc.Name)
			}
		}
	}
	return nil
}

// ComponentRegistry converts the declared component set into the model form.
func (c Config) ComponentRegistry() []models.Component {
	out := make([]models.Component, 0, len(c.Components))
	for _, cc := range c.Components {
		out = append(out, models.Component{
			Name:       cc.Name,
			Kind:       models.ComponentKind(cc.Kind),
			CheckURL:   cc.CheckURL,
			PIDFile:    cc.PIDFile,
			RestartCmd: cc.RestartCmd,
			DependsOn:  cc.DependsOn,
		})
	}
	return out
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}
