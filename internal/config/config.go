// Package config loads and validates datapath configuration: YAML file plus
// VSD_*-prefixed environment overrides, grounded on the teacher's
// LoadConfig/applyDefaults/applyEnvironmentOverrides/ValidateConfig pipeline
// in internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
)

// AppConfig carries process-wide identity and logging settings.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// DatapathConfig sizes the per-worker data structures and the worker
// placement policy (§4.7, §4.2-§4.3).
type DatapathConfig struct {
	MaxRecircDepth      int    `yaml:"max_recirc_depth"`
	EMCShift            uint   `yaml:"emc_shift"`
	EMCSegs             int    `yaml:"emc_segs"`
	FlowTableCapacity   int    `yaml:"flow_table_capacity"`
	CoreMask            string `yaml:"core_mask"`
	CoreMaskFile        string `yaml:"core_mask_file"`
	WorkersPerNuma      int    `yaml:"workers_per_numa"`
	MaintenanceInterval int    `yaml:"maintenance_interval"`
}

// PortConfig describes one port to be attached at startup.
type PortConfig struct {
	Name     string `yaml:"name"`
	Number   uint32 `yaml:"number"`
	DevType  string `yaml:"dev_type"`
	NumaID   int    `yaml:"numa_id"`
	PollMode bool   `yaml:"poll_mode"`
	RxQueues int    `yaml:"rx_queues"`
}

// MgmtConfig binds the management HTTP surface (§6).
type MgmtConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig binds the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// RateLimitConfig configures the hot-path log limiter (pkg/ratelimit).
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// HotReloadConfig configures the core-mask file watcher (pkg/hotreload).
// It only takes effect when Datapath.CoreMaskFile is set.
type HotReloadConfig struct {
	Enabled          bool          `yaml:"enabled"`
	WatchInterval    time.Duration `yaml:"watch_interval"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// StatsConfig configures the root-level worker/port stats sampler
// (pkg/task_manager).
type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// TracingConfig configures the OTLP trace exporter for the upcall round
// trip (pkg/tracing). Disabled by default: standing up a collector
// endpoint is an operator decision, not something to assume.
type TracingConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	Endpoint       string        `yaml:"endpoint"`
	Insecure       bool          `yaml:"insecure"`
	SampleRate     float64       `yaml:"sample_rate"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
}

// Config is the root configuration object.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Datapath  DatapathConfig  `yaml:"datapath"`
	Ports     []PortConfig    `yaml:"ports"`
	Mgmt      MgmtConfig      `yaml:"mgmt"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	HotReload HotReloadConfig `yaml:"hot_reload"`
	Stats     StatsConfig     `yaml:"stats"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoadConfig reads configFile (if non-empty), applies defaults, then
// environment overrides, then validates. A missing or unreadable file is a
// warning, not a fatal error: the pipeline falls back to defaults plus
// environment.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, cfg); err != nil {
			fmt.Printf("Warning: failed to load config file %s: %v\n", configFile, err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadConfigFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyDefaults fills in zero-valued fields without overwriting values
// already set, except for three flags it sets unconditionally:
// Mgmt.Enabled and Metrics.Enabled are always forced to true (a YAML false
// does not survive; only the environment overrides applied afterwards can
// turn them off), and HotReload.Enabled is forced to true whenever a
// core-mask file is configured.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "vswitchd-core"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Datapath.MaxRecircDepth == 0 {
		cfg.Datapath.MaxRecircDepth = 5
	}
	if cfg.Datapath.EMCShift == 0 {
		cfg.Datapath.EMCShift = 13
	}
	if cfg.Datapath.EMCSegs == 0 {
		cfg.Datapath.EMCSegs = 2
	}
	if cfg.Datapath.FlowTableCapacity == 0 {
		cfg.Datapath.FlowTableCapacity = 65536
	}
	if cfg.Datapath.CoreMask == "" {
		cfg.Datapath.CoreMask = "0x1"
	}
	if cfg.Datapath.WorkersPerNuma == 0 {
		cfg.Datapath.WorkersPerNuma = 1
	}
	if cfg.Datapath.MaintenanceInterval == 0 {
		cfg.Datapath.MaintenanceInterval = 1024
	}

	if cfg.Mgmt.Host == "" {
		cfg.Mgmt.Host = "0.0.0.0"
	}
	if cfg.Mgmt.Port == 0 {
		cfg.Mgmt.Port = 8401
	}
	cfg.Mgmt.Enabled = true

	if cfg.Metrics.Host == "" {
		cfg.Metrics.Host = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 8001
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	cfg.Metrics.Enabled = true

	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}

	if cfg.Datapath.CoreMaskFile != "" {
		cfg.HotReload.Enabled = true
	}
	if cfg.HotReload.WatchInterval == 0 {
		cfg.HotReload.WatchInterval = 5 * time.Second
	}
	if cfg.HotReload.DebounceInterval == 0 {
		cfg.HotReload.DebounceInterval = 500 * time.Millisecond
	}

	if cfg.Stats.Interval == 0 {
		cfg.Stats.Interval = 2 * time.Second
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.App.Name
	}
	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = "v1.0.0"
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = cfg.App.Environment
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4318"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.BatchTimeout == 0 {
		cfg.Tracing.BatchTimeout = 5 * time.Second
	}
	if cfg.Tracing.MaxBatchSize == 0 {
		cfg.Tracing.MaxBatchSize = 512
	}
}

// applyEnvironmentOverrides applies VSD_*-prefixed environment variables on
// top of file-loaded and defaulted values.
func applyEnvironmentOverrides(cfg *Config) {
	cfg.App.Name = getEnvString("VSD_APP_NAME", cfg.App.Name)
	cfg.App.Environment = getEnvString("VSD_APP_ENVIRONMENT", cfg.App.Environment)
	cfg.App.LogLevel = getEnvString("VSD_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnvString("VSD_LOG_FORMAT", cfg.App.LogFormat)

	cfg.Datapath.MaxRecircDepth = getEnvInt("VSD_MAX_RECIRC_DEPTH", cfg.Datapath.MaxRecircDepth)
	cfg.Datapath.EMCShift = uint(getEnvInt("VSD_EMC_SHIFT", int(cfg.Datapath.EMCShift)))
	cfg.Datapath.EMCSegs = getEnvInt("VSD_EMC_SEGS", cfg.Datapath.EMCSegs)
	cfg.Datapath.FlowTableCapacity = getEnvInt("VSD_FLOW_TABLE_CAPACITY", cfg.Datapath.FlowTableCapacity)
	cfg.Datapath.CoreMask = getEnvString("VSD_CORE_MASK", cfg.Datapath.CoreMask)
	cfg.Datapath.CoreMaskFile = getEnvString("VSD_CORE_MASK_FILE", cfg.Datapath.CoreMaskFile)
	cfg.Datapath.WorkersPerNuma = getEnvInt("VSD_WORKERS_PER_NUMA", cfg.Datapath.WorkersPerNuma)
	cfg.Datapath.MaintenanceInterval = getEnvInt("VSD_MAINTENANCE_INTERVAL", cfg.Datapath.MaintenanceInterval)

	cfg.Mgmt.Enabled = getEnvBool("VSD_MGMT_ENABLED", cfg.Mgmt.Enabled)
	cfg.Mgmt.Host = getEnvString("VSD_MGMT_HOST", cfg.Mgmt.Host)
	cfg.Mgmt.Port = getEnvInt("VSD_MGMT_PORT", cfg.Mgmt.Port)

	cfg.Metrics.Enabled = getEnvBool("VSD_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Host = getEnvString("VSD_METRICS_HOST", cfg.Metrics.Host)
	cfg.Metrics.Port = getEnvInt("VSD_METRICS_PORT", cfg.Metrics.Port)
	cfg.Metrics.Path = getEnvString("VSD_METRICS_PATH", cfg.Metrics.Path)

	if rps := getEnvString("VSD_RATE_LIMIT_RPS", ""); rps != "" {
		if f, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimit.RPS = f
		}
	}
	cfg.RateLimit.Burst = getEnvInt("VSD_RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.HotReload.Enabled = getEnvBool("VSD_HOT_RELOAD_ENABLED", cfg.HotReload.Enabled)
	cfg.HotReload.WatchInterval = getEnvDuration("VSD_HOT_RELOAD_WATCH_INTERVAL", cfg.HotReload.WatchInterval)
	cfg.HotReload.DebounceInterval = getEnvDuration("VSD_HOT_RELOAD_DEBOUNCE_INTERVAL", cfg.HotReload.DebounceInterval)

	cfg.Stats.Interval = getEnvDuration("VSD_STATS_SAMPLE_INTERVAL", cfg.Stats.Interval)

	cfg.Tracing.Enabled = getEnvBool("VSD_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnvString("VSD_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = getEnvBool("VSD_TRACING_INSECURE", cfg.Tracing.Insecure)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// ValidateConfig performs comprehensive configuration validation, per C12.
func ValidateConfig(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.validateApp()
	v.validateDatapath()
	v.validatePorts()
	v.validateMgmt()
	v.validateMetrics()
	v.validateRateLimit()

	if len(v.errs) > 0 {
		return v.buildError()
	}
	return nil
}

type validator struct {
	cfg  *Config
	errs []error
}

func (v *validator) addError(component, operation, message string) {
	v.errs = append(v.errs, dperrors.Invalid(component, operation, message))
}

func (v *validator) validateApp() {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true}
	if !validLevels[v.cfg.App.LogLevel] {
		v.addError("app", "validate_log_level", fmt.Sprintf("invalid log level: %s", v.cfg.App.LogLevel))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[v.cfg.App.LogFormat] {
		v.addError("app", "validate_log_format", fmt.Sprintf("invalid log format: %s", v.cfg.App.LogFormat))
	}
}

func (v *validator) validateDatapath() {
	d := v.cfg.Datapath
	if d.MaxRecircDepth <= 0 {
		v.addError("datapath", "validate_max_recirc_depth", "max_recirc_depth must be positive")
	}
	if d.EMCSegs <= 0 {
		v.addError("datapath", "validate_emc_segs", "emc_segs must be positive")
	}
	if d.EMCShift == 0 || d.EMCShift > 24 {
		v.addError("datapath", "validate_emc_shift", fmt.Sprintf("emc_shift out of range: %d", d.EMCShift))
	}
	if d.FlowTableCapacity <= 0 {
		v.addError("datapath", "validate_flow_table_capacity", "flow_table_capacity must be positive")
	}
	if d.WorkersPerNuma <= 0 {
		v.addError("datapath", "validate_workers_per_numa", "workers_per_numa must be positive")
	}
	if d.MaintenanceInterval <= 0 {
		v.addError("datapath", "validate_maintenance_interval", "maintenance_interval must be positive")
	}
	if !strings.HasPrefix(d.CoreMask, "0x") && !strings.HasPrefix(d.CoreMask, "0X") {
		v.addError("datapath", "validate_core_mask", fmt.Sprintf("core_mask must be hex with 0x prefix: %s", d.CoreMask))
	} else if _, err := strconv.ParseUint(d.CoreMask[2:], 16, 64); err != nil {
		v.addError("datapath", "validate_core_mask", fmt.Sprintf("core_mask is not valid hex: %s", d.CoreMask))
	}
}

func (v *validator) validatePorts() {
	seenNames := map[string]bool{}
	seenNumbers := map[uint32]bool{}
	for _, p := range v.cfg.Ports {
		if p.Name == "" {
			v.addError("ports", "validate_name", "port name cannot be empty")
			continue
		}
		if seenNames[p.Name] {
			v.addError("ports", "validate_name", fmt.Sprintf("duplicate port name: %s", p.Name))
		}
		seenNames[p.Name] = true
		if p.Number != 0 {
			if seenNumbers[p.Number] {
				v.addError("ports", "validate_number", fmt.Sprintf("duplicate port number: %d", p.Number))
			}
			seenNumbers[p.Number] = true
		}
		if p.RxQueues < 0 {
			v.addError("ports", "validate_rx_queues", fmt.Sprintf("rx_queues cannot be negative for port %s", p.Name))
		}
	}
}

func (v *validator) validateMgmt() {
	if v.cfg.Mgmt.Enabled {
		if v.cfg.Mgmt.Port <= 0 || v.cfg.Mgmt.Port > 65535 {
			v.addError("mgmt", "validate_port", fmt.Sprintf("invalid mgmt port: %d", v.cfg.Mgmt.Port))
		}
		if v.cfg.Mgmt.Host == "" {
			v.addError("mgmt", "validate_host", "mgmt host cannot be empty when enabled")
		}
	}
}

func (v *validator) validateMetrics() {
	if v.cfg.Metrics.Enabled {
		if v.cfg.Metrics.Port <= 0 || v.cfg.Metrics.Port > 65535 {
			v.addError("metrics", "validate_port", fmt.Sprintf("invalid metrics port: %d", v.cfg.Metrics.Port))
		}
		if v.cfg.Metrics.Path == "" {
			v.addError("metrics", "validate_path", "metrics path cannot be empty when enabled")
		}
		if v.cfg.Mgmt.Enabled && v.cfg.Mgmt.Port == v.cfg.Metrics.Port {
			v.addError("metrics", "validate_port_conflict", "metrics port conflicts with mgmt port")
		}
	}
}

func (v *validator) validateRateLimit() {
	if v.cfg.RateLimit.RPS <= 0 {
		v.addError("rate_limit", "validate_rps", "rps must be positive")
	}
	if v.cfg.RateLimit.Burst <= 0 {
		v.addError("rate_limit", "validate_burst", "burst must be positive")
	}
}

func (v *validator) buildError() error {
	if len(v.errs) == 1 {
		return v.errs[0]
	}
	msgs := make([]string, len(v.errs))
	for i, e := range v.errs {
		msgs[i] = e.Error()
	}
	return dperrors.Invalid("config", "validate", fmt.Sprintf("multiple validation errors: %s", strings.Join(msgs, "; ")))
}
