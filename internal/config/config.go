// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"firestige.xyz/buffwatch/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `buffwatch:` root key in YAML.
type GlobalConfig struct {
	Capture    CaptureConfig             `mapstructure:"capture"`
	Pipeline   PipelineConfig            `mapstructure:"pipeline"`
	Reassembly ReassemblyConfig          `mapstructure:"reassembly"`
	Tracker    TrackerConfig             `mapstructure:"tracker"`
	Reporters  map[string]map[string]any `mapstructure:"reporters"` // reporter name -> plugin config
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	Log        LogConfig                 `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig selects and configures the packet source.
type CaptureConfig struct {
	Engine       string `mapstructure:"engine"`         // pcap | afpacket
	Device       string `mapstructure:"device"`         // index, or name/description substring; empty = first device
	BPFFilter    string `mapstructure:"bpf_filter"`     // "ip and tcp"
	SnapLen      int    `mapstructure:"snap_len"`       // default 65535
	BufferSizeMB int    `mapstructure:"buffer_size_mb"` // kernel buffer
	Promiscuous  bool   `mapstructure:"promiscuous"`
	FanoutID     int    `mapstructure:"fanout_id"`   // afpacket only
	FanoutType   string `mapstructure:"fanout_type"` // afpacket only: "" | hash
}

// PluginConfig renders the capture section as a capturer plugin config.
func (c CaptureConfig) PluginConfig() map[string]any {
	return map[string]any{
		"device":         c.Device,
		"bpf_filter":     c.BPFFilter,
		"snap_len":       c.SnapLen,
		"buffer_size_mb": c.BufferSizeMB,
		"promiscuous":    c.Promiscuous,
		"fanout_id":      c.FanoutID,
		"fanout_type":    c.FanoutType,
	}
}

// ─── Pipeline ───

// PipelineConfig configures the capture queue and the periodic sweeps.
type PipelineConfig struct {
	QueueCapacity         int           `mapstructure:"queue_capacity"`
	FragmentSweepInterval time.Duration `mapstructure:"fragment_sweep_interval"`
	StreamSweepInterval   time.Duration `mapstructure:"stream_sweep_interval"`
	StatusInterval        time.Duration `mapstructure:"status_interval"`
}

// ─── Reassembly ───

// ReassemblyConfig bounds IP fragment and TCP stream reassembly state.
type ReassemblyConfig struct {
	FragmentTimeout     time.Duration `mapstructure:"fragment_timeout"`
	MaxFragments        int           `mapstructure:"max_fragments"`    // per datagram
	MaxFragsPerIP       int           `mapstructure:"max_frags_per_ip"` // 0 = disabled
	RateLimitWindow     time.Duration `mapstructure:"rate_limit_window"`
	StreamDesyncTimeout time.Duration `mapstructure:"stream_desync_timeout"`
	MaxPendingBytes     int           `mapstructure:"max_pending_bytes"` // per direction
	StreamIdleTimeout   time.Duration `mapstructure:"stream_idle_timeout"`
}

// ─── Tracker ───

// TrackerConfig configures the buff state tracker.
type TrackerConfig struct {
	Cooldowns map[string]time.Duration `mapstructure:"cooldowns"` // buffId -> cooldown
}

// CooldownTable returns the cooldown map keyed by numeric buff id.
func (t TrackerConfig) CooldownTable() (map[int32]time.Duration, error) {
	out := make(map[int32]time.Duration, len(t.Cooldowns))
	for k, d := range t.Cooldowns {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("tracker.cooldowns: invalid buff id %q: %w", k, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("tracker.cooldowns: buff id %d has non-positive cooldown %s", id, d)
		}
		out[int32(id)] = d
	}
	return out, nil
}

// ─── Reporters ───

// ReporterConfig is one enabled reporter and its plugin config.
type ReporterConfig struct {
	Name   string
	Config map[string]any
}

// EnabledReporters returns the reporters whose `enabled` flag is true, sorted by name.
func (cfg *GlobalConfig) EnabledReporters() []ReporterConfig {
	var out []ReporterConfig
	for name, rc := range cfg.Reporters {
		if !cast.ToBool(rc["enabled"]) {
			continue
		}
		out = append(out, ReporterConfig{Name: name, Config: rc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `buffwatch: ...`.
type configRoot struct {
	Buffwatch GlobalConfig `mapstructure:"buffwatch"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to environment overrides.
// The YAML file uses `buffwatch:` as root key; env vars use the BUFFWATCH_ prefix (e.g., BUFFWATCH_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// key "buffwatch.log.level" → env "BUFFWATCH_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Buffwatch

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "buffwatch." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("buffwatch.capture.engine", "pcap")
	v.SetDefault("buffwatch.capture.device", "")
	v.SetDefault("buffwatch.capture.bpf_filter", "ip and tcp")
	v.SetDefault("buffwatch.capture.snap_len", 65535)
	v.SetDefault("buffwatch.capture.buffer_size_mb", 10)
	v.SetDefault("buffwatch.capture.promiscuous", true)

	// Pipeline defaults
	v.SetDefault("buffwatch.pipeline.queue_capacity", 65536)
	v.SetDefault("buffwatch.pipeline.fragment_sweep_interval", "10s")
	v.SetDefault("buffwatch.pipeline.stream_sweep_interval", "10s")
	v.SetDefault("buffwatch.pipeline.status_interval", "2s")

	// Reassembly defaults
	v.SetDefault("buffwatch.reassembly.fragment_timeout", "15s")
	v.SetDefault("buffwatch.reassembly.max_fragments", 128)
	v.SetDefault("buffwatch.reassembly.max_frags_per_ip", 0)
	v.SetDefault("buffwatch.reassembly.rate_limit_window", "10s")
	v.SetDefault("buffwatch.reassembly.stream_desync_timeout", "15s")
	v.SetDefault("buffwatch.reassembly.max_pending_bytes", 4<<20)
	v.SetDefault("buffwatch.reassembly.stream_idle_timeout", "2m")

	// Reporter defaults
	v.SetDefault("buffwatch.reporters.console.enabled", true)
	v.SetDefault("buffwatch.reporters.console.pattern", "%time [%level] %msg")
	v.SetDefault("buffwatch.reporters.kafka.enabled", false)
	v.SetDefault("buffwatch.reporters.kafka.compression", "snappy")
	v.SetDefault("buffwatch.reporters.kafka.batch_size", 100)
	v.SetDefault("buffwatch.reporters.dump.enabled", false)
	v.SetDefault("buffwatch.reporters.dump.dir", "dumps")

	// Metrics defaults
	v.SetDefault("buffwatch.metrics.enabled", false)
	v.SetDefault("buffwatch.metrics.listen", ":9092")
	v.SetDefault("buffwatch.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("buffwatch.log.level", "info")
	v.SetDefault("buffwatch.log.format", "text")
	v.SetDefault("buffwatch.log.outputs.file.enabled", false)
	v.SetDefault("buffwatch.log.outputs.file.path", "/var/log/buffwatch/buffwatch.log")
	v.SetDefault("buffwatch.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("buffwatch.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("buffwatch.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("buffwatch.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and fills runtime defaults
// for zero values. Errors wrap core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Capture ──
	switch cfg.Capture.Engine {
	case "pcap", "afpacket":
	default:
		return fmt.Errorf("%w: unsupported capture.engine: %s (must be pcap/afpacket)", core.ErrConfigInvalid, cfg.Capture.Engine)
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = 65535
	}

	// ── Pipeline ──
	if cfg.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("%w: pipeline.queue_capacity must be positive", core.ErrConfigInvalid)
	}
	for name, d := range map[string]time.Duration{
		"pipeline.fragment_sweep_interval": cfg.Pipeline.FragmentSweepInterval,
		"pipeline.stream_sweep_interval":   cfg.Pipeline.StreamSweepInterval,
		"pipeline.status_interval":         cfg.Pipeline.StatusInterval,
		"reassembly.fragment_timeout":      cfg.Reassembly.FragmentTimeout,
		"reassembly.stream_desync_timeout": cfg.Reassembly.StreamDesyncTimeout,
		"reassembly.stream_idle_timeout":   cfg.Reassembly.StreamIdleTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", core.ErrConfigInvalid, name, d)
		}
	}

	// ── Reassembly ──
	if cfg.Reassembly.MaxFragments <= 0 {
		return fmt.Errorf("%w: reassembly.max_fragments must be positive", core.ErrConfigInvalid)
	}
	if cfg.Reassembly.MaxFragsPerIP < 0 {
		return fmt.Errorf("%w: reassembly.max_frags_per_ip must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Reassembly.MaxPendingBytes <= 0 {
		return fmt.Errorf("%w: reassembly.max_pending_bytes must be positive", core.ErrConfigInvalid)
	}

	// ── Tracker ──
	if _, err := cfg.Tracker.CooldownTable(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	// ── Reporters ──
	if kafka, ok := cfg.Reporters["kafka"]; ok {
		if cast.ToBool(kafka["enabled"]) {
			if len(cast.ToStringSlice(kafka["brokers"])) == 0 {
				return fmt.Errorf("%w: reporters.kafka.brokers is required when kafka is enabled", core.ErrConfigInvalid)
			}
			if cast.ToString(kafka["topic"]) == "" {
				return fmt.Errorf("%w: reporters.kafka.topic is required when kafka is enabled", core.ErrConfigInvalid)
			}
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}
