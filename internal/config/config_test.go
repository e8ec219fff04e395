package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/buffwatch/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
buffwatch:
  capture:
    engine: "pcap"
    device: "1"
    bpf_filter: "tcp port 30031"
  reassembly:
    fragment_timeout: "20s"
    max_pending_bytes: 1048576
  tracker:
    cooldowns:
      "2205391": "30s"
      "1001": "1.5s"
  reporters:
    kafka:
      enabled: true
      brokers:
        - "localhost:9092"
      topic: "buff-events"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Device != "1" {
		t.Errorf("Expected device 1, got %s", cfg.Capture.Device)
	}
	if cfg.Capture.BPFFilter != "tcp port 30031" {
		t.Errorf("Expected custom BPF filter, got %s", cfg.Capture.BPFFilter)
	}
	if cfg.Reassembly.FragmentTimeout != 20*time.Second {
		t.Errorf("Expected fragment timeout 20s, got %s", cfg.Reassembly.FragmentTimeout)
	}
	if cfg.Reassembly.MaxPendingBytes != 1<<20 {
		t.Errorf("Expected max pending bytes 1MiB, got %d", cfg.Reassembly.MaxPendingBytes)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Expected debug/json logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Errorf("Expected metrics listen 127.0.0.1:9100, got %s", cfg.Metrics.Listen)
	}

	cooldowns, err := cfg.Tracker.CooldownTable()
	if err != nil {
		t.Fatalf("CooldownTable failed: %v", err)
	}
	if cooldowns[2205391] != 30*time.Second {
		t.Errorf("Expected 30s cooldown for 2205391, got %s", cooldowns[2205391])
	}
	if cooldowns[1001] != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s cooldown for 1001, got %s", cooldowns[1001])
	}

	reporters := cfg.EnabledReporters()
	if len(reporters) != 2 {
		t.Fatalf("Expected console and kafka reporters, got %v", reporters)
	}
	if reporters[0].Name != "console" || reporters[1].Name != "kafka" {
		t.Errorf("Expected sorted [console kafka], got %s, %s", reporters[0].Name, reporters[1].Name)
	}
	if reporters[1].Config["topic"] != "buff-events" {
		t.Errorf("Expected kafka topic buff-events, got %v", reporters[1].Config["topic"])
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
buffwatch:
  log:
    level: "verbose"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid log level")
	}
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadInvalidLogFormat(t *testing.T) {
	configPath := writeConfig(t, `
buffwatch:
  log:
    format: "xml"
`)

	if _, err := Load(configPath); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for invalid log format, got %v", err)
	}
}

func TestLoadInvalidEngine(t *testing.T) {
	configPath := writeConfig(t, `
buffwatch:
  capture:
    engine: "xdp"
`)

	if _, err := Load(configPath); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for unsupported engine, got %v", err)
	}
}

func TestLoadMissingKafkaBrokers(t *testing.T) {
	configPath := writeConfig(t, `
buffwatch:
  reporters:
    kafka:
      enabled: true
      topic: "buff-events"
`)

	if _, err := Load(configPath); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for missing kafka brokers, got %v", err)
	}
}

func TestLoadInvalidCooldown(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"non-numeric id", `
buffwatch:
  tracker:
    cooldowns:
      "heal": "30s"
`},
		{"zero duration", `
buffwatch:
  tracker:
    cooldowns:
      "42": "0s"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
buffwatch:
  log:
    level: "info"
`)

	t.Setenv("BUFFWATCH_LOG_LEVEL", "debug")
	t.Setenv("BUFFWATCH_CAPTURE_DEVICE", "eth0")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
	if cfg.Capture.Device != "eth0" {
		t.Errorf("Expected device eth0 from env var, got %s", cfg.Capture.Device)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Capture.Engine != "pcap" {
		t.Errorf("Expected default engine pcap, got %s", cfg.Capture.Engine)
	}
	if cfg.Capture.BPFFilter != "ip and tcp" {
		t.Errorf("Expected default BPF filter, got %s", cfg.Capture.BPFFilter)
	}
	if cfg.Capture.SnapLen != 65535 {
		t.Errorf("Expected default snap_len 65535, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Pipeline.QueueCapacity != 65536 {
		t.Errorf("Expected default queue capacity 65536, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Reassembly.FragmentTimeout != 15*time.Second {
		t.Errorf("Expected default fragment timeout 15s, got %s", cfg.Reassembly.FragmentTimeout)
	}
	if cfg.Reassembly.StreamDesyncTimeout != 15*time.Second {
		t.Errorf("Expected default desync timeout 15s, got %s", cfg.Reassembly.StreamDesyncTimeout)
	}
	if cfg.Reassembly.MaxFragments != 128 {
		t.Errorf("Expected default max fragments 128, got %d", cfg.Reassembly.MaxFragments)
	}
	if cfg.Reassembly.StreamIdleTimeout != 2*time.Minute {
		t.Errorf("Expected default idle timeout 2m, got %s", cfg.Reassembly.StreamIdleTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Expected default info/text logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Listen != ":9092" {
		t.Errorf("Expected default metrics listen :9092, got %s", cfg.Metrics.Listen)
	}

	reporters := cfg.EnabledReporters()
	if len(reporters) != 1 || reporters[0].Name != "console" {
		t.Errorf("Expected only console reporter by default, got %v", reporters)
	}
}

func TestCapturePluginConfig(t *testing.T) {
	c := CaptureConfig{Device: "wlan", BPFFilter: "tcp", SnapLen: 1500, BufferSizeMB: 4, Promiscuous: true, FanoutID: 7, FanoutType: "hash"}
	m := c.PluginConfig()

	if m["device"] != "wlan" || m["bpf_filter"] != "tcp" {
		t.Errorf("Unexpected plugin config: %v", m)
	}
	if m["snap_len"] != 1500 || m["buffer_size_mb"] != 4 || m["promiscuous"] != true {
		t.Errorf("Unexpected plugin config: %v", m)
	}
	if m["fanout_id"] != 7 || m["fanout_type"] != "hash" {
		t.Errorf("Unexpected fanout config: %v", m)
	}
}
