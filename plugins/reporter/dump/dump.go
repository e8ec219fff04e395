// Package dump implements a debug reporter that writes every raw buff
// event-list payload to its own file, for later replay.
package dump

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/pkg/plugin"
)

const (
	pluginName = "dump"
	defaultDir = "dumps"
)

// Config represents dump reporter configuration.
type Config struct {
	Dir string `mapstructure:"dir"`
}

// DumpReporter writes payloads to <dir>/dump_buff_<unixms>.bin.
type DumpReporter struct {
	config Config

	lastName string
	seq      int

	written atomic.Uint64
	errors  atomic.Uint64
}

// NewDumpReporter creates a new dump reporter.
func NewDumpReporter() plugin.Reporter {
	return &DumpReporter{}
}

// Name returns the plugin name.
func (r *DumpReporter) Name() string {
	return pluginName
}

// Init initializes the reporter with configuration.
func (r *DumpReporter) Init(config map[string]any) error {
	r.config = Config{Dir: defaultDir}
	if err := plugin.DecodeConfig(config, &r.config); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if r.config.Dir == "" {
		r.config.Dir = defaultDir
	}
	return nil
}

// Start creates the dump directory.
func (r *DumpReporter) Start(ctx context.Context) error {
	if err := os.MkdirAll(r.config.Dir, 0o755); err != nil {
		return fmt.Errorf("dump: create %s: %w", r.config.Dir, err)
	}
	slog.Info("dump reporter started", "dir", r.config.Dir)
	return nil
}

// Stop stops the reporter.
func (r *DumpReporter) Stop(ctx context.Context) error {
	slog.Info("dump reporter stopped", "written", r.written.Load(), "errors", r.errors.Load())
	return nil
}

// Report ignores decoded events; only raw payloads are dumped.
func (r *DumpReporter) Report(ctx context.Context, evt *core.BuffEvent) error {
	return nil
}

// ReportPayload writes p.Data to a new file named after the payload time.
func (r *DumpReporter) ReportPayload(ctx context.Context, p *core.BuffPayload) error {
	if p == nil || len(p.Data) == 0 {
		return nil
	}

	path := filepath.Join(r.config.Dir, r.fileName(p))
	if err := os.WriteFile(path, p.Data, 0o644); err != nil {
		r.errors.Add(1)
		return fmt.Errorf("dump: write %s: %w", path, err)
	}
	r.written.Add(1)
	slog.Debug("buff payload dumped", "path", path, "len", len(p.Data), "uuid", p.EntityUUID)
	return nil
}

// fileName returns dump_buff_<unixms>.bin, adding a _<n> suffix when several
// payloads share a millisecond. Called only from the pipeline consumer.
func (r *DumpReporter) fileName(p *core.BuffPayload) string {
	name := fmt.Sprintf("dump_buff_%d", p.Timestamp.UnixMilli())
	if name == r.lastName {
		r.seq++
		return fmt.Sprintf("%s_%d.bin", name, r.seq)
	}
	r.lastName, r.seq = name, 0
	return name + ".bin"
}

// Flush is a no-op; every payload is written synchronously.
func (r *DumpReporter) Flush(ctx context.Context) error {
	return nil
}
