// Package console prints buff events to stdout, either as pattern-formatted
// log lines or as one JSON object per line.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"firestige.xyz/buffwatch/internal/buff"
	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/log"
	"firestige.xyz/buffwatch/pkg/plugin"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// ConsoleReporter writes each event as it arrives.
type ConsoleReporter struct {
	out     io.Writer
	config  Config
	logger  *logrus.Logger
	printed atomic.Uint64
}

// Config selects the output format. Pattern settings apply to text output.
type Config struct {
	Format            string `mapstructure:"format"`
	log.PatternConfig `mapstructure:",squash"`
}

// NewConsoleReporter returns a reporter writing to stdout.
func NewConsoleReporter() plugin.Reporter {
	return &ConsoleReporter{out: os.Stdout}
}

func (r *ConsoleReporter) Name() string { return "console" }

func (r *ConsoleReporter) Init(config map[string]any) error {
	r.config = Config{Format: formatText}
	if err := plugin.DecodeConfig(config, &r.config); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	switch r.config.Format {
	case formatText:
		r.logger = log.NewPatternLogger(r.config.PatternConfig, r.out)
	case formatJSON:
	default:
		return fmt.Errorf("console: %w: format %q is not text or json", core.ErrConfigInvalid, r.config.Format)
	}
	return nil
}

func (r *ConsoleReporter) Start(ctx context.Context) error {
	slog.Debug("console reporter ready", "format", r.config.Format)
	return nil
}

func (r *ConsoleReporter) Stop(ctx context.Context) error {
	slog.Debug("console reporter done", "printed", r.printed.Load())
	return nil
}

// Report prints one event.
func (r *ConsoleReporter) Report(ctx context.Context, evt *core.BuffEvent) error {
	if evt == nil {
		return fmt.Errorf("console: nil event")
	}
	r.printed.Add(1)
	if r.config.Format == formatJSON {
		return r.writeJSON(evt)
	}
	r.writeText(evt)
	return nil
}

func (r *ConsoleReporter) writeJSON(evt *core.BuffEvent) error {
	if err := json.NewEncoder(r.out).Encode(evt); err != nil {
		return fmt.Errorf("console: encode event: %w", err)
	}
	return nil
}

func (r *ConsoleReporter) writeText(evt *core.BuffEvent) {
	fields := logrus.Fields{}
	if evt.EntityUUID != 0 {
		fields["uuid"] = evt.EntityUUID
	}
	if evt.MethodID != 0 {
		fields["method"] = fmt.Sprintf("0x%x", evt.MethodID)
	}
	entry := r.logger.WithFields(fields)
	if !evt.Timestamp.IsZero() {
		entry = entry.WithTime(evt.Timestamp)
	}
	entry.Info(buff.FormatEvent(evt))
}

func (r *ConsoleReporter) Flush(ctx context.Context) error { return nil }
