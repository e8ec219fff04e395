package log

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Default pattern logger settings.
const (
	DefaultPattern    = "%time [%level] %msg"
	DefaultTimeLayout = "15:04:05.000"
)

// PatternConfig configures a pattern logger.
type PatternConfig struct {
	Pattern string `mapstructure:"pattern"` // placeholders: %time %level %msg %field %caller
	Time    string `mapstructure:"time"`    // Go time layout for %time
	Level   string `mapstructure:"level"`
}

// patternFormatter renders one entry per line by placeholder substitution.
type patternFormatter struct {
	pattern string
	time    string
}

// Format implements logrus.Formatter.
func (f *patternFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	output := f.pattern
	output = strings.Replace(output, "%time", entry.Time.Format(f.time), 1)
	output = strings.Replace(output, "%level", strings.ToUpper(entry.Level.String()), 1)
	output = strings.Replace(output, "%field", buildFields(entry), 1)
	output = strings.Replace(output, "%caller", caller(entry), 1)
	// %msg last so a message containing a placeholder is left untouched
	output = strings.Replace(output, "%msg", entry.Message, 1)
	return []byte(strings.TrimRight(output, " ") + "\n"), nil
}

// caller renders "file.go:line" when caller reporting is on.
func caller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "-"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
}

// buildFields renders entry fields as sorted key=value pairs.
func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, k+"="+fmt.Sprint(entry.Data[k]))
	}
	return strings.Join(fields, " ")
}

// NewPatternLogger creates a logrus logger writing pattern-formatted lines to w.
// Empty config fields fall back to the defaults; an unknown level means info.
func NewPatternLogger(cfg PatternConfig, w io.Writer) *logrus.Logger {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Time == "" {
		cfg.Time = DefaultTimeLayout
	}

	l := logrus.New()
	l.SetFormatter(&patternFormatter{
		pattern: cfg.Pattern,
		time:    cfg.Time,
	})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetReportCaller(strings.Contains(cfg.Pattern, "%caller"))
	l.SetOutput(w)
	return l
}
