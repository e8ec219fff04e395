package log

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestPatternFormatter(t *testing.T) {
	f := &patternFormatter{pattern: "%time [%level] %msg %field", time: "15:04:05"}
	entry := &logrus.Entry{
		Time:    time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "[BUFF] slot=73 owner=5 buffId=2205391 stack=1 dur=30000",
		Data:    logrus.Fields{"uuid": 99, "method": "0x2e"},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	want := "12:30:45 [INFO] [BUFF] slot=73 owner=5 buffId=2205391 stack=1 dur=30000 method=0x2e uuid=99\n"
	if string(out) != want {
		t.Errorf("Format = %q, want %q", out, want)
	}
}

func TestPatternFormatterNoFields(t *testing.T) {
	f := &patternFormatter{pattern: "[%level] %msg %field", time: DefaultTimeLayout}
	out, err := f.Format(&logrus.Entry{Level: logrus.WarnLevel, Message: "hello %time"})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if string(out) != "[WARNING] hello %time\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNewPatternLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	l := NewPatternLogger(PatternConfig{Level: "bogus"}, &buf)

	if l.GetLevel() != logrus.InfoLevel {
		t.Errorf("Expected info level for unknown level, got %s", l.GetLevel())
	}

	l.Debug("hidden")
	l.Info("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Error("Debug line should be filtered at info level")
	}
	if !strings.Contains(output, "[INFO] shown") {
		t.Errorf("Expected default pattern output, got %q", output)
	}
}

func TestNewPatternLoggerCaller(t *testing.T) {
	var buf bytes.Buffer
	l := NewPatternLogger(PatternConfig{Pattern: "%caller %msg", Level: "debug"}, &buf)

	l.Debug("here")

	if !strings.HasPrefix(buf.String(), "pattern_test.go:") {
		t.Errorf("Expected caller prefix, got %q", buf.String())
	}
}
