package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Messages below the level leaked through: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("Messages at or above the level missing: %q", out)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelError))

	logger.Info("before")
	logger.SetLevel(LevelDebug)
	logger.Info("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Errorf("Expected message below level to be dropped: %q", out)
	}
	if !strings.Contains(out, "after") {
		t.Errorf("Expected message after SetLevel: %q", out)
	}
}

func TestFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	logger.Info("shift of %d bytes took %s", 1024, "2s")
	if !strings.Contains(buf.String(), "shift of 1024 bytes took 2s") {
		t.Errorf("Expected formatted message, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Errorf("Expected level tag, got %q", buf.String())
	}
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	base := NewStandardLogger(WithOutput(&buf))

	derived := base.WithField("table", "users.sorted").WithField("offset", 42)
	derived.Info("hint discarded")

	out := buf.String()
	if !strings.Contains(out, "table=users.sorted") || !strings.Contains(out, "offset=42") {
		t.Errorf("Expected both fields in output, got %q", out)
	}

	// The base logger is unaffected.
	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "table=") {
		t.Errorf("Field leaked into the base logger: %q", buf.String())
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Expected %q for level %d, got %q", want, level, got)
		}
	}
}
