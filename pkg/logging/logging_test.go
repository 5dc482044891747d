package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo}, // Default for unknown
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}

	for input, expected := range tests {
		if got := ParseLevel(input); got != expected {
			t.Errorf("ParseLevel(%q) = %s, expected %s", input, got, expected)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	if logger() == nil {
		t.Fatal("Expected defaultLogger to be set after InitForCLI")
	}

	Info("test-subsystem", "test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("Expected log message to appear in CLI output")
	}

	if !strings.Contains(output, "test-subsystem") {
		t.Error("Expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at INFO level")
	}

	if !strings.Contains(output, "info message") {
		t.Error("Info message should appear at INFO level")
	}
}

func TestErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Error("Refresh", errors.New("status 500"), "refresh of %s failed", "primary")

	output := buf.String()
	if !strings.Contains(output, "refresh of primary failed") {
		t.Errorf("expected formatted message, got %q", output)
	}
	if !strings.Contains(output, "error=\"status 500\"") {
		t.Errorf("expected error attribute, got %q", output)
	}
}

func TestInitForJSON(t *testing.T) {
	var buf bytes.Buffer
	InitForJSON(LevelInfo, &buf)

	Warn("Bridge", "ignored message from %s", "https://evil.example")

	output := buf.String()
	if !strings.Contains(output, `"subsystem":"Bridge"`) {
		t.Errorf("expected JSON subsystem attribute, got %q", output)
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit(AuditEvent{
		Action:  "revoke",
		Outcome: "success",
		Portal:  "https://www.arcgis.com/sharing/rest",
		Token:   TruncateToken("abcdefghijklmnop"),
	})

	output := buf.String()
	if !strings.Contains(output, "[AUDIT] revoke") {
		t.Errorf("expected audit prefix, got %q", output)
	}
	if strings.Contains(output, "abcdefghijklmnop") {
		t.Error("full token must not appear in audit output")
	}
	if !strings.Contains(output, "abcd...mnop") {
		t.Errorf("expected truncated token, got %q", output)
	}
}

func TestTruncateToken(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"short":            "****",
		"12345678":         "****",
		"0123456789abcdef": "0123...cdef",
	}
	for input, expected := range tests {
		if got := TruncateToken(input); got != expected {
			t.Errorf("TruncateToken(%q) = %q, expected %q", input, got, expected)
		}
	}
}
