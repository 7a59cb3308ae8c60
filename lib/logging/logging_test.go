// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", test.name, err)
		}
		if got != test.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", test.name, got, test.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestNewAutoUsesJSONWhenNotTerminal(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&output, "info", "auto")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("session started", "frames", 3)

	var record map[string]any
	if err := json.Unmarshal(output.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, output.String())
	}
	if record["msg"] != "session started" || record["frames"] != float64(3) {
		t.Errorf("record = %v", record)
	}
}

func TestNewTextAndLevelFilter(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&output, "warn", "text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("dropped events", "dropped", 7)

	text := output.String()
	if strings.Contains(text, "hidden") {
		t.Errorf("info record passed a warn filter: %q", text)
	}
	if !strings.Contains(text, "msg=\"dropped events\"") || !strings.Contains(text, "dropped=7") {
		t.Errorf("text output = %q", text)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("New accepted an unknown format")
	}
}
