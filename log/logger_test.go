package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithLevel(NodeMeta{Node: "stream", Hostname: "edge-01", SessionID: "s-1"}, &buf, zapcore.DebugLevel)

	l.Info("frame published", map[string]any{"stage": "publish"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["node"] != "stream" {
		t.Errorf("node = %v, want stream", entry["node"])
	}
	if entry["hostname"] != "edge-01" {
		t.Errorf("hostname = %v, want edge-01", entry["hostname"])
	}
	if entry["session_id"] != "s-1" {
		t.Errorf("session_id = %v, want s-1", entry["session_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["stage"] != "publish" {
		t.Errorf("fields = %v, want stage=publish", entry["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithLevel(NodeMeta{Node: "serve"}, &buf, zapcore.WarnLevel)

	l.Info("dropped", nil)
	if buf.Len() != 0 {
		t.Fatalf("info entry written at warn level: %s", buf.String())
	}

	l.SetLevel(zapcore.DebugLevel)
	l.Debug("kept", nil)
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("debug entry missing after SetLevel: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"chatty", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
