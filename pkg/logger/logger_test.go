package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := NewLogger(&Config{Level: level, Format: JSONFormat, Output: StdoutOutput, Writer: buf})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	return l, buf
}

func TestDerivedLoggersKeepFields(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)

	l.WithComponent("import_manager").WithField("import_id", "imp-1").Info("confirmed")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if record["component"] != "import_manager" {
		t.Errorf("expected component field, got %v", record["component"])
	}
	if record["import_id"] != "imp-1" {
		t.Errorf("expected import_id field, got %v", record["import_id"])
	}
	if record["msg"] != "confirmed" {
		t.Errorf("expected msg 'confirmed', got %v", record["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, WarnLevel)

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}

	l.WithError(errors.New("boom")).Warn("shown")
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected error field in output, got %q", buf.String())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"bad level", Config{Level: "verbose", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBatchTracker(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)

	tracker := NewBatchTracker("confirm", 3, l)
	tracker.Succeeded()
	tracker.Failed("L0002", errors.New("store down"))
	tracker.Succeeded()

	stats := tracker.Complete()
	if stats.Succeeded != 2 || stats.Failed != 1 || stats.Total != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !strings.Contains(buf.String(), "L0002") {
		t.Errorf("expected failed item to be logged, got %q", buf.String())
	}
	if !strings.Contains(stats.String(), "2/3 succeeded") {
		t.Errorf("unexpected stats string %q", stats.String())
	}
}
