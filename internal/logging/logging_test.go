package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Config{Format: "json"}, &buf), "gas")
	logger.Info().Str("wallet", "0xabc").Msg("waiting")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry["component"] != "gas" || entry["wallet"] != "0xabc" || entry["message"] != "waiting" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("timestamp missing")
	}
}

func TestNewConsoleNoColor(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "console", NoColor: true}, &buf)
	logger.Warn().Msg("slow rpc")
	out := buf.String()
	if !strings.Contains(out, "slow rpc") || strings.Contains(out, "\x1b[") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestNewLoggerFileOutputAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, closer, err := NewLogger(Config{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}
	logger.Info().Msg("dropped")
	logger.Error().Msg("kept")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "dropped") || !strings.Contains(string(raw), "kept") {
		t.Fatalf("unexpected log file %q", raw)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger, closer, err := NewLogger(Config{Level: "bogus"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer closer.Close()
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}
}
