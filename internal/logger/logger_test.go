package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

var day = time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]any
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("line %q is not json: %v", sc.Text(), err)
		}
		out = append(out, line)
	}
	return out
}

func TestNew_WritesDailyJSONFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = filepath.Join(t.TempDir(), "logs")

	log, c, err := newLogger(cfg, nil, day)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debugw("hidden", "k", 1)
	log.Infow("import finished", "import_id", 7)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, filepath.Join(cfg.Dir, "2024-05-17.log"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(lines), lines)
	}
	got := lines[0]
	if got["msg"] != "import finished" || got["level"] != "info" || got["import_id"] != float64(7) {
		t.Errorf("unexpected entry %v", got)
	}
	if _, ok := got["ts"]; !ok {
		t.Error("expected a timestamp")
	}
}

func TestNew_DebugLevelAndConsole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Level = "debug"
	cfg.Console = true

	var console bytes.Buffer
	log, c, err := newLogger(cfg, zapcore.AddSync(&console), day)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debugw("reserved job", "kind", "import.process")
	_ = c.Close()

	if lines := readLines(t, filepath.Join(cfg.Dir, "2024-05-17.log")); len(lines) != 1 {
		t.Errorf("expected debug entry in file, got %v", lines)
	}
	if !strings.Contains(console.String(), "reserved job") {
		t.Errorf("expected console copy, got %q", console.String())
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Level = "loud"
	if _, _, err := newLogger(cfg, nil, day); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
