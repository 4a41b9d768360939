package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManualClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("now = %v, want %v", c.Now(), start)
	}
	c.Advance(time.Minute)
	if got := c.Now().Sub(start); got != time.Minute {
		t.Errorf("advanced %v, want 1m", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("set did not rewind the clock")
	}
}

func TestNewLoggerTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLogger("debug", path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Sugar().Infow("match_committed", "left", "0x01")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if rec["msg"] != "match_committed" || rec["left"] != "0x01" {
		t.Errorf("unexpected record: %v", rec)
	}
	if _, ok := rec["ts"]; !ok {
		t.Errorf("missing ts field: %v", rec)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	OrNop(nil).Infow("ignored")
}
