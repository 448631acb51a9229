package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		note  string
		level Level
		want  int
	}{
		{note: "error only", level: LevelError, want: 1},
		{note: "warn and up", level: LevelWarn, want: 2},
		{note: "info and up", level: LevelInfo, want: 3},
		{note: "everything", level: LevelDebug, want: 4},
	}
	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewLogger(Config{Level: tc.level, Format: FormatJSON, Output: &buf})
			log.Debugf("d")
			log.Infof("i")
			log.Warnf("w")
			log.Errorf("e")
			if got := len(jsonLines(t, &buf)); got != tc.want {
				t.Fatalf("expected %d lines, got %d:\n%s", tc.want, got, buf.String())
			}
		})
	}
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})
	log.WithField("pkg", "zlib").Infof("building")

	lines := jsonLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if lines[0]["pkg"] != "zlib" {
		t.Fatalf("expected pkg field, got %v", lines[0])
	}
	if lines[0]["msg"] != "building" {
		t.Fatalf("expected msg field, got %v", lines[0])
	}
}

func TestEventLogFields(t *testing.T) {
	var buf bytes.Buffer
	ev := NewEventLog(&buf, "zlib", "1700000000-zlib-deadbeef")
	ev.Emit("fetch").Str("sha256", "cafe").Msg("")
	ev.Fail("build", 2, errors.New("make: boom"))

	lines := jsonLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected two events, got %d", len(lines))
	}

	fetch := lines[0]
	for _, key := range []string{"ts", "pkg", "job", "phase"} {
		if _, ok := fetch[key]; !ok {
			t.Fatalf("fetch event missing %q: %v", key, fetch)
		}
	}
	if fetch["phase"] != "fetch" || fetch["sha256"] != "cafe" {
		t.Fatalf("unexpected fetch event: %v", fetch)
	}
	if _, ok := fetch["msg"]; ok {
		t.Fatalf("empty message should be omitted: %v", fetch)
	}

	fail := lines[1]
	if fail["level"] != "error" || fail["phase"] != "build" {
		t.Fatalf("unexpected failure event: %v", fail)
	}
	if fail["rc"] != float64(2) {
		t.Fatalf("expected rc=2, got %v", fail["rc"])
	}
	if fail["msg"] != "make: boom" {
		t.Fatalf("expected error message, got %v", fail["msg"])
	}
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}
