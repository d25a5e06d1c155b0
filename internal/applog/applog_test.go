package applog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogfAppendsTaggedLines(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, Bootstrap)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Logf("INIT", "joining with %d peers", 3)
	l.Logf("ERROR", "dial failed: %s", "timeout")

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], "INIT: joining with 3 peers") {
		t.Fatalf("line 0 = %q, missing expected tag/message", lines[0])
	}
	if !strings.Contains(lines[1], "ERROR: dial failed: timeout") {
		t.Fatalf("line 1 = %q, missing expected tag/message", lines[1])
	}
}

func TestOpenAppendsAcrossReopens(t *testing.T) {
	dir := t.TempDir()
	l1, err := Open(dir, Network)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l1.Logf("STATUS", "first")
	l1.Close()

	l2, err := Open(dir, Network)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	l2.Logf("STATUS", "second")

	data, err := os.ReadFile(filepath.Join(dir, "network.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Count(string(data), "STATUS") != 2 {
		t.Fatalf("expected both log lines preserved, got: %q", data)
	}
}

func TestOpenSetCreatesAllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	set, err := OpenSet(dir)
	if err != nil {
		t.Fatalf("OpenSet: %v", err)
	}
	defer set.Close()

	for _, name := range []string{"bootstrap.log", "network.log", "general.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
}
