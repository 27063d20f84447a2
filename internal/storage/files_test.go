package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2025, time.February, 20, 12, 0, 0, 0, time.UTC)
}

func TestJournalNoticesPersist(t *testing.T) {
	tmpDir := t.TempDir()

	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	j.now = fixedClock
	j.Notice("libera", "Connected")
	j.Notice("libera", "Disconnected")

	// file stores oldest first
	data, err := os.ReadFile(filepath.Join(tmpDir, logsFile))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "Connected") {
		t.Fatalf("unexpected logs file: %q", data)
	}
	if lines[0] != "[Thu Feb 20, 2025 12:00:00 GMT] [libera]: Connected" {
		t.Errorf("log entry format wrong: %q", lines[0])
	}

	reopened, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got := reopened.RecentNotices(10)
	if len(got) != 2 {
		t.Fatalf("Expected 2 notices, got %d", len(got))
	}
	if !strings.HasSuffix(got[0], "Disconnected") {
		t.Errorf("Newest notice should be first, got %q", got[0])
	}
}

func TestJournalRecordCommand(t *testing.T) {
	tmpDir := t.TempDir()

	j, err := Open(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	j.now = fixedClock
	j.RecordCommand("libera", "nod!n@host", "load echo")
	j.RecordCommand("libera", "nod!n@host", "echo hi")

	got := j.RecentCommands(1)
	want := "Thu Feb 20, 2025 at 12:00:00 GMT: [libera] nod!n@host -> echo hi"
	if len(got) != 1 || got[0] != want {
		t.Errorf("Expected [%q], got %q", want, got)
	}

	reopened, err := Open(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(reopened.RecentCommands(100)); n != 2 {
		t.Errorf("Expected 2 persisted commands, got %d", n)
	}
}

func TestAddLog(t *testing.T) {
	logs := []string{"old1", "old2"}
	logs = AddLog(logs, "new")

	if len(logs) != 3 {
		t.Errorf("Expected 3 logs, got %d", len(logs))
	}
	if logs[0] != "new" {
		t.Errorf("New log should be first, got %q", logs[0])
	}
}

func TestAddLogMaxEntries(t *testing.T) {
	logs := make([]string, maxEntries)
	for i := range logs {
		logs[i] = "entry"
	}

	logs = AddLog(logs, "new")

	if len(logs) != maxEntries {
		t.Errorf("Expected %d logs (max), got %d", maxEntries, len(logs))
	}
	if logs[0] != "new" {
		t.Errorf("New log should be first")
	}
}

func TestAddStatMaxEntries(t *testing.T) {
	var stats []string
	for i := 0; i < maxEntries+10; i++ {
		stats = AddStat(stats, "entry")
	}
	stats = AddStat(stats, "last")

	if len(stats) != maxEntries {
		t.Errorf("Expected %d stats, got %d", maxEntries, len(stats))
	}
	if stats[len(stats)-1] != "last" {
		t.Errorf("Newest stat should be last")
	}
}

func TestOpenEmptyDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open should create missing dirs: %v", err)
	}
	if n := len(j.RecentNotices(10)); n != 0 {
		t.Errorf("Expected no notices, got %d", n)
	}
}
