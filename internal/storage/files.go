// Package storage keeps the bot's flat-file journal under the data directory:
// stats.txt holds the command audit trail (oldest first) and logs.txt holds
// connection notices (kicks, disconnects, desyncs).
package storage

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	maxEntries = 500

	statsFile = "stats.txt"
	logsFile  = "logs.txt"
)

// Journal is safe for concurrent use. Every record is written through to
// disk; a failed write is logged and the in-memory copy is kept.
type Journal struct {
	dir string
	log *slog.Logger
	now func() time.Time

	mu    sync.Mutex
	stats []string // oldest first
	logs  []string // newest first
}

// Open loads an existing journal from dataDir, creating the directory if
// needed.
func Open(dataDir string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	stats, err := loadLines(filepath.Join(dataDir, statsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", statsFile, err)
	}
	logs, err := loadLines(filepath.Join(dataDir, logsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", logsFile, err)
	}
	return &Journal{
		dir:   dataDir,
		log:   slog.Default().With(slog.String("component", "storage")),
		now:   time.Now,
		stats: trimOldest(stats),
		logs:  trimOldest(reverse(logs)),
	}, nil
}

// RecordCommand appends one audit entry for a dispatched command.
func (j *Journal) RecordCommand(server, hostmask, command string) {
	timestamp := j.now().UTC().Format("Mon Jan 02, 2006 at 15:04:05 GMT")
	entry := fmt.Sprintf("%s: [%s] %s -> %s", timestamp, server, hostmask, command)

	j.mu.Lock()
	j.stats = AddStat(j.stats, entry)
	stats := append([]string(nil), j.stats...)
	j.mu.Unlock()

	if err := writeLines(filepath.Join(j.dir, statsFile), stats); err != nil {
		j.log.Error("saving stats failed", "err", err)
	}
}

// Notice records a connection notice.
func (j *Journal) Notice(server, text string) {
	timestamp := j.now().UTC().Format("Mon Jan 02, 2006 15:04:05 GMT")
	entry := fmt.Sprintf("[%s] [%s]: %s", timestamp, server, text)

	j.mu.Lock()
	j.logs = AddLog(j.logs, entry)
	logs := reverse(j.logs)
	j.mu.Unlock()

	// the file stores oldest first
	if err := writeLines(filepath.Join(j.dir, logsFile), logs); err != nil {
		j.log.Error("saving logs failed", "err", err)
	}
}

// RecentNotices returns up to n notices, newest first.
func (j *Journal) RecentNotices(n int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	n = min(max(n, 0), len(j.logs))
	return append([]string(nil), j.logs[:n]...)
}

// RecentCommands returns up to n audit entries, newest last.
func (j *Journal) RecentCommands(n int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	n = min(max(n, 0), len(j.stats))
	return append([]string(nil), j.stats[len(j.stats)-n:]...)
}

// AddLog prepends entry, keeping newest first and dropping the oldest past
// the cap.
func AddLog(logs []string, entry string) []string {
	logs = append([]string{entry}, logs...)
	if len(logs) > maxEntries {
		logs = logs[:maxEntries]
	}
	return logs
}

// AddStat appends entry, dropping the oldest past the cap.
func AddStat(stats []string, entry string) []string {
	stats = append(stats, entry)
	if len(stats) > maxEntries {
		stats = stats[len(stats)-maxEntries:]
	}
	return stats
}

func trimOldest(lines []string) []string {
	if len(lines) > maxEntries {
		return lines[len(lines)-maxEntries:]
	}
	return lines
}

func loadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func reverse(s []string) []string {
	result := make([]string, len(s))
	for i, v := range s {
		result[len(s)-1-i] = v
	}
	return result
}
