package kibo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// HistoryEntry records one SAVE/LOAD/RM/PRUNE invocation, grounded
// field-for-field on original_source/src/history.rs's HistoryEntry.
type HistoryEntry struct {
	Timestamp string   `json:"timestamp"`
	Command   string   `json:"command"`
	Snapshot  string   `json:"snapshot,omitempty"`
	Flags     []string `json:"flags,omitempty"`
}

// NewHistoryEntry stamps a new entry at now.
func NewHistoryEntry(now time.Time, command, snapshot string, flags []string) HistoryEntry {
	return HistoryEntry{
		Timestamp: now.UTC().Format(time.RFC3339),
		Command:   strings.ToUpper(command),
		Snapshot:  snapshot,
		Flags:     flags,
	}
}

// ToLine formats the entry as the space-separated line the log file
// stores, matching history.rs's HistoryEntry::to_line.
func (e HistoryEntry) ToLine() string {
	parts := []string{e.Timestamp, e.Command}
	if e.Snapshot != "" {
		parts = append(parts, e.Snapshot)
	}
	parts = append(parts, e.Flags...)
	return strings.Join(parts, " ")
}

// ParseHistoryLine parses a line written by ToLine, matching history.rs's
// HistoryEntry::from_line.
func ParseHistoryLine(line string) (HistoryEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return HistoryEntry{}, false
	}
	e := HistoryEntry{Timestamp: fields[0], Command: fields[1]}
	rest := fields[2:]
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		e.Snapshot = rest[0]
		rest = rest[1:]
	}
	e.Flags = rest
	return e, true
}

// Display formats the entry for human-readable `history` output.
func (e HistoryEntry) Display() string {
	snap := e.Snapshot
	line := fmt.Sprintf("%s %-8s %-20s", e.Timestamp, e.Command, snap)
	if len(e.Flags) > 0 {
		line += " " + strings.Join(e.Flags, " ")
	}
	return line
}

// LogEntry appends entry to root/.kibo/history.log. Failure to write is a
// warning, not an error -- the audit log is diagnostic, never load-bearing
// for correctness, matching history.rs's log_entry (which itself only
// eprintln!s on failure). Grounded on the teacher's plain append-mode
// os.OpenFile idiom (db/file.go's WORM-append discipline, generalized
// here to a non-content-addressed text log).
func LogEntry(root string, entry HistoryEntry) {
	path := historyLogPath(root)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Warnf("could not open history log %s: %v", path, err)
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, entry.ToLine()); err != nil {
		log.Warnf("could not write history log %s: %v", path, err)
	}
}

// ReadHistory reads all entries from root/.kibo/history.log, skipping
// unparseable lines.
func ReadHistory(root string) (entries []HistoryEntry, err error) {
	defer Return(&err)

	path := historyLogPath(root)
	f, openErr := os.Open(path)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return nil, nil
		}
		return nil, Wrap(KindIoError, path, openErr)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if e, ok := ParseHistoryLine(scanner.Text()); ok {
			entries = append(entries, e)
		}
	}
	Ck(scanner.Err())
	return
}

// HistoryEntriesJSON renders entries as a JSON array for `history --json`.
func HistoryEntriesJSON(entries []HistoryEntry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
