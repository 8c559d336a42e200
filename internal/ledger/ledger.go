// Package ledger tracks per-unit pipeline progress in a durable,
// line-oriented file. One row per unit: unitID,segmented,synthesized
// with 0/1 flags. Rows are appended when a unit first appears and
// rewritten in place as it advances; they are never deleted.
package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Entry is one unit's completion state.
type Entry struct {
	UnitID      string
	Segmented   bool
	Synthesized bool
}

type Ledger struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex
}

func Open(path string, log *slog.Logger) *Ledger {
	return &Ledger{
		path: path,
		log:  log.With(slog.String("component", "ledger")),
	}
}

// ReadAll returns every entry in file order. A missing file reads as an
// empty ledger. Malformed rows are skipped with a diagnostic.
func (l *Ledger) ReadAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

func (l *Ledger) readLocked() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var entries []Entry
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, err := decodeRow(line)
		if err != nil {
			l.log.Warn("skipping malformed ledger row",
				slog.Int("line", i+1),
				slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeRow(line string) (Entry, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Entry{}, fmt.Errorf("expected 3 comma-separated fields, got %d", len(fields))
	}
	segmented, err := decodeFlag(fields[1])
	if err != nil {
		return Entry{}, err
	}
	synthesized, err := decodeFlag(fields[2])
	if err != nil {
		return Entry{}, err
	}
	return Entry{UnitID: fields[0], Segmented: segmented, Synthesized: synthesized}, nil
}

func decodeFlag(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("flag must be 0 or 1, got %q", s)
	}
}

func encodeRow(e Entry) string {
	return fmt.Sprintf("%s,%s,%s", e.UnitID, encodeFlag(e.Segmented), encodeFlag(e.Synthesized))
}

func encodeFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// EnsureUnits appends a pending row for every unit not yet tracked.
// Known units are left untouched.
func (l *Ledger) EnsureUnits(unitIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.UnitID] = true
	}

	changed := false
	for _, id := range unitIDs {
		if !known[id] {
			entries = append(entries, Entry{UnitID: id})
			known[id] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.writeLocked(entries)
}

// PickNext scans entries in file order and returns the first that is
// segmented but not yet synthesized, optionally restricted to one unit
// id. Units listed in skip are passed over, which lets a scheduler
// calling in a retry loop move past a unit that already failed this run
// instead of being handed it again. ok=false means no eligible unit
// exists, the pipeline's normal all-caught-up condition.
func (l *Ledger) PickNext(filterID string, skip ...string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return Entry{}, false, err
	}
	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}
	for _, e := range entries {
		if filterID != "" && e.UnitID != filterID {
			continue
		}
		if skipped[e.UnitID] {
			continue
		}
		if e.Segmented && !e.Synthesized {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// MarkSegmented rewrites the unit's row with segmented=1.
func (l *Ledger) MarkSegmented(unitID string) error {
	return l.update(unitID, func(e *Entry) { e.Segmented = true })
}

// MarkSynthesized rewrites the unit's row with synthesized=1. Callers
// must only invoke this after delivery has succeeded.
func (l *Ledger) MarkSynthesized(unitID string) error {
	return l.update(unitID, func(e *Entry) { e.Synthesized = true })
}

func (l *Ledger) update(unitID string, mutate func(*Entry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].UnitID == unitID {
			mutate(&entries[i])
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("ledger has no row for unit %q", unitID)
	}
	return l.writeLocked(entries)
}

// writeLocked rewrites the whole file through a temp file and rename so
// an interrupted process never leaves a torn ledger.
func (l *Ledger) writeLocked(entries []Entry) error {
	dir := filepath.Dir(l.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(encodeRow(e))
		b.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
