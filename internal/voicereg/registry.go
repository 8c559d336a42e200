// Package voicereg persists the speaker-to-voice mapping that keeps a
// character sounding the same across chapters and across process runs.
package voicereg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/transcript"
	_ "modernc.org/sqlite"
)

// Assignment is one stored speaker-to-voice row.
type Assignment struct {
	Speaker      string
	Gender       string
	VoiceProfile string
	CreatedAt    time.Time
}

// Registry resolves speakers to voice profiles backed by SQLite. Existing
// assignments are never overwritten; new speakers are inserted with an
// insert-if-absent so concurrent resolvers converge on the first writer.
type Registry struct {
	db   *sql.DB
	cfg  config.VoicesConfig
	log  *slog.Logger
	mu   sync.Mutex
	pick func(n int) int
}

// Open initializes the registry store, creating the schema if needed.
func Open(ctx context.Context, cfg config.VoicesConfig, log *slog.Logger) (*Registry, error) {
	dir := filepath.Dir(cfg.RegistryPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.RegistryPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &Registry{
		db:   db,
		cfg:  cfg,
		log:  log.With(slog.String("component", "voice-registry")),
		pick: rand.Intn,
	}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voice_assignments (
    speaker TEXT PRIMARY KEY,
    gender TEXT,
    voice_profile TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Resolve returns the voice profile for a speaker, assigning one if the
// speaker has not been seen before. A stored assignment always wins, so
// the same speaker sounds the same for the lifetime of the registry.
func (r *Registry) Resolve(ctx context.Context, speaker, gender string) (string, error) {
	if stored, err := r.lookup(ctx, speaker); err != nil {
		return "", err
	} else if stored != "" {
		return stored, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: another resolver may have won the race.
	if stored, err := r.lookup(ctx, speaker); err != nil {
		return "", err
	} else if stored != "" {
		return stored, nil
	}

	profile, err := r.choose(ctx, speaker, gender)
	if err != nil {
		return "", err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO voice_assignments(speaker, gender, voice_profile, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(speaker) DO NOTHING`,
		speaker, transcript.NormalizeGender(gender), profile, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert assignment: %w", err)
	}

	stored, err := r.lookup(ctx, speaker)
	if err != nil {
		return "", err
	}
	if stored == "" {
		return "", fmt.Errorf("assignment for %q missing after insert", speaker)
	}
	if stored != profile {
		// First writer wins; keep the stored row.
		r.log.Warn("voice assignment race detected, keeping stored profile",
			slog.String("speaker", speaker),
			slog.String("stored", stored),
			slog.String("discarded", profile))
	} else {
		r.log.Info("assigned voice",
			slog.String("speaker", speaker),
			slog.String("voice", profile))
	}
	return stored, nil
}

func (r *Registry) lookup(ctx context.Context, speaker string) (string, error) {
	var profile string
	err := r.db.QueryRowContext(ctx,
		`SELECT voice_profile FROM voice_assignments WHERE speaker = ?`, speaker).Scan(&profile)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup assignment: %w", err)
	}
	return profile, nil
}

// choose selects a profile for an unseen speaker: reserved identities get
// their fixed profiles, everyone else draws from the gender pool with a
// preference for profiles not already in use. Pool exhaustion falls back
// to reuse, which is tolerated.
func (r *Registry) choose(ctx context.Context, speaker, gender string) (string, error) {
	if speaker == transcript.NarratorSpeaker {
		return r.cfg.NarratorVoice, nil
	}
	if r.cfg.Protagonist != "" && speaker == r.cfg.Protagonist {
		return r.cfg.ProtagonistVoice, nil
	}

	pool := r.poolFor(gender)
	used, err := r.usedProfiles(ctx)
	if err != nil {
		return "", err
	}

	var available []string
	for _, p := range pool {
		if !used[p] {
			available = append(available, p)
		}
	}
	if len(available) > 0 {
		return available[r.pick(len(available))], nil
	}
	return pool[r.pick(len(pool))], nil
}

func (r *Registry) poolFor(gender string) []string {
	switch transcript.NormalizeGender(gender) {
	case transcript.GenderMale:
		return r.cfg.MalePool
	case transcript.GenderFemale:
		return r.cfg.FemalePool
	default:
		return []string{r.cfg.NarratorVoice}
	}
}

func (r *Registry) usedProfiles(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT voice_profile FROM voice_assignments`)
	if err != nil {
		return nil, fmt.Errorf("list used profiles: %w", err)
	}
	defer rows.Close()

	used := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		used[p] = true
	}
	return used, rows.Err()
}

// All returns every stored assignment ordered by speaker.
func (r *Registry) All(ctx context.Context) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT speaker, gender, voice_profile, created_at FROM voice_assignments ORDER BY speaker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		var created string
		if err := rows.Scan(&a.Speaker, &a.Gender, &a.VoiceProfile, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			a.CreatedAt = ts
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
