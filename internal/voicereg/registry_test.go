package voicereg

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/fablecast/fablecast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testVoices(t *testing.T) config.VoicesConfig {
	t.Helper()
	return config.VoicesConfig{
		RegistryPath:     filepath.Join(t.TempDir(), "voices.db"),
		NarratorVoice:    "narrator-voice",
		Protagonist:      "Chen Ping",
		ProtagonistVoice: "protagonist-voice",
		MalePool:         []string{"male-1", "male-2"},
		FemalePool:       []string{"female-1", "female-2", "female-3"},
	}
}

func openRegistry(t *testing.T, cfg config.VoicesConfig) *Registry {
	t.Helper()
	reg, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestReservedSpeakersGetFixedProfiles(t *testing.T) {
	reg := openRegistry(t, testVoices(t))
	ctx := context.Background()

	for _, gender := range []string{"male", "female", "unknown"} {
		got, err := reg.Resolve(ctx, "narrator", gender)
		if err != nil {
			t.Fatalf("resolve narrator: %v", err)
		}
		if got != "narrator-voice" {
			t.Fatalf("narrator resolved to %q", got)
		}
		got, err = reg.Resolve(ctx, "Chen Ping", gender)
		if err != nil {
			t.Fatalf("resolve protagonist: %v", err)
		}
		if got != "protagonist-voice" {
			t.Fatalf("protagonist resolved to %q", got)
		}
	}
}

func TestAssignmentIsStableAcrossReopen(t *testing.T) {
	cfg := testVoices(t)
	reg := openRegistry(t, cfg)
	ctx := context.Background()

	first, err := reg.Resolve(ctx, "Liu Mei", "female")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openRegistry(t, cfg)
	second, err := reopened.Resolve(ctx, "Liu Mei", "female")
	if err != nil {
		t.Fatalf("resolve after reopen: %v", err)
	}
	if first != second {
		t.Fatalf("assignment changed across reopen: %q vs %q", first, second)
	}
}

func TestPoolPrefersUnusedProfiles(t *testing.T) {
	reg := openRegistry(t, testVoices(t))
	reg.pick = func(n int) int { return 0 }
	ctx := context.Background()

	first, err := reg.Resolve(ctx, "Guard A", "male")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := reg.Resolve(ctx, "Guard B", "male")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct profiles while pool has spares, both got %q", first)
	}

	// Pool of two is now exhausted; a third male speaker reuses.
	third, err := reg.Resolve(ctx, "Guard C", "male")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if third != "male-1" && third != "male-2" {
		t.Fatalf("expected reuse from male pool, got %q", third)
	}
}

func TestUnknownGenderFallsBackToNarratorVoice(t *testing.T) {
	reg := openRegistry(t, testVoices(t))
	got, err := reg.Resolve(context.Background(), "Mysterious Figure", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "narrator-voice" {
		t.Fatalf("expected narrator fallback, got %q", got)
	}
}

func TestResolveNeverOverwrites(t *testing.T) {
	reg := openRegistry(t, testVoices(t))
	ctx := context.Background()

	first, err := reg.Resolve(ctx, "Elder Wu", "male")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Same speaker with a different gender hint still returns the stored row.
	second, err := reg.Resolve(ctx, "Elder Wu", "female")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first != second {
		t.Fatalf("stored assignment was not returned: %q vs %q", first, second)
	}

	all, err := reg.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single row, got %d", len(all))
	}
}
