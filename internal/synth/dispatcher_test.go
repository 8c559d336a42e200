package synth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fablecast/fablecast/internal/chunker"
	"github.com/fablecast/fablecast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.SynthConfig {
	return config.SynthConfig{Mode: "mock", Concurrency: 2, TimeoutMS: 5000}
}

type flakySynth struct {
	failText string
}

func (f *flakySynth) Synthesize(ctx context.Context, text, voice, outPath string) error {
	if text == f.failText {
		return errors.New("engine refused")
	}
	return os.WriteFile(outPath, []byte(text), 0o644)
}

type countingSynth struct {
	mu      sync.Mutex
	active  int
	max     int
	started atomic.Int32
}

func (c *countingSynth) Synthesize(ctx context.Context, text, voice, outPath string) error {
	c.mu.Lock()
	c.active++
	if c.active > c.max {
		c.max = c.active
	}
	c.mu.Unlock()
	c.started.Add(1)

	err := os.WriteFile(outPath, []byte(text), 0o644)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return err
}

func chunksOf(texts ...string) []chunker.Chunk {
	var chunks []chunker.Chunk
	for i, text := range texts {
		chunks = append(chunks, chunker.Chunk{SegmentIndex: i, SubIndex: 0, Text: text, VoiceProfile: "v"})
	}
	return chunks
}

func TestRunWritesUniqueFragments(t *testing.T) {
	dir := t.TempDir()
	d := NewDispatcher(testConfig(), NewMockSynth(), newLogger())

	results := d.Run(context.Background(), "chapter_7", chunksOf("one", "two", "three"), dir)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	seen := map[string]bool{}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("result %d failed: %v", i, res.Err)
		}
		if seen[res.Path] {
			t.Fatalf("duplicate fragment path %q", res.Path)
		}
		seen[res.Path] = true
		if filepath.Dir(res.Path) != dir {
			t.Fatalf("fragment outside work dir: %q", res.Path)
		}
		if !strings.HasPrefix(filepath.Base(res.Path), "chapter_7_") {
			t.Fatalf("fragment not named by unit: %q", res.Path)
		}
	}
}

func TestRunResultsKeepChunkOrder(t *testing.T) {
	dir := t.TempDir()
	d := NewDispatcher(testConfig(), NewMockSynth(), newLogger())

	texts := []string{"a", "b", "c", "d", "e"}
	results := d.Run(context.Background(), "u", chunksOf(texts...), dir)
	for i, res := range results {
		if res.Chunk.Text != texts[i] {
			t.Fatalf("result %d out of order: got %q want %q", i, res.Chunk.Text, texts[i])
		}
	}
}

func TestRunToleratesPartialFailure(t *testing.T) {
	dir := t.TempDir()
	d := NewDispatcher(testConfig(), &flakySynth{failText: "b"}, newLogger())

	results := d.Run(context.Background(), "u", chunksOf("a", "b", "c"), dir)
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("healthy chunks must succeed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatal("expected failure for chunk b")
	}
	var synthErr *Error
	if !errors.As(results[1].Err, &synthErr) {
		t.Fatalf("expected *synth.Error, got %T", results[1].Err)
	}
	if synthErr.SegmentIndex != 1 {
		t.Fatalf("unexpected segment index %d", synthErr.SegmentIndex)
	}
}

func TestRunHonorsConcurrencyLimit(t *testing.T) {
	dir := t.TempDir()
	counting := &countingSynth{}
	d := NewDispatcher(config.SynthConfig{Concurrency: 2, TimeoutMS: 5000}, counting, newLogger())

	results := d.Run(context.Background(), "u", chunksOf("a", "b", "c", "d", "e", "f"), dir)
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	}
	if counting.max > 2 {
		t.Fatalf("concurrency limit exceeded: %d simultaneous calls", counting.max)
	}
	if counting.started.Load() != 6 {
		t.Fatalf("expected 6 synth calls, got %d", counting.started.Load())
	}
}
