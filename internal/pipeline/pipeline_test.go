package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fablecast/fablecast/internal/audio"
	"github.com/fablecast/fablecast/internal/chunker"
	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/delivery"
	"github.com/fablecast/fablecast/internal/ledger"
	"github.com/fablecast/fablecast/internal/synth"
	"github.com/fablecast/fablecast/internal/voicereg"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// failingSynth fails for chunks whose text contains the marker and
// otherwise behaves like the mock synthesizer.
type failingSynth struct {
	inner  synth.Synthesizer
	marker string
}

func (f *failingSynth) Synthesize(ctx context.Context, text, voiceProfile, outPath string) error {
	if strings.Contains(text, f.marker) {
		return errors.New("injected synthesis failure")
	}
	return f.inner.Synthesize(ctx, text, voiceProfile, outPath)
}

type fixture struct {
	pipeline *Pipeline
	ledger   *ledger.Ledger
	sink     *delivery.MockSink
	library  config.LibraryConfig
}

func newFixture(t *testing.T, synthesizer synth.Synthesizer) *fixture {
	t.Helper()
	dir := t.TempDir()

	library := config.LibraryConfig{
		ChaptersDir:    filepath.Join(dir, "chapters"),
		TranscriptsDir: filepath.Join(dir, "transcripts"),
		AudioDir:       filepath.Join(dir, "audio"),
	}
	if err := os.MkdirAll(library.TranscriptsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	led := ledger.Open(filepath.Join(dir, "progress.txt"), newLogger())

	voicesCfg := config.Default().Voices
	voicesCfg.RegistryPath = filepath.Join(dir, "voices.db")
	registry, err := voicereg.Open(context.Background(), voicesCfg, newLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	if synthesizer == nil {
		synthesizer = synth.NewMockSynth()
	}
	dispatcher := synth.NewDispatcher(config.SynthConfig{Concurrency: 2, TimeoutMS: 5000}, synthesizer, newLogger())
	assembler := audio.NewMockAssembler(filepath.Join(dir, "silence"))
	sink := delivery.NewMockSink()
	ch := chunker.New(config.ChunkerConfig{PauseSilenceMS: 500, SegmentSilenceMS: 800})

	p := New(library, led, registry, ch, dispatcher, assembler, sink, nil, newLogger())
	return &fixture{pipeline: p, ledger: led, sink: sink, library: library}
}

func (f *fixture) writeTranscript(t *testing.T, unitID, content string) {
	t.Helper()
	path := filepath.Join(f.library.TranscriptsDir, unitID+".tsv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	if err := f.ledger.EnsureUnits([]string{unitID}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := f.ledger.MarkSegmented(unitID); err != nil {
		t.Fatalf("mark segmented: %v", err)
	}
}

func TestProcessUnitPreservesOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.writeTranscript(t, "chapter_1",
		"narrator\tunknown\t\tThe hall fell silent.\n"+
			"Chen Ping\tmale\tcalm\tI accept... on one condition.\n"+
			"narrator\tunknown\t\tEveryone stared.\n")

	report, err := f.pipeline.ProcessUnit(context.Background(), "chapter_1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Segments != 3 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	// The ellipsis splits the second segment in two, so four chunks total.
	if report.Chunks != 4 {
		t.Fatalf("expected 4 chunks, got %d", report.Chunks)
	}

	data, err := os.ReadFile(report.AudioPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	out := string(data)

	wantOrder := []string{
		"The hall fell silent.",
		"<silence 800ms>",
		"I accept",
		"<silence 500ms>",
		"on one condition.",
		"<silence 800ms>",
		"Everyone stared.",
	}
	pos := 0
	for _, want := range wantOrder {
		idx := strings.Index(out[pos:], want)
		if idx < 0 {
			t.Fatalf("output missing %q after offset %d:\n%s", want, pos, out)
		}
		pos += idx + len(want)
	}
	if strings.HasSuffix(strings.TrimSpace(out), "ms>") {
		t.Fatalf("output ends in silence filler:\n%s", out)
	}

	if len(f.sink.Sent()) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(f.sink.Sent()))
	}
	if _, ok, err := f.ledger.PickNext("chapter_1"); err != nil || ok {
		t.Fatalf("unit should no longer be eligible: ok=%v err=%v", ok, err)
	}
}

func TestProcessUnitUsesOneVoicePerSpeaker(t *testing.T) {
	f := newFixture(t, nil)
	f.writeTranscript(t, "chapter_1",
		"narrator\tunknown\t\tDawn broke.\n"+
			"Liu Mei\tfemale\tsoft\tGood morning.\n"+
			"narrator\tunknown\t\tHe nodded.\n"+
			"Liu Mei\tfemale\t\tDid you sleep?\n")

	report, err := f.pipeline.ProcessUnit(context.Background(), "chapter_1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	data, err := os.ReadFile(report.AudioPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	out := string(data)

	// Mock fragments carry their voice profile, so both narrator lines
	// must share one profile and both Liu Mei lines another.
	narratorVoice := voiceBefore(t, out, "Dawn broke.")
	if v := voiceBefore(t, out, "He nodded."); v != narratorVoice {
		t.Fatalf("narrator voice changed: %q vs %q", narratorVoice, v)
	}
	liuVoice := voiceBefore(t, out, "Good morning.")
	if v := voiceBefore(t, out, "Did you sleep?"); v != liuVoice {
		t.Fatalf("speaker voice changed: %q vs %q", liuVoice, v)
	}
	if liuVoice == narratorVoice {
		t.Fatalf("distinct speakers share voice %q", liuVoice)
	}
}

func voiceBefore(t *testing.T, out, text string) string {
	t.Helper()
	idx := strings.Index(out, "]"+text)
	if idx < 0 {
		t.Fatalf("output missing %q", text)
	}
	open := strings.LastIndex(out[:idx], "[")
	if open < 0 {
		t.Fatalf("no voice tag before %q", text)
	}
	return out[open+1 : idx]
}

func TestProcessUnitToleratesChunkFailures(t *testing.T) {
	fs := &failingSynth{inner: synth.NewMockSynth(), marker: "second"}
	f := newFixture(t, fs)
	f.writeTranscript(t, "chapter_1",
		"narrator\tunknown\t\tfirst line\n"+
			"narrator\tunknown\t\tsecond line\n"+
			"narrator\tunknown\t\tthird line\n")

	report, err := f.pipeline.ProcessUnit(context.Background(), "chapter_1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", report.Failed)
	}

	data, err := os.ReadFile(report.AudioPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "second line") {
		t.Fatalf("failed fragment leaked into output:\n%s", out)
	}
	for _, want := range []string{"first line", "third line"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	// The failed chunk's audio is gone but its silence markers still
	// apply: both inter-segment fillers survive around the gap.
	if got := strings.Count(out, "<silence 800ms>"); got != 2 {
		t.Fatalf("expected 2 silence fillers, got %d:\n%s", got, out)
	}
	first := strings.Index(out, "first line")
	third := strings.Index(out, "third line")
	gap := out[first:third]
	if strings.Count(gap, "<silence 800ms>") != 2 {
		t.Fatalf("fillers not between surviving fragments:\n%s", out)
	}

	// The unit still completes and is recorded as done.
	if _, ok, err := f.ledger.PickNext("chapter_1"); err != nil || ok {
		t.Fatalf("unit should be marked synthesized: ok=%v err=%v", ok, err)
	}
}

func TestProcessUnitEmptyTranscript(t *testing.T) {
	f := newFixture(t, nil)
	f.writeTranscript(t, "chapter_1",
		"\n"+
			"narrator\tunknown\t\t   \n"+
			"malformed row without tabs\n")

	report, err := f.pipeline.ProcessUnit(context.Background(), "chapter_1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Segments != 0 || report.Chunks != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	data, err := os.ReadFile(report.AudioPath)
	if err != nil {
		t.Fatalf("empty unit must still produce an output file: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(data))
	}
	if len(f.sink.Sent()) != 0 {
		t.Fatalf("empty unit must not be delivered")
	}
	if _, ok, err := f.ledger.PickNext("chapter_1"); err != nil || ok {
		t.Fatalf("empty unit should be marked synthesized: ok=%v err=%v", ok, err)
	}
}

func TestProcessUnitDeliveryFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.writeTranscript(t, "chapter_1", "narrator\tunknown\t\tSome prose.\n")
	f.sink.FailNext()

	_, err := f.pipeline.ProcessUnit(context.Background(), "chapter_1")
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}

	// The unit stays eligible so a later run retries it end to end.
	entry, ok, pickErr := f.ledger.PickNext("chapter_1")
	if pickErr != nil || !ok {
		t.Fatalf("unit should remain eligible: ok=%v err=%v", ok, pickErr)
	}
	if entry.Synthesized {
		t.Fatalf("delivery failure must not mark the unit synthesized")
	}

	if _, err := f.pipeline.ProcessUnit(context.Background(), "chapter_1"); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if len(f.sink.Sent()) != 1 {
		t.Fatalf("expected 1 delivery after retry, got %d", len(f.sink.Sent()))
	}
}

func TestProcessUnitMissingTranscript(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.ledger.EnsureUnits([]string{"chapter_9"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.pipeline.ProcessUnit(context.Background(), "chapter_9"); err == nil {
		t.Fatal("expected error for missing transcript")
	}
}
