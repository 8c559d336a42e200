// Package pipeline drives one unit from transcript to delivered audio:
// decode rows, resolve voices, plan chunks, synthesize under bounded
// concurrency, stitch fragments with silence fillers, deliver, and only
// then record completion in the ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fablecast/fablecast/internal/audio"
	"github.com/fablecast/fablecast/internal/bus"
	"github.com/fablecast/fablecast/internal/chunker"
	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/delivery"
	"github.com/fablecast/fablecast/internal/ledger"
	"github.com/fablecast/fablecast/internal/protocol"
	"github.com/fablecast/fablecast/internal/synth"
	"github.com/fablecast/fablecast/internal/transcript"
	"github.com/fablecast/fablecast/internal/voicereg"
)

// UnitReport summarizes one processed unit.
type UnitReport struct {
	UnitID    string
	Segments  int
	Chunks    int
	Failed    int
	AudioPath string
}

type Pipeline struct {
	library    config.LibraryConfig
	ledger     *ledger.Ledger
	registry   *voicereg.Registry
	chunker    *chunker.Chunker
	dispatcher *synth.Dispatcher
	assembler  audio.Assembler
	sink       delivery.Sink
	bus        *bus.Client
	runID      string
	logger     *slog.Logger
}

func New(
	library config.LibraryConfig,
	led *ledger.Ledger,
	registry *voicereg.Registry,
	ch *chunker.Chunker,
	dispatcher *synth.Dispatcher,
	assembler audio.Assembler,
	sink delivery.Sink,
	busClient *bus.Client,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		library:    library,
		ledger:     led,
		registry:   registry,
		chunker:    ch,
		dispatcher: dispatcher,
		assembler:  assembler,
		sink:       sink,
		bus:        busClient,
		runID:      uuid.NewString(),
		logger:     log.With(slog.String("component", "pipeline")),
	}
}

// RunID identifies this process run in published events.
func (p *Pipeline) RunID() string { return p.runID }

// ProcessUnit takes one segmented unit end to end and marks it
// synthesized on success. Chunk-level synthesis failures are tolerated:
// the fragments are omitted and the unit still completes. Assembly and
// delivery failures abort the unit without touching the ledger.
func (p *Pipeline) ProcessUnit(ctx context.Context, unitID string) (UnitReport, error) {
	report := UnitReport{UnitID: unitID}

	transcriptPath := filepath.Join(p.library.TranscriptsDir, unitID+".tsv")
	raw, err := os.ReadFile(transcriptPath)
	if err != nil {
		return report, fmt.Errorf("read transcript: %w", err)
	}

	segments, rowErrs := transcript.Decode(string(raw))
	for _, rowErr := range rowErrs {
		p.logger.Warn("skipping malformed transcript row",
			slog.String("unit", unitID),
			slog.String("error", rowErr.Error()))
	}
	report.Segments = len(segments)

	voiced, err := p.resolveVoices(ctx, segments)
	if err != nil {
		return report, err
	}

	chunks := p.chunker.Plan(voiced)
	report.Chunks = len(chunks)

	if err := os.MkdirAll(p.library.AudioDir, 0o755); err != nil {
		return report, fmt.Errorf("create audio dir: %w", err)
	}
	outPath := filepath.Join(p.library.AudioDir, unitID+".mp3")
	report.AudioPath = outPath

	workDir, err := os.MkdirTemp("", "fablecast-"+unitID+"-")
	if err != nil {
		return report, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	results := p.dispatcher.Run(ctx, unitID, chunks, workDir)

	inputs, failed, err := p.collectFragments(ctx, unitID, results)
	if err != nil {
		return report, err
	}
	report.Failed = failed

	if err := p.assembler.Concat(ctx, inputs, outPath); err != nil {
		return report, &AssemblyError{UnitID: unitID, Err: err}
	}

	// An empty unit still yields a valid (empty) output file, but there
	// is nothing worth delivering.
	if len(inputs) > 0 {
		if err := p.sink.Send(ctx, outPath); err != nil {
			return report, &DeliveryError{UnitID: unitID, Err: err}
		}
	} else {
		p.logger.Info("unit produced no fragments, skipping delivery",
			slog.String("unit", unitID))
	}

	if err := p.ledger.MarkSynthesized(unitID); err != nil {
		return report, err
	}

	p.publish(protocol.SubjectUnitSynthesized, protocol.UnitSynthesized{
		RunID:     p.runID,
		UnitID:    unitID,
		Chunks:    report.Chunks,
		Failed:    report.Failed,
		AudioPath: outPath,
		Timestamp: time.Now().UTC(),
	})
	p.logger.Info("unit synthesized",
		slog.String("unit", unitID),
		slog.Int("segments", report.Segments),
		slog.Int("chunks", report.Chunks),
		slog.Int("failed", report.Failed))
	return report, nil
}

// resolveVoices maps every segment to its stable voice profile, hitting
// the registry once per distinct speaker.
func (p *Pipeline) resolveVoices(ctx context.Context, segments []transcript.Segment) ([]chunker.VoicedSegment, error) {
	profiles := make(map[string]string)
	voiced := make([]chunker.VoicedSegment, 0, len(segments))
	for _, seg := range segments {
		profile, ok := profiles[seg.Speaker]
		if !ok {
			var err error
			profile, err = p.registry.Resolve(ctx, seg.Speaker, seg.Gender)
			if err != nil {
				return nil, fmt.Errorf("resolve voice for %q: %w", seg.Speaker, err)
			}
			profiles[seg.Speaker] = profile
		}
		voiced = append(voiced, chunker.VoicedSegment{Segment: seg, VoiceProfile: profile})
	}
	return voiced, nil
}

// collectFragments turns dispatcher results into the ordered assembler
// input list. A failed chunk's audio is omitted but its silence markers
// still apply, so the surrounding pacing survives the gap. Silence left
// dangling at the end of the list is trimmed so the output never ends
// in filler.
func (p *Pipeline) collectFragments(ctx context.Context, unitID string, results []synth.Result) ([]string, int, error) {
	var inputs []string
	var isSilence []bool
	failed := 0

	for _, res := range results {
		if res.Err != nil {
			failed++
			p.publish(protocol.SubjectSynthFailed, protocol.SynthFailed{
				RunID:        p.runID,
				UnitID:       unitID,
				SegmentIndex: res.Chunk.SegmentIndex,
				SubIndex:     res.Chunk.SubIndex,
				Reason:       res.Err.Error(),
				Timestamp:    time.Now().UTC(),
			})
		} else {
			inputs = append(inputs, res.Path)
			isSilence = append(isSilence, false)
		}

		if res.Chunk.SilenceAfterMS > 0 {
			silencePath, err := p.assembler.Silence(ctx, res.Chunk.SilenceAfterMS)
			if err != nil {
				return nil, failed, &AssemblyError{UnitID: unitID, Err: err}
			}
			inputs = append(inputs, silencePath)
			isSilence = append(isSilence, true)
		}
	}

	for len(inputs) > 0 && isSilence[len(inputs)-1] {
		inputs = inputs[:len(inputs)-1]
		isSilence = isSilence[:len(isSilence)-1]
	}
	return inputs, failed, nil
}

func (p *Pipeline) publish(subject string, payload any) {
	if err := p.bus.Publish(subject, payload); err != nil {
		p.logger.Warn("event publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
