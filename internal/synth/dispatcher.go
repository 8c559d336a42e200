package synth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fablecast/fablecast/internal/chunker"
	"github.com/fablecast/fablecast/internal/config"
)

// Result is the outcome of one chunk's synthesis. Path is only valid
// when Err is nil.
type Result struct {
	Chunk chunker.Chunk
	Path  string
	Err   error
}

// Dispatcher fans chunk synthesis out to the underlying Synthesizer under
// a bounded concurrency limit. A failed chunk never aborts the batch: its
// result carries the error and the fragment is omitted downstream.
type Dispatcher struct {
	synth       Synthesizer
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewDispatcher(cfg config.SynthConfig, synth Synthesizer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		synth:       synth,
		concurrency: cfg.Concurrency,
		timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:      log.With(slog.String("component", "synth-dispatcher")),
	}
}

// Run synthesizes every chunk into workDir and returns results indexed in
// chunk order, regardless of completion order. Fragment files are named
// by unit, segment index and sub index so concurrent writes never
// collide.
func (d *Dispatcher) Run(ctx context.Context, unitID string, chunks []chunker.Chunk, workDir string) []Result {
	results := make([]Result, len(chunks))
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk chunker.Chunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			path := filepath.Join(workDir, FragmentName(unitID, chunk.SegmentIndex, chunk.SubIndex))
			chunkCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := d.synth.Synthesize(chunkCtx, chunk.Text, chunk.VoiceProfile, path)
			if err != nil {
				err = &Error{SegmentIndex: chunk.SegmentIndex, SubIndex: chunk.SubIndex, Err: err}
				d.logger.Warn("chunk synthesis failed, omitting fragment",
					slog.String("unit", unitID),
					slog.Int("segment", chunk.SegmentIndex),
					slog.Int("sub", chunk.SubIndex),
					slog.String("error", err.Error()))
				results[i] = Result{Chunk: chunk, Err: err}
				return
			}
			results[i] = Result{Chunk: chunk, Path: path}
		}(i, chunk)
	}
	wg.Wait()
	return results
}

// FragmentName builds the unique fragment file name for one chunk.
func FragmentName(unitID string, segmentIndex, subIndex int) string {
	return fmt.Sprintf("%s_%d_%d.mp3", unitID, segmentIndex, subIndex)
}
