// Package runtime assembles the daemon: telemetry, the optional event
// bus, the pipeline collaborators and the sweep scheduler that walks the
// ledger converting chapters into delivered audio.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fablecast/fablecast/internal/audio"
	"github.com/fablecast/fablecast/internal/bus"
	"github.com/fablecast/fablecast/internal/chunker"
	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/delivery"
	"github.com/fablecast/fablecast/internal/ledger"
	"github.com/fablecast/fablecast/internal/natsserver"
	"github.com/fablecast/fablecast/internal/pipeline"
	"github.com/fablecast/fablecast/internal/protocol"
	"github.com/fablecast/fablecast/internal/segmenter"
	"github.com/fablecast/fablecast/internal/synth"
	"github.com/fablecast/fablecast/internal/voicereg"
)

const pollInterval = 30 * time.Second

// Options narrow a run to one unit or to a single sweep. The zero value
// is the normal long-running daemon.
type Options struct {
	UnitFilter string
	RunOnce    bool
}

type Runtime struct {
	cfg         config.Config
	opts        Options
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, opts Options, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled, or until one sweep
// completes when Options.RunOnce is set.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := initTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", r.cfg.Bus.Port)}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return err
		}
		defer busClient.Close()
	}

	led := ledger.Open(r.cfg.Ledger.Path, r.logger)

	registry, err := voicereg.Open(ctx, r.cfg.Voices, r.logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	synthesizer, err := buildSynthesizer(r.cfg.Synth)
	if err != nil {
		return err
	}
	dispatcher := synth.NewDispatcher(r.cfg.Synth, synthesizer, r.logger)
	assembler := buildAssembler(r.cfg.Assembler, r.cfg.Library)
	sink := buildSink(r.cfg.Delivery)

	pipe := pipeline.New(r.cfg.Library, led, registry, chunker.New(r.cfg.Chunker),
		dispatcher, assembler, sink, busClient, r.logger)

	var seg *segmenter.Service
	if r.cfg.Segmenter.Enabled {
		seg = segmenter.NewService(r.cfg.Segmenter, r.cfg.Library, led, r.logger)
		seg.SetNotify(func(unitID string, segments int) {
			if err := busClient.Publish(protocol.SubjectUnitSegmented, protocol.UnitSegmented{
				RunID:     pipe.RunID(),
				UnitID:    unitID,
				Segments:  segments,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				r.logger.Warn("event publish failed", slog.String("error", err.Error()))
			}
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	var metricsServer *http.Server
	if tel.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", tel.metrics)
		metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.schedule(ctx, cancel, pipe, seg, led)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("run_id", pipe.RunID()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// schedule runs sweeps on a fixed interval. Each sweep discovers new
// chapters, segments pending ones and synthesizes every eligible unit.
func (r *Runtime) schedule(ctx context.Context, cancel context.CancelFunc, pipe *pipeline.Pipeline, seg *segmenter.Service, led *ledger.Ledger) {
	tracer := otel.Tracer("fablecast/runtime")
	meter := otel.Meter("fablecast/runtime")
	unitsDone, _ := meter.Int64Counter("fablecast.units.synthesized")
	unitsFailed, _ := meter.Int64Counter("fablecast.units.failed")
	chunksFailed, _ := meter.Int64Counter("fablecast.chunks.failed")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		r.sweep(ctx, tracer, unitsDone, unitsFailed, chunksFailed, pipe, seg, led)
		if r.opts.RunOnce {
			cancel()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runtime) sweep(ctx context.Context, tracer trace.Tracer, unitsDone, unitsFailed, chunksFailed metric.Int64Counter, pipe *pipeline.Pipeline, seg *segmenter.Service, led *ledger.Ledger) {
	units, err := discoverUnits(r.cfg.Library.ChaptersDir)
	if err != nil {
		r.logger.Warn("chapter discovery failed", slog.String("error", err.Error()))
	} else if len(units) > 0 {
		if err := led.EnsureUnits(units); err != nil {
			r.logger.Error("ledger update failed", slog.String("error", err.Error()))
			return
		}
	}

	if seg != nil {
		if err := seg.SegmentPending(ctx); err != nil {
			r.logger.Warn("segmentation sweep failed", slog.String("error", err.Error()))
		}
	}

	// Units that fail are remembered for the rest of this sweep so the
	// picker moves on instead of handing the same unit back; their
	// ledger rows stay untouched and the next sweep retries them.
	var failedUnits []string
	for {
		if ctx.Err() != nil {
			return
		}
		entry, ok, err := led.PickNext(r.opts.UnitFilter, failedUnits...)
		if err != nil {
			r.logger.Error("ledger read failed", slog.String("error", err.Error()))
			return
		}
		if !ok {
			return
		}

		unitCtx, span := tracer.Start(ctx, "pipeline.process_unit",
			trace.WithAttributes(attribute.String("unit.id", entry.UnitID)))
		report, err := pipe.ProcessUnit(unitCtx, entry.UnitID)
		span.End()

		if err != nil {
			unitsFailed.Add(ctx, 1)
			r.logger.Error("unit processing failed",
				slog.String("unit", entry.UnitID),
				slog.String("error", err.Error()))
			failedUnits = append(failedUnits, entry.UnitID)
			continue
		}
		unitsDone.Add(ctx, 1)
		chunksFailed.Add(ctx, int64(report.Failed))
	}
}

// discoverUnits lists chapter files, one unit per *.txt. A missing
// directory reads as an empty library.
func discoverUnits(chaptersDir string) ([]string, error) {
	dirEntries, err := os.ReadDir(chaptersDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var units []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		units = append(units, strings.TrimSuffix(e.Name(), ".txt"))
	}
	return units, nil
}

func buildSynthesizer(cfg config.SynthConfig) (synth.Synthesizer, error) {
	switch cfg.Mode {
	case "edge-tts":
		return synth.NewExecSynth(cfg.Command)
	default:
		return synth.NewMockSynth(), nil
	}
}

func buildAssembler(cfg config.AssemblerConfig, library config.LibraryConfig) audio.Assembler {
	cacheDir := filepath.Join(library.AudioDir, ".silence")
	switch cfg.Mode {
	case "ffmpeg":
		return audio.NewFFmpegAssembler(cfg.FFmpegPath, cacheDir)
	default:
		return audio.NewMockAssembler(cacheDir)
	}
}

func buildSink(cfg config.DeliveryConfig) delivery.Sink {
	var sink delivery.Sink
	switch cfg.Mode {
	case "telegram":
		sink = delivery.NewTelegramSink(cfg)
	default:
		sink = delivery.NewMockSink()
	}
	if !cfg.KeepLocal {
		sink = delivery.NewCleanupSink(sink)
	}
	return sink
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
