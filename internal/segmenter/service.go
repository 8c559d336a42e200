// Package segmenter converts raw chapter prose into attributed
// transcripts via an external text-segmentation model, with a fallback
// endpoint when the primary fails.
package segmenter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/ledger"
	"github.com/fablecast/fablecast/internal/transcript"
)

type Service struct {
	cfg      config.SegmenterConfig
	library  config.LibraryConfig
	ledger   *ledger.Ledger
	primary  Client
	fallback Client
	notify   func(unitID string, segments int)
	logger   *slog.Logger
}

// SetNotify registers a callback invoked after each successfully
// segmented unit.
func (s *Service) SetNotify(fn func(unitID string, segments int)) {
	s.notify = fn
}

func NewService(cfg config.SegmenterConfig, library config.LibraryConfig, led *ledger.Ledger, log *slog.Logger) *Service {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	s := &Service{
		cfg:     cfg,
		library: library,
		ledger:  led,
		primary: NewChatClient(cfg.Endpoint, cfg.APIKey, cfg.Model, httpClient),
		logger:  log.With(slog.String("component", "segmenter")),
	}
	if cfg.FallbackEndpoint != "" && cfg.FallbackAPIKey != "" {
		s.fallback = NewChatClient(cfg.FallbackEndpoint, cfg.FallbackAPIKey, cfg.FallbackModel, httpClient)
	}
	return s
}

// NewServiceWithClients wires explicit clients, used by tests.
func NewServiceWithClients(library config.LibraryConfig, led *ledger.Ledger, primary, fallback Client, log *slog.Logger) *Service {
	return &Service{
		library:  library,
		ledger:   led,
		primary:  primary,
		fallback: fallback,
		logger:   log.With(slog.String("component", "segmenter")),
	}
}

// SegmentPending walks the ledger and segments every unit that has not
// been segmented yet. Per-unit failures are logged and do not stop the
// sweep.
func (s *Service) SegmentPending(ctx context.Context) error {
	entries, err := s.ledger.ReadAll()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Segmented {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.SegmentUnit(ctx, entry.UnitID); err != nil {
			s.logger.Warn("unit segmentation failed",
				slog.String("unit", entry.UnitID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// SegmentUnit reads one chapter file, cleanses it, asks the model for
// attributed segments, writes the transcript and marks the ledger.
func (s *Service) SegmentUnit(ctx context.Context, unitID string) error {
	chapterPath := filepath.Join(s.library.ChaptersDir, unitID+".txt")
	raw, err := os.ReadFile(chapterPath)
	if err != nil {
		return fmt.Errorf("read chapter: %w", err)
	}

	text := Cleanse(string(raw))
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("chapter %s is empty after cleansing", unitID)
	}

	segments, err := s.primary.Segment(ctx, text)
	if err != nil && s.fallback != nil {
		s.logger.Warn("primary segmenter failed, trying fallback",
			slog.String("unit", unitID),
			slog.String("error", err.Error()))
		segments, err = s.fallback.Segment(ctx, text)
	}
	if err != nil {
		return fmt.Errorf("segment chapter: %w", err)
	}

	encoded, err := transcript.Encode(segments)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.MkdirAll(s.library.TranscriptsDir, 0o755); err != nil {
		return fmt.Errorf("create transcripts dir: %w", err)
	}
	outPath := filepath.Join(s.library.TranscriptsDir, unitID+".tsv")
	if err := os.WriteFile(outPath, []byte(encoded), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	if err := s.ledger.MarkSegmented(unitID); err != nil {
		return err
	}
	if s.notify != nil {
		s.notify(unitID, len(segments))
	}
	s.logger.Info("unit segmented",
		slog.String("unit", unitID),
		slog.Int("segments", len(segments)))
	return nil
}

// Cleanse removes characters that confuse the downstream model and the
// synthesis engines, currently the U+FFFD replacement character left by
// broken source encodings.
func Cleanse(text string) string {
	return strings.ReplaceAll(text, "�", "")
}
