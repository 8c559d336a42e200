// Package chunker splits attributed segments into speakable chunks on
// ellipsis pause markers and plans the silence fillers between them.
package chunker

import (
	"strings"

	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/transcript"
)

const ellipsis = "..."

// VoicedSegment is a parsed segment with its resolved voice profile.
type VoicedSegment struct {
	transcript.Segment
	VoiceProfile string
}

// Chunk is the unit actually sent to synthesis. SilenceAfterMS is the
// duration of the silence filler emitted after this chunk's audio, zero
// meaning none.
type Chunk struct {
	SegmentIndex   int
	SubIndex       int
	Text           string
	VoiceProfile   string
	SilenceAfterMS int
}

type Chunker struct {
	pauseMS   int
	segmentMS int
}

func New(cfg config.ChunkerConfig) *Chunker {
	return &Chunker{pauseMS: cfg.PauseSilenceMS, segmentMS: cfg.SegmentSilenceMS}
}

// Plan expands segments into an ordered chunk list. Within a segment a
// short pause silence separates pieces split on "..." (or "…"); a longer
// silence follows each segment, except after the very last chunk of the
// whole unit where trailing silence is trimmed. Empty pieces produced by
// leading, trailing or doubled markers are skipped without a paired
// silence.
func (c *Chunker) Plan(segments []VoicedSegment) []Chunk {
	var chunks []Chunk
	for segIdx, seg := range segments {
		pieces := splitPauses(seg.Text)
		for i, piece := range pieces {
			silence := c.segmentMS
			if i < len(pieces)-1 {
				silence = c.pauseMS
			}
			chunks = append(chunks, Chunk{
				SegmentIndex:   segIdx,
				SubIndex:       i,
				Text:           piece,
				VoiceProfile:   seg.VoiceProfile,
				SilenceAfterMS: silence,
			})
		}
	}
	if len(chunks) > 0 {
		chunks[len(chunks)-1].SilenceAfterMS = 0
	}
	return chunks
}

func splitPauses(text string) []string {
	normalized := strings.ReplaceAll(text, "…", ellipsis)
	var pieces []string
	for _, part := range strings.Split(normalized, ellipsis) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			pieces = append(pieces, trimmed)
		}
	}
	return pieces
}
