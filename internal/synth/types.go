package synth

import (
	"context"
	"fmt"
)

// Synthesizer renders one chunk of text with one voice profile into an
// audio file at outPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceProfile, outPath string) error
}

// Error reports a failed synthesis for one chunk. Chunk failures are
// recoverable: the fragment is omitted and the batch continues.
type Error struct {
	SegmentIndex int
	SubIndex     int
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("synthesize chunk %d.%d: %v", e.SegmentIndex, e.SubIndex, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
