// Package audio stitches synthesized fragments and silence fillers into a
// single output track. Concatenation is stream copy only: fragments are
// never re-encoded, trimmed or normalized.
package audio

import (
	"context"
	"os"
)

// Assembler concatenates same-format audio files and produces silence
// fillers in that format.
type Assembler interface {
	// Concat joins inputs into outPath preserving exact input order.
	// Zero inputs produce a valid empty output file.
	Concat(ctx context.Context, inputs []string, outPath string) error
	// Silence returns the path of a fragment holding durationMS of
	// silence. Implementations may cache per duration.
	Silence(ctx context.Context, durationMS int) (string, error)
}

// writeEmpty emits the placeholder output used when a unit yields no
// fragments at all.
func writeEmpty(outPath string) error {
	return os.WriteFile(outPath, nil, 0o644)
}
