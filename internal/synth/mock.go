package synth

import (
	"context"
	"fmt"
	"os"
)

// mockSynth writes a deterministic placeholder fragment instead of
// calling a real voice engine. Useful for local runs and tests.
type mockSynth struct{}

func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, text, voiceProfile, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := fmt.Sprintf("[%s]%s\n", voiceProfile, text)
	return os.WriteFile(outPath, []byte(payload), 0o644)
}
