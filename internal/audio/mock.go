package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// mockAssembler concatenates raw file bytes. It keeps the ordering and
// empty-output contracts of the real assembler without requiring ffmpeg.
type mockAssembler struct {
	cacheDir string
	mu       sync.Mutex
	silence  map[int]string
}

func NewMockAssembler(cacheDir string) Assembler {
	return &mockAssembler{cacheDir: cacheDir, silence: make(map[int]string)}
}

func (m *mockAssembler) Concat(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return writeEmpty(outPath)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("read fragment %s: %w", input, err)
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockAssembler) Silence(ctx context.Context, durationMS int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path, ok := m.silence[durationMS]; ok {
		return path, nil
	}
	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(m.cacheDir, fmt.Sprintf("silence_%d.mp3", durationMS))
	if err := os.WriteFile(path, []byte(fmt.Sprintf("<silence %dms>\n", durationMS)), 0o644); err != nil {
		return "", err
	}
	m.silence[durationMS] = path
	return path, nil
}
