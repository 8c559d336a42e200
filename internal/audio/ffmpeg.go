package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ffmpegAssembler drives ffmpeg's concat demuxer with -c copy for
// lossless stitching, and anullsrc for silence generation.
type ffmpegAssembler struct {
	ffmpegPath string
	cacheDir   string
	mu         sync.Mutex
	silence    map[int]string
}

func NewFFmpegAssembler(ffmpegPath, cacheDir string) Assembler {
	return &ffmpegAssembler{
		ffmpegPath: ffmpegPath,
		cacheDir:   cacheDir,
		silence:    make(map[int]string),
	}
}

func (a *ffmpegAssembler) Concat(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return writeEmpty(outPath)
	}

	listFile, err := os.CreateTemp("", "fablecast-concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			listFile.Close()
			return fmt.Errorf("resolve fragment path: %w", err)
		}
		// ffmpeg concat list syntax: file 'path', single quotes escaped.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(listFile, "file '%s'\n", escaped); err != nil {
			listFile.Close()
			return fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("close concat list: %w", err)
	}

	cmd := exec.CommandContext(ctx, a.ffmpegPath,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile.Name(),
		"-c", "copy",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, string(output))
	}
	return nil
}

func (a *ffmpegAssembler) Silence(ctx context.Context, durationMS int) (string, error) {
	a.mu.Lock()
	if path, ok := a.silence[durationMS]; ok {
		a.mu.Unlock()
		return path, nil
	}
	a.mu.Unlock()

	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create silence cache dir: %w", err)
	}
	path := filepath.Join(a.cacheDir, fmt.Sprintf("silence_%d.mp3", durationMS))

	cmd := exec.CommandContext(ctx, a.ffmpegPath,
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=24000:cl=mono",
		"-t", fmt.Sprintf("%.3f", float64(durationMS)/1000.0),
		"-acodec", "libmp3lame",
		path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg silence: %w: %s", err, string(output))
	}

	a.mu.Lock()
	a.silence[durationMS] = path
	a.mu.Unlock()
	return path, nil
}
