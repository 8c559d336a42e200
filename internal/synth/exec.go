package synth

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execSynth shells out to an edge-tts compatible command line:
// <command> --text <text> --voice <voice> --write-media <path>.
type execSynth struct {
	cmd []string
}

func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, text, voiceProfile, outPath string) error {
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--text", text,
		"--voice", voiceProfile,
		"--write-media", outPath,
	)
	cmd := exec.CommandContext(ctx, base, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w: %s", base, err, string(output))
	}
	return nil
}
