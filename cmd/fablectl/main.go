package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/ledger"
	"github.com/fablecast/fablecast/internal/transcript"
	"github.com/fablecast/fablecast/internal/voicereg"
)

var version = "0.1.0-dev"

func main() {
	var configPath string
	var transcriptPath string

	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusCmd.StringVar(&configPath, "config", "fablecast.yaml", "Path to configuration file")

	voicesCmd := flag.NewFlagSet("voices", flag.ExitOnError)
	voicesCmd.StringVar(&configPath, "config", "fablecast.yaml", "Path to configuration file")

	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&transcriptPath, "file", "", "Path to transcript file")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'status', 'voices', 'validate' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "status":
		statusCmd.Parse(os.Args[2:])
		err = runStatus(configPath)
	case "voices":
		voicesCmd.Parse(os.Args[2:])
		err = runVoices(configPath)
	case "validate":
		validateCmd.Parse(os.Args[2:])
		err = runValidate(transcriptPath)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func runStatus(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	led := ledger.Open(cfg.Ledger.Path, quietLogger())
	entries, err := led.ReadAll()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("ledger is empty")
		return nil
	}

	segmented, synthesized := 0, 0
	for _, e := range entries {
		state := "pending"
		if e.Synthesized {
			state = "synthesized"
			synthesized++
			segmented++
		} else if e.Segmented {
			state = "segmented"
			segmented++
		}
		fmt.Printf("%-30s %s\n", e.UnitID, state)
	}
	fmt.Printf("\n%d units, %d segmented, %d synthesized\n", len(entries), segmented, synthesized)
	return nil
}

func runVoices(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	registry, err := voicereg.Open(ctx, cfg.Voices, quietLogger())
	if err != nil {
		return err
	}
	defer registry.Close()

	assignments, err := registry.All(ctx)
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		fmt.Println("no voice assignments yet")
		return nil
	}
	for _, a := range assignments {
		fmt.Printf("%-30s %-8s %s\n", a.Speaker, a.Gender, a.VoiceProfile)
	}
	return nil
}

func runValidate(path string) error {
	if path == "" {
		return fmt.Errorf("validate requires -file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	segments, rowErrs := transcript.Decode(string(data))
	for _, rowErr := range rowErrs {
		fmt.Fprintln(os.Stderr, rowErr)
	}
	fmt.Printf("%d segments, %d malformed rows\n", len(segments), len(rowErrs))
	if len(rowErrs) > 0 {
		return fmt.Errorf("transcript has malformed rows")
	}
	return nil
}
