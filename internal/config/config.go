package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// LibraryConfig locates the source chapters and the intermediate artifacts
// derived from them.
type LibraryConfig struct {
	ChaptersDir    string `yaml:"chapters_dir"`
	TranscriptsDir string `yaml:"transcripts_dir"`
	AudioDir       string `yaml:"audio_dir"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
}

// VoicesConfig holds the persistent registry location, the reserved
// speaker mappings and the per-gender allocation pools.
type VoicesConfig struct {
	RegistryPath     string   `yaml:"registry_path"`
	NarratorVoice    string   `yaml:"narrator_voice"`
	Protagonist      string   `yaml:"protagonist"`
	ProtagonistVoice string   `yaml:"protagonist_voice"`
	MalePool         []string `yaml:"male_pool"`
	FemalePool       []string `yaml:"female_pool"`
}

type ChunkerConfig struct {
	PauseSilenceMS   int `yaml:"pause_silence_ms"`
	SegmentSilenceMS int `yaml:"segment_silence_ms"`
}

type SynthConfig struct {
	Mode        string `yaml:"mode"` // mock, edge-tts
	Command     string `yaml:"command"`
	Concurrency int    `yaml:"concurrency"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

type AssemblerConfig struct {
	Mode       string `yaml:"mode"` // mock, ffmpeg
	FFmpegPath string `yaml:"ffmpeg_path"`
}

type DeliveryConfig struct {
	Mode      string `yaml:"mode"` // mock, telegram
	BotToken  string `yaml:"bot_token"`
	ChatID    string `yaml:"chat_id"`
	TimeoutMS int    `yaml:"timeout_ms"`
	KeepLocal bool   `yaml:"keep_local"`
}

type SegmenterConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	FallbackEndpoint string `yaml:"fallback_endpoint"`
	FallbackAPIKey   string `yaml:"fallback_api_key"`
	FallbackModel    string `yaml:"fallback_model"`
	TimeoutMS        int    `yaml:"timeout_ms"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Library     LibraryConfig   `yaml:"library"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Voices      VoicesConfig    `yaml:"voices"`
	Chunker     ChunkerConfig   `yaml:"chunker"`
	Synth       SynthConfig     `yaml:"synth"`
	Assembler   AssemblerConfig `yaml:"assembler"`
	Delivery    DeliveryConfig  `yaml:"delivery"`
	Segmenter   SegmenterConfig `yaml:"segmenter"`
}

func Default() Config {
	return Config{
		RuntimeName: "fablecast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Library: LibraryConfig{
			ChaptersDir:    "./data/chapters",
			TranscriptsDir: "./data/transcripts",
			AudioDir:       "./data/audio",
		},
		Ledger: LedgerConfig{
			Path: "./data/progress.txt",
		},
		Voices: VoicesConfig{
			RegistryPath:     "./data/voices.db",
			NarratorVoice:    "en-GB-LibbyNeural",
			Protagonist:      "Chen Ping",
			ProtagonistVoice: "en-GB-ThomasNeural",
			MalePool: []string{
				"en-GB-RyanNeural",
				"en-US-GuyNeural",
			},
			FemalePool: []string{
				"en-US-AriaNeural",
				"en-US-JennyNeural",
				"en-GB-SoniaNeural",
				"en-US-MichelleNeural",
			},
		},
		Chunker: ChunkerConfig{
			PauseSilenceMS:   500,
			SegmentSilenceMS: 800,
		},
		Synth: SynthConfig{
			Mode:        "mock",
			Command:     "edge-tts",
			Concurrency: 4,
			TimeoutMS:   60000,
		},
		Assembler: AssemblerConfig{
			Mode:       "mock",
			FFmpegPath: "ffmpeg",
		},
		Delivery: DeliveryConfig{
			Mode:      "mock",
			TimeoutMS: 30000,
			KeepLocal: true,
		},
		Segmenter: SegmenterConfig{
			Enabled:          false,
			Endpoint:         "https://api.groq.com/openai/v1/chat/completions",
			Model:            "llama-3.1-70b-versatile",
			FallbackEndpoint: "https://openrouter.ai/api/v1/chat/completions",
			FallbackModel:    "meta-llama/llama-3.1-70b-instruct",
			TimeoutMS:        60000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "FABLECAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FABLECAST_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FABLECAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FABLECAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FABLECAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FABLECAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FABLECAST_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FABLECAST_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "FABLECAST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "FABLECAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FABLECAST_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "FABLECAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FABLECAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FABLECAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FABLECAST_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "FABLECAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Library.ChaptersDir, "FABLECAST_LIBRARY_CHAPTERS_DIR")
	overrideString(&cfg.Library.TranscriptsDir, "FABLECAST_LIBRARY_TRANSCRIPTS_DIR")
	overrideString(&cfg.Library.AudioDir, "FABLECAST_LIBRARY_AUDIO_DIR")
	overrideString(&cfg.Ledger.Path, "FABLECAST_LEDGER_PATH")
	overrideString(&cfg.Voices.RegistryPath, "FABLECAST_VOICES_REGISTRY_PATH")
	overrideString(&cfg.Voices.NarratorVoice, "FABLECAST_VOICES_NARRATOR_VOICE")
	overrideString(&cfg.Voices.Protagonist, "FABLECAST_VOICES_PROTAGONIST")
	overrideString(&cfg.Voices.ProtagonistVoice, "FABLECAST_VOICES_PROTAGONIST_VOICE")
	overrideStringSlice(&cfg.Voices.MalePool, "FABLECAST_VOICES_MALE_POOL")
	overrideStringSlice(&cfg.Voices.FemalePool, "FABLECAST_VOICES_FEMALE_POOL")
	overrideInt(&cfg.Chunker.PauseSilenceMS, "FABLECAST_CHUNKER_PAUSE_SILENCE_MS")
	overrideInt(&cfg.Chunker.SegmentSilenceMS, "FABLECAST_CHUNKER_SEGMENT_SILENCE_MS")
	overrideString(&cfg.Synth.Mode, "FABLECAST_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "FABLECAST_SYNTH_COMMAND")
	overrideInt(&cfg.Synth.Concurrency, "FABLECAST_SYNTH_CONCURRENCY")
	overrideInt(&cfg.Synth.TimeoutMS, "FABLECAST_SYNTH_TIMEOUT_MS")
	overrideString(&cfg.Assembler.Mode, "FABLECAST_ASSEMBLER_MODE")
	overrideString(&cfg.Assembler.FFmpegPath, "FABLECAST_ASSEMBLER_FFMPEG_PATH")
	overrideString(&cfg.Delivery.Mode, "FABLECAST_DELIVERY_MODE")
	overrideString(&cfg.Delivery.BotToken, "TELEGRAM_BOT_TOKEN")
	overrideString(&cfg.Delivery.ChatID, "TELEGRAM_CHAT_ID")
	overrideInt(&cfg.Delivery.TimeoutMS, "FABLECAST_DELIVERY_TIMEOUT_MS")
	overrideBool(&cfg.Delivery.KeepLocal, "FABLECAST_DELIVERY_KEEP_LOCAL")
	overrideBool(&cfg.Segmenter.Enabled, "FABLECAST_SEGMENTER_ENABLED")
	overrideString(&cfg.Segmenter.Endpoint, "FABLECAST_SEGMENTER_ENDPOINT")
	overrideString(&cfg.Segmenter.APIKey, "GROQ_API_KEY")
	overrideString(&cfg.Segmenter.Model, "FABLECAST_SEGMENTER_MODEL")
	overrideString(&cfg.Segmenter.FallbackEndpoint, "FABLECAST_SEGMENTER_FALLBACK_ENDPOINT")
	overrideString(&cfg.Segmenter.FallbackAPIKey, "OPENROUTER_API_KEY")
	overrideString(&cfg.Segmenter.FallbackModel, "FABLECAST_SEGMENTER_FALLBACK_MODEL")
	overrideInt(&cfg.Segmenter.TimeoutMS, "FABLECAST_SEGMENTER_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Library.ChaptersDir == "" {
		return errors.New("library.chapters_dir must not be empty")
	}
	if cfg.Library.TranscriptsDir == "" {
		return errors.New("library.transcripts_dir must not be empty")
	}
	if cfg.Library.AudioDir == "" {
		return errors.New("library.audio_dir must not be empty")
	}
	if cfg.Ledger.Path == "" {
		return errors.New("ledger.path must not be empty")
	}
	if cfg.Voices.RegistryPath == "" {
		return errors.New("voices.registry_path must not be empty")
	}
	if cfg.Voices.NarratorVoice == "" {
		return errors.New("voices.narrator_voice must not be empty")
	}
	if cfg.Voices.Protagonist != "" && cfg.Voices.ProtagonistVoice == "" {
		return errors.New("voices.protagonist_voice must be set when a protagonist is named")
	}
	if len(cfg.Voices.MalePool) == 0 || len(cfg.Voices.FemalePool) == 0 {
		return errors.New("voices.male_pool and voices.female_pool must not be empty")
	}
	if cfg.Chunker.PauseSilenceMS <= 0 {
		return errors.New("chunker.pause_silence_ms must be positive")
	}
	if cfg.Chunker.SegmentSilenceMS <= 0 {
		return errors.New("chunker.segment_silence_ms must be positive")
	}
	switch cfg.Synth.Mode {
	case "mock", "edge-tts":
	default:
		return errors.New("synth.mode must be one of mock|edge-tts")
	}
	if cfg.Synth.Mode == "edge-tts" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=edge-tts")
	}
	if cfg.Synth.Concurrency <= 0 {
		return errors.New("synth.concurrency must be >= 1")
	}
	if cfg.Synth.TimeoutMS <= 0 {
		return errors.New("synth.timeout_ms must be positive")
	}
	switch cfg.Assembler.Mode {
	case "mock", "ffmpeg":
	default:
		return errors.New("assembler.mode must be one of mock|ffmpeg")
	}
	if cfg.Assembler.Mode == "ffmpeg" && cfg.Assembler.FFmpegPath == "" {
		return errors.New("assembler.ffmpeg_path must be set when mode=ffmpeg")
	}
	switch cfg.Delivery.Mode {
	case "mock", "telegram":
	default:
		return errors.New("delivery.mode must be one of mock|telegram")
	}
	if cfg.Delivery.Mode == "telegram" {
		if cfg.Delivery.BotToken == "" {
			return errors.New("delivery.bot_token must be set when mode=telegram")
		}
		if cfg.Delivery.ChatID == "" {
			return errors.New("delivery.chat_id must be set when mode=telegram")
		}
	}
	if cfg.Segmenter.Enabled {
		if cfg.Segmenter.Endpoint == "" {
			return errors.New("segmenter.endpoint must not be empty when segmenter is enabled")
		}
		if cfg.Segmenter.Model == "" {
			return errors.New("segmenter.model must not be empty when segmenter is enabled")
		}
	}
	return nil
}
