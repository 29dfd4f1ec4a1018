// Package config handles voicenote configuration.
// Values come from an optional YAML file first and are then overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
)

// Merge modes for the incremental analyzer's suggestion set.
const (
	MergeModeMerge   = "merge"
	MergeModeReplace = "replace"
)

type Config struct {
	HTTPAddr     string `yaml:"http_addr"`
	SpeechAddr   string `yaml:"speech_addr"`
	DBPath       string `yaml:"db_path"`
	LanguageCode string `yaml:"language_code"`
	SampleRate   int    `yaml:"sample_rate"`
	Debug        bool   `yaml:"debug"`

	Stream   StreamConfig   `yaml:"stream"`
	Session  SessionConfig  `yaml:"session"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	LLM      LLMConfig      `yaml:"llm"`
}

// StreamConfig controls the speech stream's replay buffer and reconnect policy.
type StreamConfig struct {
	ReplayWindowSeconds   int           `yaml:"replay_window_seconds"`
	ReconnectMaxRetries   int           `yaml:"reconnect_max_retries"`
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
}

// SessionConfig controls per-session timers and the session registry.
type SessionConfig struct {
	PauseTimeout      time.Duration `yaml:"pause_timeout"`
	SegmentThreshold  time.Duration `yaml:"segment_threshold"`
	SegmentKeepChunks int           `yaml:"segment_keep_chunks"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// AnalyzerConfig controls when incremental enrichment runs.
type AnalyzerConfig struct {
	MinWords        int           `yaml:"min_words"`
	MinInterval     time.Duration `yaml:"min_interval"`
	PauseThreshold  time.Duration `yaml:"pause_threshold"`
	MaxPendingWords int           `yaml:"max_pending_words"`
	MergeMode       string        `yaml:"merge_mode"`
}

type LLMConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:     ":8000",
		SpeechAddr:   "localhost:50051",
		DBPath:       "voicenote.db",
		LanguageCode: "en-US",
		SampleRate:   16000,
		Stream: StreamConfig{
			ReplayWindowSeconds:   10,
			ReconnectMaxRetries:   5,
			ReconnectInitialDelay: time.Second,
			ReconnectMaxDelay:     30 * time.Second,
		},
		Session: SessionConfig{
			PauseTimeout:      5 * time.Minute,
			SegmentThreshold:  10 * time.Minute,
			SegmentKeepChunks: 50,
			IdleTimeout:       30 * time.Minute,
			SweepInterval:     time.Minute,
			EventBuffer:       256,
		},
		Analyzer: AnalyzerConfig{
			MinWords:        20,
			MinInterval:     5 * time.Second,
			PauseThreshold:  3 * time.Second,
			MaxPendingWords: 100,
			MergeMode:       MergeModeMerge,
		},
		LLM: LLMConfig{
			Model:     "default",
			MaxTokens: 1024,
		},
	}
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies environment overrides.
// An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.SpeechAddr = getEnv("SPEECH_ADDR", c.SpeechAddr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LanguageCode = getEnv("LANGUAGE_CODE", c.LanguageCode)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.Debug = getEnvBool("DEBUG", c.Debug)

	c.Stream.ReplayWindowSeconds = getEnvInt("REPLAY_WINDOW_SECONDS", c.Stream.ReplayWindowSeconds)
	c.Stream.ReconnectMaxRetries = getEnvInt("RECONNECT_MAX_RETRIES", c.Stream.ReconnectMaxRetries)
	c.Stream.ReconnectInitialDelay = getEnvDuration("RECONNECT_INITIAL_DELAY", c.Stream.ReconnectInitialDelay)
	c.Stream.ReconnectMaxDelay = getEnvDuration("RECONNECT_MAX_DELAY", c.Stream.ReconnectMaxDelay)

	c.Session.PauseTimeout = getEnvDuration("PAUSE_TIMEOUT", c.Session.PauseTimeout)
	c.Session.SegmentThreshold = getEnvDuration("SEGMENT_THRESHOLD", c.Session.SegmentThreshold)
	c.Session.SegmentKeepChunks = getEnvInt("SEGMENT_KEEP_CHUNKS", c.Session.SegmentKeepChunks)
	c.Session.IdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", c.Session.IdleTimeout)
	c.Session.SweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", c.Session.SweepInterval)
	c.Session.EventBuffer = getEnvInt("SESSION_EVENT_BUFFER", c.Session.EventBuffer)

	c.Analyzer.MinWords = getEnvInt("ANALYZER_MIN_WORDS", c.Analyzer.MinWords)
	c.Analyzer.MinInterval = getEnvDuration("ANALYZER_MIN_INTERVAL", c.Analyzer.MinInterval)
	c.Analyzer.PauseThreshold = getEnvDuration("ANALYZER_PAUSE_THRESHOLD", c.Analyzer.PauseThreshold)
	c.Analyzer.MaxPendingWords = getEnvInt("ANALYZER_MAX_PENDING_WORDS", c.Analyzer.MaxPendingWords)
	c.Analyzer.MergeMode = strings.ToLower(getEnv("ANALYZER_MERGE_MODE", c.Analyzer.MergeMode))

	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.SpeechAddr != "", "speech_addr is required")
	check(c.SampleRate > 0, "sample_rate must be positive, got %d", c.SampleRate)
	check(c.Stream.ReplayWindowSeconds > 0, "stream.replay_window_seconds must be positive")
	check(c.Stream.ReconnectMaxRetries >= 0, "stream.reconnect_max_retries must not be negative")
	check(c.Stream.ReconnectInitialDelay > 0, "stream.reconnect_initial_delay must be positive")
	check(c.Stream.ReconnectMaxDelay >= c.Stream.ReconnectInitialDelay, "stream.reconnect_max_delay must be >= initial delay")
	check(c.Session.PauseTimeout > 0, "session.pause_timeout must be positive")
	check(c.Session.SegmentThreshold > 0, "session.segment_threshold must be positive")
	check(c.Session.SegmentKeepChunks >= 0, "session.segment_keep_chunks must not be negative")
	check(c.Session.EventBuffer > 0, "session.event_buffer must be positive")
	check(c.Analyzer.MinWords > 0, "analyzer.min_words must be positive")
	check(c.Analyzer.MaxPendingWords >= c.Analyzer.MinWords, "analyzer.max_pending_words must be >= min_words")
	check(c.Analyzer.MinInterval >= 0, "analyzer.min_interval must not be negative")
	check(c.Analyzer.MergeMode == MergeModeMerge || c.Analyzer.MergeMode == MergeModeReplace,
		"analyzer.merge_mode must be %q or %q, got %q", MergeModeMerge, MergeModeReplace, c.Analyzer.MergeMode)
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature must be in [0,2]")

	if len(problems) > 0 {
		return apperrors.New(apperrors.CodeConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

// getEnvDuration accepts Go duration strings ("750ms", "5m") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}
