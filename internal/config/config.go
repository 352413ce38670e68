// Package config loads the transcription engine's settings from a YAML
// config file, environment variables, and CLI flags via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/scribeforge/transcribe-orchestrator/internal/cpuspec"
)

// TimeoutMode selects how per-chunk transcription/diarization timeouts scale.
type TimeoutMode string

const (
	TimeoutModeNone       TimeoutMode = "none"
	TimeoutModeMultiplier TimeoutMode = "multiplier"
	TimeoutModeCustom     TimeoutMode = "custom"
)

// GovernorSettings configures the Resource Governor's admission ceilings.
type GovernorSettings struct {
	MaxMemoryGB             float64 // hard memory ceiling before jobs are deferred
	MaxCPUPercent           float64 // CPU ceiling; Governor.Admit does not consult it (admission checks only job count and memory)
	MaxConcurrentJobs       int     // max jobs admitted at once
	MemoryAlertThresholdGB  float64 // pressure_signal fires above this
	CleanupThresholdGB      float64 // emergency_cleanup triggers above this
	SampleInterval          time.Duration
	LongFormMemCoefficient  float64 // GB per hour of audio, long-form audio (estimated_memory_gb)
	LongFormMemBase         float64
	ShortFormMemCoefficient float64 // GB per hour of audio, short-form audio
	ShortFormMemBase        float64
	ShortFormThresholdMin   float64 // duration below which a job is "short-form"
}

// QueueSettings configures the Priority Job Queue.
type QueueSettings struct {
	MaxQueueDepth int
}

// ChunkerSettings configures audio windowing.
type ChunkerSettings struct {
	WindowSeconds        float64
	OverlapSeconds       float64
	SilenceRMSThreshold  float64
	SilenceMinDurationMs int
	CutSnapToleranceSec  float64
}

// TranscriberSettings configures the Transcriber stage.
type TranscriberSettings struct {
	MaxRetries          int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	CacheCapacity       int
	RepetitionThreshold int // distinct-word-repetition count above which output is invalid
	TimeoutMode         TimeoutMode
	TimeoutMultiplier   float64
	CustomTimeout       time.Duration
	Concurrency         int // in-flight recognizer calls per job
}

// DiarizerSettings configures the Diarizer stage and speaker tracker.
type DiarizerSettings struct {
	MaxRetries            int
	BaseBackoff           time.Duration
	SimilarityThreshold   float64
	MaxSpeakers           int
	MinSpeakerDurationSec float64
	ConfidenceThreshold   float64
	Concurrency           int
}

// MergerSettings configures the fusion algorithm.
type MergerSettings struct {
	MinSegmentDurationSec float64
	MinConfidence         float64
	AdjacentMergeGapSec   float64
	OverlapThresholdSec   float64
	SpeakerOverlapRatio   float64 // min fraction of a sub-segment a turn must cover to claim it
}

// RecognizerSettings configures the default HTTP recognizer adapter.
type RecognizerSettings struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	SampleRate int
}

// DiarizerAdapterSettings configures the default HTTP diarizer adapter.
type DiarizerAdapterSettings struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LogSettings configures structured logging and log rotation.
type LogSettings struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TelemetrySettings configures optional Sentry error reporting.
type TelemetrySettings struct {
	SentryEnabled bool
	SentryDSN     string
}

// Settings is the root configuration object for the engine.
type Settings struct {
	Debug      bool
	OutputDir  string
	Governor   GovernorSettings
	Queue      QueueSettings
	Chunker    ChunkerSettings
	Transcriber TranscriberSettings
	Diarizer   DiarizerSettings
	Merger     MergerSettings
	Recognizer RecognizerSettings
	DiarizerAdapter DiarizerAdapterSettings
	Log        LogSettings
	Telemetry  TelemetrySettings
}

// Load reads the YAML config file from the first search path that has one
// (writing the built-in default YAML to the first path when none exists);
// environment variables override values from the file.
func Load() (*Settings, error) {
	var settings Settings

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	return &settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := getDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("TRANSCRIPTION")
	viper.AutomaticEnv()
	bindEnvOverrides()

	err = viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// bindEnvOverrides wires the environment variables named explicitly in the
// external-interfaces contract, independent of the TRANSCRIPTION_ auto-prefix.
func bindEnvOverrides() {
	_ = viper.BindEnv("transcriber.timeoutmode", "TRANSCRIPTION_TIMEOUT_MODE")
	_ = viper.BindEnv("transcriber.timeoutmultiplier", "CUSTOM_TIMEOUT_MULTIPLIER")
	_ = viper.BindEnv("recognizer.apikey", "RECOGNIZER_API_KEY")
	_ = viper.BindEnv("diarizeradapter.apikey", "DIARIZER_API_KEY")
}

func getDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			".",
			filepath.Join(homeDir, "AppData", "Local", "transcribe-orchestrator"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "transcribe-orchestrator"),
			"/etc/transcribe-orchestrator",
			".",
		}
	}

	return configPaths, nil
}

func createDefaultConfig() error {
	configPaths, err := getDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

// defaultStageConcurrency derives a worker-pool size for the transcriber and
// diarizer stages from the host's performance-core count, clamped to
// [2, 8] since both stages share the host with each other and with the
// recognizer/diarizer HTTP adapters they call out to.
func defaultStageConcurrency() int {
	threads := cpuspec.GetCPUSpec().GetOptimalThreadCount()
	if threads < 2 {
		return 2
	}
	if threads > 8 {
		return 8
	}
	return threads
}

// Defaults returns a Settings populated with the spec's verbatim defaults,
// for use by callers that don't go through a config file (e.g. tests).
func Defaults() *Settings {
	stageConcurrency := defaultStageConcurrency()
	return &Settings{
		OutputDir: "output",
		Governor: GovernorSettings{
			MaxMemoryGB:             56.0,
			MaxCPUPercent:           90.0,
			MaxConcurrentJobs:       1,
			MemoryAlertThresholdGB:  45.0,
			CleanupThresholdGB:      30.0,
			SampleInterval:          30 * time.Second,
			LongFormMemCoefficient:  0.3,
			LongFormMemBase:         10,
			ShortFormMemCoefficient: 0.15,
			ShortFormMemBase:        6,
			ShortFormThresholdMin:   10,
		},
		Queue: QueueSettings{
			MaxQueueDepth: 256,
		},
		Chunker: ChunkerSettings{
			WindowSeconds:        30,
			OverlapSeconds:       5,
			SilenceRMSThreshold:  -40,
			SilenceMinDurationMs: 500,
			CutSnapToleranceSec:  2,
		},
		Transcriber: TranscriberSettings{
			MaxRetries:          3,
			BaseBackoff:         1 * time.Second,
			MaxBackoff:          30 * time.Second,
			CacheCapacity:       512,
			RepetitionThreshold: 8,
			TimeoutMode:         TimeoutModeMultiplier,
			TimeoutMultiplier:   3.0,
			CustomTimeout:       0,
			Concurrency:         stageConcurrency,
		},
		Diarizer: DiarizerSettings{
			MaxRetries:            3,
			BaseBackoff:           2 * time.Second,
			SimilarityThreshold:   0.7,
			MaxSpeakers:           8,
			MinSpeakerDurationSec: 1.0,
			ConfidenceThreshold:   0.5,
			Concurrency:           stageConcurrency,
		},
		Merger: MergerSettings{
			MinSegmentDurationSec: 0.5,
			MinConfidence:         0.35,
			AdjacentMergeGapSec:   2.0,
			OverlapThresholdSec:   0.5,
			SpeakerOverlapRatio:   0.3,
		},
		Recognizer: RecognizerSettings{
			BaseURL:    "http://localhost:9000",
			Timeout:    60 * time.Second,
			SampleRate: 16000,
		},
		DiarizerAdapter: DiarizerAdapterSettings{
			BaseURL: "http://localhost:9001",
			Timeout: 60 * time.Second,
		},
		Log: LogSettings{
			Level:      "info",
			Path:       "logs/transcribe-orchestrator.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

const defaultConfigYAML = `# transcribe-orchestrator configuration

debug: false
outputdir: output

governor:
  maxmemorygb: 56.0
  maxcpupercent: 90.0
  maxconcurrentjobs: 1
  memoryalertthresholdgb: 45.0
  cleanupthresholdgb: 30.0
  sampleinterval: 30s
  longformmemcoefficient: 0.3
  longformmembase: 10
  shortformmemcoefficient: 0.15
  shortformmembase: 6
  shortformthresholdmin: 10

queue:
  maxqueuedepth: 256

chunker:
  windowseconds: 30
  overlapseconds: 5
  silencermsthreshold: -40
  silencemindurationms: 500
  cutsnaptolerancesec: 2

transcriber:
  maxretries: 3
  basebackoff: 1s
  maxbackoff: 30s
  cachecapacity: 512
  repetitionthreshold: 8
  timeoutmode: multiplier
  timeoutmultiplier: 3.0
  concurrency: 2

diarizer:
  maxretries: 3
  basebackoff: 2s
  similaritythreshold: 0.7
  maxspeakers: 8
  minspeakerdurationsec: 1.0
  confidencethreshold: 0.5
  concurrency: 2

merger:
  minsegmentdurationsec: 0.5
  minconfidence: 0.35
  adjacentmergegapsec: 2.0
  overlapthresholdsec: 0.5
  speakeroverlapratio: 0.3

recognizer:
  baseurl: http://localhost:9000
  timeout: 60s
  samplerate: 16000

diarizeradapter:
  baseurl: http://localhost:9001
  timeout: 60s

log:
  level: info
  path: logs/transcribe-orchestrator.log
  maxsizemb: 50
  maxbackups: 5
  maxagedays: 28
  compress: true
`
