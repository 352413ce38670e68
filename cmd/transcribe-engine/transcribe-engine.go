// Command transcribe-engine is the long-running multi-job daemon: it wires
// the Governor, priority Queue, and Orchestrator together, watches an input
// directory for new audio files, and submits one job per file it finds.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/diarizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/governor"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/media"
	"github.com/scribeforge/transcribe-orchestrator/internal/metrics"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/orchestrator"
	"github.com/scribeforge/transcribe-orchestrator/internal/queue"
	"github.com/scribeforge/transcribe-orchestrator/internal/recognizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/transcriber"
)

var audioExtensions = map[string]bool{".wav": true, ".wave": true, ".flac": true}

func main() {
	if err := command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func command() *cobra.Command {
	var watchDir string
	var outputDir string
	var pollSeconds int

	cmd := &cobra.Command{
		Use:   "transcribe-engine",
		Short: "Run the transcription engine as a persistent multi-job daemon",
		Long:  "Watch a directory for audio files and transcribe each one through the resource-aware job pipeline, running until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}

			logging.Init(cfg.Log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
			go func() {
				sig := <-sigChan
				logging.Info("received signal, initiating graceful shutdown", "signal", sig)
				cancel()
			}()

			return run(ctx, cfg, watchDir, pollSeconds)
		},
	}

	cmd.Flags().StringVarP(&watchDir, "watch-dir", "w", viper.GetString("engine.watchdir"), "Directory to scan for new audio files")
	cmd.Flags().StringVarP(&outputDir, "output", "o", viper.GetString("engine.outputdir"), "Directory transcripts are written to (overrides config)")
	cmd.Flags().IntVar(&pollSeconds, "poll-seconds", 30, "Base interval in seconds between directory scans (jittered +0-15s)")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
		os.Exit(1)
	}

	cmd.SilenceUsage = true
	return cmd
}

func run(ctx context.Context, cfg *config.Settings, watchDir string, pollSeconds int) error {
	if watchDir == "" {
		return fmt.Errorf("a --watch-dir is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	gov := governor.New(cfg.Governor)
	gov.Start()
	defer gov.Stop()

	q := queue.New(cfg.Queue.MaxQueueDepth, gov)
	loader := media.NewAutoLoader()
	tStage := transcriber.NewStage(recognizer.NewHTTPRecognizer(cfg.Recognizer), cfg.Transcriber)
	dStage := diarizer.NewStage(diarizer.NewHTTPDiarizer(cfg.DiarizerAdapter), cfg.Diarizer)
	orch := orchestrator.New(cfg, gov, q, loader, tStage, dStage)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportMetrics(ctx, orch, m)
	}()

	seen := &seenFiles{files: make(map[string]struct{})}

	logging.Info("transcribe-engine starting", "watch_dir", watchDir, "output_dir", cfg.OutputDir)

	if err := scanAndSubmit(ctx, orch, watchDir, cfg.OutputDir, seen, m); err != nil {
		logging.Error("initial directory scan failed", "error", err)
	}

	watchLoop(ctx, orch, watchDir, cfg.OutputDir, pollSeconds, seen, m)

	wg.Wait()
	return nil
}

// watchLoop rescans watchDir on a jittered interval until ctx is cancelled,
// mirroring the teacher's randomized-interval directory-watch loop.
func watchLoop(ctx context.Context, orch *orchestrator.Orchestrator, watchDir, outputDir string, pollSeconds int, seen *seenFiles, m *metrics.Metrics) {
	if pollSeconds <= 0 {
		pollSeconds = 30
	}

	for {
		jitter := rand.Intn(15)
		timer := time.NewTimer(time.Duration(pollSeconds+jitter) * time.Second)

		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Info("transcribe-engine stopping")
			return
		case <-timer.C:
			if err := scanAndSubmit(ctx, orch, watchDir, outputDir, seen, m); err != nil {
				logging.Warn("directory scan error", "error", err)
			}
		}
	}
}

type seenFiles struct {
	mu    sync.Mutex
	files map[string]struct{}
}

func (s *seenFiles) markIfNew(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; ok {
		return false
	}
	s.files[path] = struct{}{}
	return true
}

func scanAndSubmit(ctx context.Context, orch *orchestrator.Orchestrator, watchDir, outputDir string, seen *seenFiles, m *metrics.Metrics) error {
	return filepath.WalkDir(watchDir, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !audioExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if !seen.markIfNew(path) {
			return nil
		}

		jobID, err := orch.Submit(ctx, path, outputDir, model.PriorityNormal)
		if err != nil {
			logging.Warn("failed to submit job", "path", path, "error", err)
			return nil
		}
		m.JobsSubmittedTotal.Inc()
		logging.Info("job submitted", "job_id", jobID, "path", path)

		go watchOutcome(ctx, orch, jobID, m)
		return nil
	})
}

// watchOutcome polls a submitted job until it reaches a terminal state and
// increments the matching outcome counter, so the daemon's metrics reflect
// completions without the Orchestrator itself depending on the metrics
// package.
func watchOutcome(ctx context.Context, orch *orchestrator.Orchestrator, jobID string, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := orch.Status(jobID)
			if err != nil {
				return
			}
			switch job.State {
			case model.JobCompleted:
				m.JobsCompletedTotal.Inc()
				logging.Info("job completed", "job_id", jobID, "duration", job.Stats.TotalDuration)
				return
			case model.JobFailed:
				m.JobsFailedTotal.Inc()
				logging.Warn("job failed", "job_id", jobID, "error", job.Error)
				return
			case model.JobCancelled:
				m.JobsCancelledTotal.Inc()
				return
			}
		}
	}
}

func reportMetrics(ctx context.Context, orch *orchestrator.Orchestrator, m *metrics.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := orch.SystemStatus()
			m.ObserveSystemStatus(status.QueueDepth, status.ActiveJobs, status.Governor.CurrentMemoryGB, status.Governor.LastCPUPercent)
		}
	}
}
