// Command transcribe runs the full chunk/transcribe/diarize/merge pipeline
// against a single audio file and prints one JSON result record to stdout,
// per the engine's single-shot CLI contract.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/diarizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/governor"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/media"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/orchestrator"
	"github.com/scribeforge/transcribe-orchestrator/internal/queue"
	"github.com/scribeforge/transcribe-orchestrator/internal/recognizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/transcriber"
)

// resultRecord is the single JSON record printed to stdout on exit.
type resultRecord struct {
	Status                string  `json:"status"`
	Text                  string  `json:"text,omitempty"`
	Language              string  `json:"language,omitempty"`
	ProcessingType        string  `json:"processing_type,omitempty"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds,omitempty"`
	Error                 string  `json:"error,omitempty"`
	Timestamp             string  `json:"timestamp"`
}

func main() {
	cmd := command()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <path> [output_dir]",
		Short: "Transcribe a single audio file",
		Long:  "Chunk, transcribe, diarize, and merge one audio file, printing a single JSON result record to stdout.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcePath := args[0]

			cfg, err := config.Load()
			if err != nil {
				return emit(resultRecord{Status: "error", Error: err.Error(), Timestamp: now()})
			}

			outputDir := cfg.OutputDir
			if len(args) == 2 {
				outputDir = args[1]
			}

			logging.Init(cfg.Log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
			go func() {
				<-sigChan
				cancel()
			}()

			record := run(ctx, cfg, sourcePath, outputDir)
			return emit(record)
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

func run(ctx context.Context, cfg *config.Settings, sourcePath, outputDir string) resultRecord {
	start := time.Now()

	gov := governor.New(cfg.Governor)
	gov.Start()
	defer gov.Stop()

	q := queue.New(cfg.Queue.MaxQueueDepth, gov)
	loader := media.NewAutoLoader()
	tStage := transcriber.NewStage(recognizer.NewHTTPRecognizer(cfg.Recognizer), cfg.Transcriber)
	dStage := diarizer.NewStage(diarizer.NewHTTPDiarizer(cfg.DiarizerAdapter), cfg.Diarizer)

	orch := orchestrator.New(cfg, gov, q, loader, tStage, dStage)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go orch.Run(runCtx)

	jobID, err := orch.Submit(ctx, sourcePath, outputDir, model.PriorityNormal)
	if err != nil {
		return resultRecord{Status: "error", Error: err.Error(), Timestamp: now()}
	}

	job, err := awaitTerminal(ctx, orch, jobID)
	if err != nil {
		return resultRecord{Status: "error", Error: err.Error(), Timestamp: now()}
	}

	elapsed := time.Since(start).Seconds()

	if job.State == model.JobCancelled {
		return resultRecord{Status: "error", Error: "job cancelled", ProcessingTimeSeconds: elapsed, Timestamp: now()}
	}
	if job.State == model.JobFailed {
		return resultRecord{Status: "error", Error: job.Error, ProcessingTimeSeconds: elapsed, Timestamp: now()}
	}

	mt, err := readMergedTranscription(outputDir, jobID)
	if err != nil {
		return resultRecord{Status: "error", Error: err.Error(), ProcessingTimeSeconds: elapsed, Timestamp: now()}
	}

	return resultRecord{
		Status:                "success",
		Text:                  joinSegments(mt),
		Language:              mt.Language,
		ProcessingType:        processingType(mt),
		ProcessingTimeSeconds: elapsed,
		Timestamp:             now(),
	}
}

// awaitTerminal polls Status until the job reaches a terminal state or ctx is
// cancelled, matching the pattern the Orchestrator's own tests poll with.
func awaitTerminal(ctx context.Context, orch *orchestrator.Orchestrator, jobID string) (model.Job, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := orch.Status(jobID)
		if err != nil {
			return model.Job{}, err
		}
		switch job.State {
		case model.JobCompleted, model.JobFailed, model.JobCancelled:
			return job, nil
		}

		select {
		case <-ctx.Done():
			_ = orch.Cancel(jobID)
			return orch.Status(jobID)
		case <-ticker.C:
		}
	}
}

func readMergedTranscription(outputDir, jobID string) (model.MergedTranscription, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, jobID+".json"))
	if err != nil {
		return model.MergedTranscription{}, err
	}
	var mt model.MergedTranscription
	if err := json.Unmarshal(data, &mt); err != nil {
		return model.MergedTranscription{}, err
	}
	return mt, nil
}

func joinSegments(mt model.MergedTranscription) string {
	parts := make([]string, 0, len(mt.Segments))
	for _, seg := range mt.Segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// processingType reports whether the merged transcript carries more than one
// distinct speaker id. Every job runs the same pipeline; this only labels the
// result.
func processingType(mt model.MergedTranscription) string {
	if len(mt.SpeakerIDs) > 1 {
		return "multi_speaker"
	}
	return "single_speaker"
}

func emit(record resultRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if record.Status != "success" {
		return fmt.Errorf("%s", record.Error)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
