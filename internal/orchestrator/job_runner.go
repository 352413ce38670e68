package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scribeforge/transcribe-orchestrator/internal/chunker"
	"github.com/scribeforge/transcribe-orchestrator/internal/diarizer/speaker"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/merger"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"golang.org/x/sync/errgroup"
)

// runJob drives one job through chunk -> transcribe/diarize -> merge,
// writing JSON and SubRip artifacts on success and on partial failure.
func (o *Orchestrator) runJob(ctx context.Context, job *model.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	rt := o.runtimes[job.ID]
	rt.cancel = cancel
	rt.arena = speaker.NewArena(o.cfg.Diarizer.SimilarityThreshold)
	job.State = model.JobRunning
	job.StartedAt = time.Now()
	o.mu.Unlock()

	o.setProgress(job, model.StageChunking, 10, "chunking audio")

	start := time.Now()
	success := false
	defer func() {
		o.gov.OnFinish(job.ID, success, time.Since(start))
		o.mu.Lock()
		job.FinishedAt = time.Now()
		job.Stats.TotalDuration = job.FinishedAt.Sub(job.StartedAt)
		o.evictToHistoryLocked(job.ID)
		o.mu.Unlock()
	}()

	chunks, err := o.runChunking(job, rt)
	if err != nil {
		o.failJob(job, err)
		return
	}

	transcribed := o.runTranscription(jobCtx, job, chunks)
	if jobCtx.Err() != nil {
		o.failJob(job, jobCtx.Err())
		o.writePartialArtifacts(job, chunks, transcribed, nil)
		return
	}

	turns := o.runDiarization(jobCtx, job, rt.arena, chunks)
	if jobCtx.Err() != nil {
		o.failJob(job, jobCtx.Err())
		o.writePartialArtifacts(job, chunks, transcribed, turns)
		return
	}

	o.setProgress(job, model.StageMerging, 85, "merging transcript and speaker turns")
	mt := merger.Merge(chunks, transcribed, turns, o.cfg.Merger)
	mt.SourcePath = job.SourcePath
	mt.Stats = job.Stats

	if err := o.writeArtifacts(job, mt); err != nil {
		o.failJob(job, err)
		return
	}

	o.mu.Lock()
	job.State = model.JobCompleted
	o.mu.Unlock()
	o.setProgress(job, model.StageCompleted, 100, "done")
	success = true
}

func (o *Orchestrator) runChunking(job *model.Job, rt *runtimeState) ([]model.AudioChunk, error) {
	t0 := time.Now()
	chunks, err := chunker.Chunk(job.ID, rt.samples, rt.sampleRate, o.cfg.Chunker)
	o.mu.Lock()
	job.Stats.ChunkingDuration = time.Since(t0)
	job.Stats.ChunkCount = len(chunks)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	o.setProgress(job, model.StageChunking, 30, fmt.Sprintf("%d chunks produced", len(chunks)))
	return chunks, nil
}

func (o *Orchestrator) runTranscription(ctx context.Context, job *model.Job, chunks []model.AudioChunk) []model.TranscribedChunk {
	t0 := time.Now()
	workers := o.cfg.Transcriber.Concurrency
	if workers <= 0 {
		workers = 2
	}
	results, retries := o.transcriber.ProcessAll(ctx, chunks, workers)

	dropped := 0
	for _, r := range results {
		if r.Err != "" {
			dropped++
		}
	}

	o.mu.Lock()
	job.Stats.TranscribeDuration = time.Since(t0)
	job.Stats.TranscribeRetries = retries
	job.Stats.DroppedChunks += dropped
	o.mu.Unlock()

	o.setProgress(job, model.StageTranscribing, 60, fmt.Sprintf("transcribed %d/%d chunks", len(chunks)-dropped, len(chunks)))
	return results
}

func (o *Orchestrator) runDiarization(ctx context.Context, job *model.Job, arena *speaker.Arena, chunks []model.AudioChunk) []model.SpeakerTurn {
	t0 := time.Now()

	workers := o.cfg.Diarizer.Concurrency
	if workers <= 0 {
		workers = 2
	}

	allTurns := make([][]model.SpeakerTurn, len(chunks))
	var retryTotal int
	var retryMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			dc, turns, _ := o.diarizer.ProcessChunk(gctx, arena, chunk)
			if dc.Err != "" {
				logging.Warn("diarizer chunk failed", "job_id", job.ID, "chunk_id", chunk.ID, "error", dc.Err)
				retryMu.Lock()
				retryTotal++
				retryMu.Unlock()
				return nil
			}
			allTurns[i] = turns
			return nil
		})
	}
	_ = g.Wait()

	var merged []model.SpeakerTurn
	for _, turns := range allTurns {
		merged = append(merged, turns...)
	}

	o.mu.Lock()
	job.Stats.DiarizeDuration = time.Since(t0)
	job.Stats.DiarizeRetries = retryTotal
	o.mu.Unlock()

	o.setProgress(job, model.StageDiarizing, 85, fmt.Sprintf("identified %d speakers", arena.SpeakerCount()))
	return merged
}

func (o *Orchestrator) failJob(job *model.Job, err error) {
	o.mu.Lock()
	if job.State != model.JobCancelled {
		job.State = model.JobFailed
	}
	job.Error = err.Error()
	o.mu.Unlock()
	o.setProgress(job, model.StageFailed, job.Progress.Percent, err.Error())
	logging.Error("job failed", "job_id", job.ID, "error", err)
}

func (o *Orchestrator) writeArtifacts(job *model.Job, mt model.MergedTranscription) error {
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return err
	}

	data, err := merger.ExportJSON(mt)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(job.OutputDir, job.ID+".json"), data, 0o644); err != nil {
		return err
	}

	srt := merger.ExportSubRip(mt)
	return os.WriteFile(filepath.Join(job.OutputDir, job.ID+".srt"), []byte(srt), 0o644)
}

// writePartialArtifacts best-effort writes whatever the pipeline produced
// before a failure, per the "still attempt to write partial artifacts"
// contract.
func (o *Orchestrator) writePartialArtifacts(job *model.Job, chunks []model.AudioChunk, transcribed []model.TranscribedChunk, turns []model.SpeakerTurn) {
	mt := merger.Merge(chunks, transcribed, turns, o.cfg.Merger)
	mt.SourcePath = job.SourcePath
	if err := o.writeArtifacts(job, mt); err != nil {
		logging.Warn("failed to write partial artifacts", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) setProgress(job *model.Job, stage model.Stage, percent int, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if percent < job.Progress.Percent {
		percent = job.Progress.Percent
	}
	job.Progress = model.Progress{Stage: stage, Percent: percent, Message: message}
}
