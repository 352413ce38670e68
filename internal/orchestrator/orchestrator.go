// Package orchestrator is the top-level coordinator: job submission,
// status/cancel, and the dispatch/monitor background loops that drive each
// job through chunking, transcription, diarization, and merge.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/diarizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/diarizer/speaker"
	"github.com/scribeforge/transcribe-orchestrator/internal/governor"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/media"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/queue"
	"github.com/scribeforge/transcribe-orchestrator/internal/transcriber"
	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

const (
	historyCap = 50
	historyTTL = 30 * time.Minute
)

// SystemStatus is a point-in-time snapshot across the whole engine.
type SystemStatus struct {
	Governor   governor.Stats
	QueueDepth int
	ActiveJobs int
}

// runtimeState is per-job decoded-audio and arena state, kept out of
// model.Job so the public status view stays small and copyable.
type runtimeState struct {
	samples    []float32
	sampleRate int
	arena      *speaker.Arena
	cancel     context.CancelFunc
}

// Orchestrator owns the full job lifecycle and the engine's two background
// loops (dispatch, monitor).
type Orchestrator struct {
	cfg *config.Settings

	gov *governor.Governor
	q   *queue.Queue

	loader      media.Loader
	transcriber *transcriber.Stage
	diarizer    *diarizer.Stage

	mu       sync.Mutex
	jobs     map[string]*model.Job
	runtimes map[string]*runtimeState
	history  []string // completed/failed/cancelled job ids, submit-order

	wg sync.WaitGroup
}

// New builds an Orchestrator wired to the given collaborators.
func New(cfg *config.Settings, gov *governor.Governor, q *queue.Queue, loader media.Loader, tStage *transcriber.Stage, dStage *diarizer.Stage) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		gov:         gov,
		q:           q,
		loader:      loader,
		transcriber: tStage,
		diarizer:    dStage,
		jobs:        make(map[string]*model.Job),
		runtimes:    make(map[string]*runtimeState),
	}
}

// Run starts the dispatch and monitor loops and blocks until ctx is
// cancelled, then waits for in-flight work to unwind.
func (o *Orchestrator) Run(ctx context.Context) {
	o.wg.Add(2)
	go o.dispatchLoop(ctx)
	go o.monitorLoop(ctx)
	<-ctx.Done()
	o.wg.Wait()
}

// Submit decodes the source file, estimates resource needs, and enqueues the
// job. Returns the assigned job id.
func (o *Orchestrator) Submit(ctx context.Context, sourcePath, outputDir string, priority model.Priority) (string, error) {
	targetRate := o.cfg.Recognizer.SampleRate
	if targetRate <= 0 {
		targetRate = 16000
	}

	samples, sampleRate, err := o.loader.Load(ctx, sourcePath, targetRate)
	if err != nil {
		return "", xerrors.Wrap(err).Component("orchestrator").Category(xerrors.CategoryMedia).FileContext(sourcePath, 0).Build()
	}

	durationMin := float64(len(samples)) / float64(sampleRate) / 60.0
	estimatedMemGB := governor.EstimateMemoryGB(o.cfg.Governor, durationMin)

	job := &model.Job{
		SourcePath:           sourcePath,
		OutputDir:            outputDir,
		Priority:             priority,
		EstimatedMemoryGB:    estimatedMemGB,
		EstimatedDurationMin: durationMin,
		State:                model.JobPending,
		SubmittedAt:          time.Now(),
	}

	if err := o.q.Submit(job); err != nil {
		return "", err
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.runtimes[job.ID] = &runtimeState{samples: samples, sampleRate: sampleRate}
	o.mu.Unlock()

	logging.Info("job submitted", "job_id", job.ID, "source", sourcePath, "estimated_memory_gb", estimatedMemGB, "estimated_duration_min", durationMin)

	return job.ID, nil
}

// Status returns a copy of the job's current state.
func (o *Orchestrator) Status(jobID string) (model.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[jobID]
	if !ok {
		return model.Job{}, xerrors.Newf("no such job").Component("orchestrator").Category(xerrors.CategoryNotFound).Context("job_id", jobID).Build()
	}
	return *job, nil
}

// Cancel marks a job cancelled. A running job's in-flight context is
// cancelled; a pending job is marked cancelled and skipped when dequeued.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[jobID]
	if !ok {
		return xerrors.Newf("no such job").Component("orchestrator").Category(xerrors.CategoryNotFound).Context("job_id", jobID).Build()
	}
	if job.State == model.JobCompleted || job.State == model.JobFailed || job.State == model.JobCancelled {
		return nil
	}

	rt, hasRuntime := o.runtimes[jobID]
	alreadyRunning := hasRuntime && rt.cancel != nil
	if alreadyRunning {
		rt.cancel()
	}

	job.State = model.JobCancelled
	job.FinishedAt = time.Now()

	// A running job's own goroutine evicts it to history when it unwinds
	// after the cancel propagates; only a still-queued job is evicted here.
	if !alreadyRunning {
		o.evictToHistoryLocked(jobID)
	}

	return nil
}

// SystemStatus returns a snapshot of governor load, queue depth, and active
// job count.
func (o *Orchestrator) SystemStatus() SystemStatus {
	o.mu.Lock()
	active := 0
	for _, job := range o.jobs {
		if job.State == model.JobRunning || job.State == model.JobAdmitted {
			active++
		}
	}
	o.mu.Unlock()

	return SystemStatus{
		Governor:   o.gov.Snapshot(),
		QueueDepth: o.q.Depth(),
		ActiveJobs: active,
	}
}

func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()

	for {
		job, err := o.q.Dequeue(ctx)
		if err != nil {
			return
		}

		if o.isCancelled(job.ID) {
			continue
		}

		o.awaitAdmission(ctx, job)
		if ctx.Err() != nil {
			return
		}

		o.wg.Add(1)
		go func(j *model.Job) {
			defer o.wg.Done()
			o.runJob(ctx, j)
		}(job)
	}
}

func (o *Orchestrator) isCancelled(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	return ok && job.State == model.JobCancelled
}

// awaitAdmission blocks until the Governor admits job or ctx is cancelled,
// polling on a short interval between samples.
func (o *Orchestrator) awaitAdmission(ctx context.Context, job *model.Job) {
	for {
		decision := o.gov.Admit(governor.Admittable{ID: job.ID, EstimatedMemoryGB: job.EstimatedMemoryGB})
		if decision == governor.Admitted {
			o.gov.OnStart(job.ID, job.EstimatedMemoryGB)
			o.mu.Lock()
			job.State = model.JobAdmitted
			o.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (o *Orchestrator) monitorLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := o.gov.Snapshot()
			logging.Info("orchestrator heartbeat", "running", stats.RunningCount, "queue_depth", o.q.Depth())
			o.evictStaleHistory()
		}
	}
}

func (o *Orchestrator) evictStaleHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := time.Now().Add(-historyTTL)
	kept := o.history[:0]
	for _, id := range o.history {
		job, ok := o.jobs[id]
		if !ok {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(o.jobs, id)
			delete(o.runtimes, id)
			continue
		}
		kept = append(kept, id)
	}
	o.history = kept

	for len(o.history) > historyCap {
		evictID := o.history[0]
		o.history = o.history[1:]
		delete(o.jobs, evictID)
		delete(o.runtimes, evictID)
	}
}

// evictToHistoryLocked appends a terminal job to the eviction-ordered
// history. Caller must hold o.mu.
func (o *Orchestrator) evictToHistoryLocked(jobID string) {
	o.history = append(o.history, jobID)
}
