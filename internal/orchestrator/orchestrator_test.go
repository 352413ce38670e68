package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/diarizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/governor"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/queue"
	"github.com/scribeforge/transcribe-orchestrator/internal/recognizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/transcriber"
)

type fakeLoader struct {
	samples    []float32
	sampleRate int
	err        error
}

func (f *fakeLoader) Load(ctx context.Context, path string, targetSampleRate int) ([]float32, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.samples, f.sampleRate, nil
}

func toneSamples(seconds float64, sampleRate int) []float32 {
	n := int(seconds * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.2
	}
	return out
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	cfg := config.Defaults()
	cfg.OutputDir = t.TempDir()
	cfg.Governor.MaxConcurrentJobs = 2
	cfg.Governor.MaxMemoryGB = 0 // unlimited for tests
	cfg.Governor.SampleInterval = time.Hour
	cfg.Chunker.WindowSeconds = 5
	cfg.Chunker.OverlapSeconds = 1
	cfg.Chunker.SilenceMinDurationMs = 100
	cfg.Transcriber.MaxRetries = 1
	cfg.Transcriber.BaseBackoff = time.Millisecond
	cfg.Transcriber.MaxBackoff = time.Millisecond
	cfg.Transcriber.TimeoutMode = config.TimeoutModeNone
	cfg.Diarizer.MaxRetries = 1
	cfg.Diarizer.BaseBackoff = time.Millisecond
	cfg.Diarizer.MinSpeakerDurationSec = 0.1
	cfg.Diarizer.ConfidenceThreshold = 0.1
	return cfg
}

func newTestOrchestrator(t *testing.T, loader *fakeLoader, rec *recognizer.Fake, diar *diarizer.Fake) (*Orchestrator, *config.Settings) {
	t.Helper()
	cfg := testSettings(t)

	gov := governor.New(cfg.Governor)
	q := queue.New(cfg.Queue.MaxQueueDepth, gov)
	tStage := transcriber.NewStage(rec, cfg.Transcriber)
	dStage := diarizer.NewStage(diar, cfg.Diarizer)

	return New(cfg, gov, q, loader, tStage, dStage), cfg
}

func writeTempAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "episode.wav")
	require.NoError(t, os.WriteFile(path, []byte("not real audio, loader is faked"), 0o644))
	return path
}

func TestSubmitAssignsJobIDAndEstimates(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{samples: toneSamples(10, 16000), sampleRate: 16000}
	rec := &recognizer.Fake{Result: recognizer.Result{Text: "a short transcript here"}}
	diar := &diarizer.Fake{Turns: nil}

	o, _ := newTestOrchestrator(t, loader, rec, diar)

	jobID, err := o.Submit(context.Background(), writeTempAudioFile(t), t.TempDir(), model.PriorityNormal)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	job, err := o.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.State)
	assert.Greater(t, job.EstimatedDurationMin, 0.0)
}

func TestStatusReturnsErrorForUnknownJob(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, &fakeLoader{}, &recognizer.Fake{}, &diarizer.Fake{})
	_, err := o.Status("does-not-exist")
	assert.Error(t, err)
}

func TestFullPipelineRunProducesArtifacts(t *testing.T) {
	t.Parallel()

	outputDir := t.TempDir()
	loader := &fakeLoader{samples: toneSamples(8, 16000), sampleRate: 16000}
	rec := &recognizer.Fake{Result: recognizer.Result{
		Text: "hello there general kenobi",
		SubSegments: []recognizer.SubSegment{
			{Start: 0, End: 2, Text: "hello there"},
		},
	}}
	diar := &diarizer.Fake{Turns: []diarizer.Turn{
		{LocalLabel: "spk0", Start: 0, End: 2, Confidence: 0.9},
	}}

	o, _ := newTestOrchestrator(t, loader, rec, diar)

	jobID, err := o.Submit(context.Background(), writeTempAudioFile(t), outputDir, model.PriorityNormal)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go o.Run(ctx)

	var job model.Job
	require.Eventually(t, func() bool {
		job, err = o.Status(jobID)
		return err == nil && (job.State == model.JobCompleted || job.State == model.JobFailed)
	}, 4*time.Second, 10*time.Millisecond)

	require.Equal(t, model.JobCompleted, job.State)
	assert.Equal(t, 100, job.Progress.Percent)

	jsonPath := filepath.Join(outputDir, jobID+".json")
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var mt model.MergedTranscription
	require.NoError(t, json.Unmarshal(data, &mt))
	assert.NotEmpty(t, mt.Segments)

	srtPath := filepath.Join(outputDir, jobID+".srt")
	_, err = os.Stat(srtPath)
	assert.NoError(t, err)
}

func TestCancelPendingJobMarksCancelled(t *testing.T) {
	t.Parallel()

	// The dispatch loop is never started, so the submitted job sits in the
	// queue untouched and Cancel must mark it without a runtime in flight.
	loader := &fakeLoader{samples: toneSamples(5, 16000), sampleRate: 16000}
	o, _ := newTestOrchestrator(t, loader, &recognizer.Fake{}, &diarizer.Fake{})

	jobID, err := o.Submit(context.Background(), writeTempAudioFile(t), t.TempDir(), model.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, o.Cancel(jobID))

	job, err := o.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, job.State)
}

func TestSystemStatusReflectsQueueDepth(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{samples: toneSamples(5, 16000), sampleRate: 16000}
	o, _ := newTestOrchestrator(t, loader, &recognizer.Fake{}, &diarizer.Fake{})

	_, err := o.Submit(context.Background(), writeTempAudioFile(t), t.TempDir(), model.PriorityNormal)
	require.NoError(t, err)

	status := o.SystemStatus()
	assert.Equal(t, 1, status.QueueDepth)
}
