// Package governor tracks system resource headroom and decides whether new
// jobs may be admitted, mirroring the sampling-loop shape of a system
// resource monitor but feeding admission decisions instead of alerts.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Admitted Decision = iota
	Deferred
)

func (d Decision) String() string {
	if d == Admitted {
		return "Admitted"
	}
	return "Deferred"
}

// Stats is a snapshot of the Governor's running counters.
type Stats struct {
	RunningCount        int
	CompletedCount      int
	FailedCount         int
	CurrentMemoryGB     float64
	PeakMemoryGB        float64
	AvgProcessingTime   time.Duration
	LastCPUPercent      float64
	LastMemoryPercent   float64
	LastSampledMemoryGB float64
	LastSampleAt        time.Time
}

// PressureCallback is invoked when sampled memory crosses the alert
// threshold. Callbacks should be fast and non-blocking.
type PressureCallback func()

// Admittable describes the subset of a job's properties the Governor needs
// to make an admission decision, decoupling this package from internal/model.
type Admittable struct {
	ID                string
	EstimatedMemoryGB float64
}

// Governor tracks memory/CPU/running-job counts and admits or defers jobs
// against configured ceilings. A single mutex (not re-entrant) guards admission,
// the running set, and statistics; the sampling loop runs on its own
// goroutine.
type Governor struct {
	cfg config.GovernorSettings

	mu              sync.Mutex
	running         map[string]float64 // job id -> pledged memory GB
	currentMemoryGB float64
	peakMemoryGB    float64
	completedCount  int
	failedCount     int
	totalDuration   time.Duration
	processedJobs   int

	lastCPUPercent      float64
	lastMemoryPercent   float64
	lastSampledMemoryGB float64
	lastSampleAt        time.Time

	pressureCallbacks []PressureCallback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Governor with the given settings. Call Start to begin
// sampling.
func New(cfg config.GovernorSettings) *Governor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Governor{
		cfg:     cfg,
		running: make(map[string]float64),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the background sampling loop.
func (g *Governor) Start() {
	g.wg.Add(1)
	go g.sampleLoop()
}

// Stop halts the sampling loop and waits for it to exit.
func (g *Governor) Stop() {
	g.cancel()
	g.wg.Wait()
}

func (g *Governor) sampleLoop() {
	defer g.wg.Done()

	interval := g.cfg.SampleInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	g.sampleOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sampleOnce()
		case <-g.ctx.Done():
			return
		}
	}
}

// sampleOnce reads CPU and memory utilization. Sampling failures are logged
// and the previous reading retained — governor errors are never fatal.
func (g *Governor) sampleOnce() {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		logging.Warn("governor: failed to sample memory, keeping previous reading", "error", err)
	}

	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		logging.Warn("governor: failed to sample cpu, keeping previous reading", "error", err)
	}

	g.mu.Lock()
	if memInfo != nil {
		g.lastMemoryPercent = memInfo.UsedPercent
		g.lastSampledMemoryGB = float64(memInfo.Used) / (1 << 30)
	}
	if len(cpuPercent) > 0 {
		g.lastCPUPercent = cpuPercent[0]
	}
	g.lastSampleAt = time.Now()
	sampledMemGB := g.lastSampledMemoryGB
	alertThreshold := g.cfg.MemoryAlertThresholdGB
	criticalThreshold := g.cfg.CleanupThresholdGB
	g.mu.Unlock()

	// pressure_signal and emergency_cleanup fire off the OS-sampled figure,
	// not the admission ledger — real memory pressure from outside this
	// engine's own job estimates must still be able to trigger them.
	if alertThreshold > 0 && sampledMemGB >= alertThreshold {
		g.firePressureSignal()
	}
	if criticalThreshold > 0 && sampledMemGB >= criticalThreshold {
		g.emergencyCleanup()
	}
}

// Admit decides whether job may run now. Admitted jobs must call OnStart.
// Admit keeps no list of deferred jobs. The Orchestrator's dispatcher calls it
// for a job it has already dequeued and polls again every 500ms until the job
// is admitted; that job is no longer in the queue while it waits.
func (g *Governor) Admit(job Admittable) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	maxConcurrent := g.cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	if len(g.running) >= maxConcurrent {
		return Deferred
	}
	if g.cfg.MaxMemoryGB > 0 && g.currentMemoryGB+job.EstimatedMemoryGB > g.cfg.MaxMemoryGB {
		return Deferred
	}

	return Admitted
}

// Fits reports synchronously whether a job could ever be admitted given the
// Governor's static ceilings, independent of current load. Used at submit
// time to reject impossible jobs immediately.
func (g *Governor) Fits(job Admittable) bool {
	if g.cfg.MaxMemoryGB <= 0 {
		return true
	}
	return job.EstimatedMemoryGB <= g.cfg.MaxMemoryGB
}

// OnStart records that job has begun running and pledges its estimated
// memory against the ceiling.
func (g *Governor) OnStart(jobID string, estimatedMemoryGB float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.running[jobID] = estimatedMemoryGB
	g.currentMemoryGB += estimatedMemoryGB
	if g.currentMemoryGB > g.peakMemoryGB {
		g.peakMemoryGB = g.currentMemoryGB
	}
}

// OnFinish records job completion, releasing its pledged memory and updating
// the moving-average processing time.
func (g *Governor) OnFinish(jobID string, success bool, duration time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if mem, ok := g.running[jobID]; ok {
		g.currentMemoryGB -= mem
		if g.currentMemoryGB < 0 {
			g.currentMemoryGB = 0
		}
		delete(g.running, jobID)
	}

	if success {
		g.completedCount++
	} else {
		g.failedCount++
	}

	g.totalDuration += duration
	g.processedJobs++
}

// RegisterPressureCallback registers a function invoked when sampled memory
// crosses the alert threshold (e.g. refuse new admissions this tick, trigger
// cache eviction).
func (g *Governor) RegisterPressureCallback(cb PressureCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pressureCallbacks = append(g.pressureCallbacks, cb)
}

func (g *Governor) firePressureSignal() {
	g.mu.Lock()
	callbacks := make([]PressureCallback, len(g.pressureCallbacks))
	copy(callbacks, g.pressureCallbacks)
	g.mu.Unlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

// emergencyCleanup invokes the registered pressure callbacks, the same ones
// firePressureSignal invokes. It does not itself drop completed-job history
// or any other state.
func (g *Governor) emergencyCleanup() {
	g.firePressureSignal()
}

// Snapshot returns a point-in-time view of the Governor's counters.
func (g *Governor) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	var avg time.Duration
	if g.processedJobs > 0 {
		avg = g.totalDuration / time.Duration(g.processedJobs)
	}

	return Stats{
		RunningCount:        len(g.running),
		CompletedCount:      g.completedCount,
		FailedCount:         g.failedCount,
		CurrentMemoryGB:     g.currentMemoryGB,
		PeakMemoryGB:        g.peakMemoryGB,
		AvgProcessingTime:   avg,
		LastCPUPercent:      g.lastCPUPercent,
		LastMemoryPercent:   g.lastMemoryPercent,
		LastSampledMemoryGB: g.lastSampledMemoryGB,
		LastSampleAt:        g.lastSampleAt,
	}
}

// EstimateMemoryGB implements the spec's piecewise memory estimate: audio
// above the short-form duration threshold uses the long-form coefficients.
func EstimateMemoryGB(cfg config.GovernorSettings, durationMinutes float64) float64 {
	hours := durationMinutes / 60.0
	if durationMinutes > cfg.ShortFormThresholdMin {
		return hours*cfg.LongFormMemCoefficient + cfg.LongFormMemBase
	}
	return hours*cfg.ShortFormMemCoefficient + cfg.ShortFormMemBase
}
