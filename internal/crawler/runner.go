package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/performa-app/courtside/internal/config"
	"github.com/performa-app/courtside/internal/metrics"
)

// Runner serializes crawl runs: at most one run is active at a time.
// It owns the HTTP client and robots policy shared between runs, and
// records every finished run in the store.
type Runner struct {
	cfg    *config.Config
	client *HTTPClient
	robots *RobotsPolicy
	store  Store
	log    *slog.Logger

	mu      sync.Mutex
	running bool
	session *Session
	lastRun *RunRecord
}

// RunStatus is the live status surface exposed over the API.
type RunStatus struct {
	Running  bool     `json:"running"`
	State    RunState `json:"state"`
	Progress Progress `json:"progress"`
	LastRun  *RunInfo `json:"last_run"`
}

// RunInfo pairs a finished run's result with its completion time.
type RunInfo struct {
	Time   time.Time `json:"time"`
	Result RunResult `json:"result"`
}

// NewRunner creates a runner on top of store. The last recorded run is
// loaded back so status reporting survives restarts.
func NewRunner(cfg *config.Config, store Store, log *slog.Logger) *Runner {
	client := NewHTTPClient(cfg.UserAgent, cfg.Referer, cfg.RequestTimeout)
	robots := NewRobotsPolicy(client, store, cfg.UserAgent, cfg.RobotsCacheTTL, cfg.RobotsTimeout, log)

	r := &Runner{
		cfg:    cfg,
		client: client,
		robots: robots,
		store:  store,
		log:    log.With("component", "runner"),
	}

	if rec, err := store.LatestRun(); err == nil {
		r.lastRun = rec
	} else if !errors.Is(err, ErrNoRuns) {
		log.Warn("failed to load last run", "error", err)
	}

	return r
}

// Start launches a crawl in the background and returns its run ID.
// ErrRunActive is returned while a run is already in flight.
func (r *Runner) Start(ctx context.Context) (string, error) {
	session, err := r.begin()
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	started := time.Now().UTC()

	go func() {
		result := session.Run(ctx)
		r.finish(runID, started, result)
	}()

	return runID, nil
}

// RunOnce executes a single crawl synchronously, for one-shot use.
func (r *Runner) RunOnce(ctx context.Context) (RunResult, error) {
	session, err := r.begin()
	if err != nil {
		return RunResult{}, err
	}

	runID := uuid.NewString()
	started := time.Now().UTC()
	result := session.Run(ctx)
	r.finish(runID, started, result)

	return result, nil
}

// IsRunning reports whether a crawl run is currently in flight.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Status reports whether a run is active, its state and progress, and
// the outcome of the most recent finished run.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := RunStatus{Running: r.running, State: StateIdle}
	if r.session != nil {
		st.State = r.session.State()
		st.Progress = r.session.Progress()
	}
	if r.lastRun != nil {
		st.LastRun = &RunInfo{
			Time: r.lastRun.FinishedAt,
			Result: RunResult{
				Status:  r.lastRun.Status,
				Teams:   r.lastRun.Teams,
				Players: r.lastRun.Players,
				Message: r.lastRun.Message,
			},
		}
	}
	return st
}

// Close releases the runner's HTTP resources.
func (r *Runner) Close() {
	r.client.Close()
}

// begin claims the single active-run slot and builds the session.
func (r *Runner) begin() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, ErrRunActive
	}

	session := NewSession(r.cfg, r.client, r.robots, r.store, r.log)
	r.running = true
	r.session = session
	metrics.SetRunActive(true)

	return session, nil
}

// finish persists the run record and releases the active-run slot.
func (r *Runner) finish(runID string, started time.Time, result RunResult) {
	rec := RunRecord{
		ID:         runID,
		Status:     result.Status,
		Teams:      result.Teams,
		Players:    result.Players,
		Message:    result.Message,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err := r.store.SaveRun(rec); err != nil {
		r.log.Error("failed to save run record", "run_id", runID, "error", err)
	}

	metrics.SetRunActive(false)
	metrics.ObserveRunFinished(result.Status)

	r.mu.Lock()
	r.running = false
	r.lastRun = &rec
	r.mu.Unlock()

	r.log.Info("run finished", "run_id", runID, "status", result.Status,
		"teams", result.Teams, "players", result.Players)
}
