package crawler

import (
	"time"

	"github.com/performa-app/courtside/internal/extract"
)

// RunState identifies where the orchestrator is in its lifecycle.
type RunState string

// Lifecycle states of a crawl run.
const (
	StateIdle             RunState = "idle"
	StateRobotsCheck      RunState = "robots_check"
	StateDiscoveringTeams RunState = "discovering_teams"
	StateProcessingTeams  RunState = "processing_teams"
	StateFinalizing       RunState = "finalizing"
	StateComplete         RunState = "complete"
	StateFailed           RunState = "failed"
)

// Terminal statuses carried by RunResult.
const (
	RunStatusComplete = "complete"
	RunStatusError    = "error"
)

// TeamRecord is the persisted payload of one team slot.
type TeamRecord struct {
	Team    extract.Team     `json:"team"`
	Players []extract.Player `json:"players"`
}

// PlayerIndexEntry is one row of the cross-team player index.
type PlayerIndexEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Team     string `json:"team"`
	TeamID   string `json:"team_id"`
	Position string `json:"position"`
}

// PlayerIndex is the persisted payload of the players slot.
type PlayerIndex struct {
	Players []PlayerIndexEntry `json:"players"`
}

// SeriesPoint is one season value in a visualization series.
type SeriesPoint struct {
	Date  string  `json:"date"` // Season label, e.g. "2023-24"
	Value float64 `json:"value"`
}

// PlayerSeries is the per-player visualization payload: season series
// for points, rebounds and assists.
type PlayerSeries struct {
	ID       string                   `json:"id"`
	Name     string                   `json:"name"`
	Team     string                   `json:"team"`
	Position string                   `json:"position"`
	Stats    map[string][]SeriesPoint `json:"stats"`
}

// RunResult is the terminal outcome of one crawl run.
type RunResult struct {
	Status  string `json:"status"`
	Teams   int    `json:"teams,omitempty"`
	Players int    `json:"players,omitempty"`
	Message string `json:"message,omitempty"`
}

// Progress counts work finished so far in the active run.
type Progress struct {
	TeamsTotal       int `json:"teams_total"`
	TeamsProcessed   int `json:"teams_processed"`
	PlayersProcessed int `json:"players_processed"`
}

// RunRecord is one row of the durable run history.
type RunRecord struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Teams      int       `json:"teams"`
	Players    int       `json:"players"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RobotsEntry is one cached robots.txt result for an origin.
type RobotsEntry struct {
	Rules     RuleSet   `json:"rules"`
	FetchedAt time.Time `json:"fetched_at"`
}
