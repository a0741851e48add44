// Package crawler provides the core crawling functionality: robots.txt
// compliance, per-domain rate limiting, a deduplicating priority work
// queue, and the session orchestrator that walks a crawl run through
// team discovery, roster processing and player enrichment.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/performa-app/courtside/internal/config"
	"github.com/performa-app/courtside/internal/extract"
	"github.com/performa-app/courtside/internal/metrics"
)

// Fetch priorities: lower values dequeue first.
const (
	priorityListing = 0
	priorityRoster  = 1
	priorityPlayer  = 2
)

// Session orchestrates a single crawl run. It owns the per-run rate
// limiter and work queue; the robots policy and HTTP client are shared
// with the runner so their caches survive across runs.
type Session struct {
	cfg       *config.Config
	client    *HTTPClient
	robots    *RobotsPolicy
	limiter   *RateLimiter
	queue     *WorkQueue
	extractor *extract.Extractor
	store     Store
	log       *slog.Logger

	mu       sync.Mutex
	state    RunState
	progress Progress
}

// NewSession assembles a session around shared infrastructure.
func NewSession(cfg *config.Config, client *HTTPClient, robots *RobotsPolicy, store Store, log *slog.Logger) *Session {
	limiter := NewRateLimiter(cfg.RatePerMinute, log)
	return &Session{
		cfg:       cfg,
		client:    client,
		robots:    robots,
		limiter:   limiter,
		queue:     NewWorkQueue(limiter),
		extractor: extract.NewExtractor(cfg.BaseURL),
		store:     store,
		log:       log.With("component", "session"),
		state:     StateIdle,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns a snapshot of the work counters.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Run executes one crawl: the robots gate on the listing URL, team
// discovery, per-team roster and player enrichment, then the derived
// index and visualization artifacts. A panic anywhere in the run is
// converted into an error result.
func (s *Session) Run(ctx context.Context) (result RunResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("crawl run panicked", "panic", r, "stack", string(debug.Stack()))
			s.setState(StateFailed)
			result = RunResult{Status: RunStatusError, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	s.log.Info("starting crawl run", "base_url", s.cfg.BaseURL)
	listingURL := s.cfg.ListingURL()

	s.setState(StateRobotsCheck)
	verdict, err := s.robots.Check(ctx, listingURL)
	if err != nil {
		s.setState(StateFailed)
		return RunResult{Status: RunStatusError, Message: err.Error()}
	}
	if !verdict.Allowed {
		s.log.Error("listing URL blocked by robots.txt", "url", listingURL)
		s.setState(StateFailed)
		return RunResult{Status: RunStatusError, Message: fmt.Sprintf("The URL %s is not allowed by robots.txt", listingURL)}
	}
	if verdict.CrawlDelay > 0 {
		s.applyCrawlDelay(listingURL, verdict.CrawlDelay)
	}

	s.setState(StateDiscoveringTeams)
	teams := s.discoverTeams(ctx, listingURL)
	if len(teams) == 0 {
		s.log.Error("no teams discovered, aborting")
		s.setState(StateFailed)
		return RunResult{Status: RunStatusError, Message: "No teams found"}
	}
	s.log.Info("discovered teams", "count", len(teams))

	s.mu.Lock()
	s.progress.TeamsTotal = len(teams)
	s.mu.Unlock()

	// The teams slot is a bare array, matching what consumers expect.
	if err := s.store.PutSlot("teams", teams); err != nil {
		s.log.Error("failed to store teams", "error", err)
	}

	s.setState(StateProcessingTeams)
	var allPlayers []extract.Player
	for i, team := range teams {
		s.log.Info("processing team", "team", team.Name, "index", i+1, "total", len(teams))
		players := s.processTeam(ctx, team)
		allPlayers = append(allPlayers, players...)

		s.mu.Lock()
		s.progress.TeamsProcessed++
		s.mu.Unlock()

		delay := s.cfg.TeamPause
		if verdict.CrawlDelay > delay {
			delay = verdict.CrawlDelay
		}
		s.log.Info("pausing before next team", "delay", delay)
		if err := s.pause(ctx, delay); err != nil {
			s.setState(StateFailed)
			return RunResult{Status: RunStatusError, Message: err.Error()}
		}
	}

	s.setState(StateFinalizing)
	if err := s.queue.Join(ctx); err != nil {
		s.setState(StateFailed)
		return RunResult{Status: RunStatusError, Message: err.Error()}
	}

	if err := s.store.PutSlot("players", buildPlayerIndex(allPlayers)); err != nil {
		s.log.Error("failed to store player index", "error", err)
	}
	if err := s.store.PutSlot("visualization", buildVisualization(allPlayers)); err != nil {
		s.log.Error("failed to store visualization", "error", err)
	}

	s.setState(StateComplete)
	s.log.Info("crawl completed", "teams", len(teams), "players", len(allPlayers))
	return RunResult{Status: RunStatusComplete, Teams: len(teams), Players: len(allPlayers)}
}

// applyCrawlDelay narrows the domain budget so the steady request
// interval respects the robots.txt crawl delay. The budget only ever
// shrinks; a crawl delay looser than the default changes nothing.
func (s *Session) applyCrawlDelay(listingURL string, delay time.Duration) {
	perMinute := 60 / delay.Seconds()
	if perMinute >= s.cfg.RatePerMinute {
		return
	}
	s.limiter.SetDomainRate(urlHost(listingURL), perMinute)
	s.log.Info("honoring robots crawl delay", "delay", delay, "rate_per_minute", perMinute)
}

// discoverTeams fetches the listing page and extracts the teams on it.
func (s *Session) discoverTeams(ctx context.Context, listingURL string) []extract.Team {
	body, err := s.fetchQueued(ctx, listingURL, priorityListing)
	if err != nil {
		s.log.Error("failed to fetch team listing", "url", listingURL, "error", err)
		return nil
	}

	teams, err := s.extractor.TeamList(body)
	if err != nil {
		s.log.Error("failed to parse team listing", "error", err)
		return nil
	}
	return teams
}

// processTeam fetches one team's roster, enriches the players in
// batches and persists the team slot. A team whose page cannot be
// fetched or parsed contributes no players but does not end the run.
func (s *Session) processTeam(ctx context.Context, team extract.Team) []extract.Player {
	body, err := s.fetchQueued(ctx, team.URL, priorityRoster)
	if err != nil {
		s.log.Warn("failed to fetch team page", "team", team.Name, "error", err)
		return nil
	}

	players, err := s.extractor.TeamRoster(body, team)
	if err != nil {
		s.log.Warn("failed to parse team roster", "team", team.Name, "error", err)
		return nil
	}
	s.log.Info("found players", "team", team.Name, "count", len(players))

	for start := 0; start < len(players); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(players))
		s.enrichBatch(ctx, players[start:end])

		s.mu.Lock()
		s.progress.PlayersProcessed += end - start
		s.mu.Unlock()

		if end < len(players) {
			if err := s.pause(ctx, s.cfg.BatchPause); err != nil {
				break
			}
		}
	}

	if err := s.store.PutSlot(team.ID, TeamRecord{Team: team, Players: players}); err != nil {
		s.log.Error("failed to store team record", "team", team.Name, "error", err)
	}
	return players
}

// enrichBatch fetches the detail pages of one batch concurrently. All
// batch URLs enter the work queue first; each worker then processes
// whichever URL the queue admits, so admission follows priority order
// and the domain budget.
func (s *Session) enrichBatch(ctx context.Context, batch []extract.Player) {
	byURL := make(map[string]*extract.Player, len(batch))
	accepted := 0
	for i := range batch {
		p := &batch[i]
		if p.URL == "" {
			continue // roster-only entry, nothing to fetch
		}
		if err := s.checkRobots(ctx, p.URL); err != nil {
			s.log.Warn("skipping disallowed player page", "player", p.Name, "url", p.URL)
			continue
		}
		if !s.queue.Enqueue(p.URL, priorityPlayer) {
			s.log.Debug("player page already fetched this run", "url", p.URL)
			continue
		}
		byURL[p.URL] = p
		accepted++
	}

	var wg sync.WaitGroup
	for i := 0; i < accepted; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			admitted, err := s.queue.Dequeue(ctx)
			if err != nil {
				return
			}
			defer s.queue.MarkDone()

			if p := byURL[admitted]; p != nil {
				s.enrichPlayer(ctx, p)
			}
		}()
	}
	wg.Wait()
}

// enrichPlayer fetches and parses one player's detail page. Failures
// leave the roster entry as-is.
func (s *Session) enrichPlayer(ctx context.Context, p *extract.Player) {
	s.log.Info("fetching player details", "player", p.Name)

	body, err := s.fetchBody(ctx, p.URL)
	if err != nil {
		s.log.Warn("failed to fetch player page", "player", p.Name, "error", err)
		return
	}
	if err := s.extractor.PlayerDetail(body, p); err != nil {
		s.log.Warn("failed to parse player page", "player", p.Name, "error", err)
	}
}

// fetchQueued admits pageURL through the robots gate and the work
// queue, then fetches it.
func (s *Session) fetchQueued(ctx context.Context, pageURL string, priority int) ([]byte, error) {
	if err := s.checkRobots(ctx, pageURL); err != nil {
		return nil, err
	}

	if !s.queue.Enqueue(pageURL, priority) {
		return nil, fmt.Errorf("URL already fetched this run: %s", pageURL)
	}
	admitted, err := s.queue.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	defer s.queue.MarkDone()

	return s.fetchBody(ctx, admitted)
}

// checkRobots enforces the per-page robots verdict. Fetch problems
// fail open inside the policy, so an error here means the URL itself
// is unusable or the page is explicitly disallowed.
func (s *Session) checkRobots(ctx context.Context, pageURL string) error {
	verdict, err := s.robots.Check(ctx, pageURL)
	if err != nil {
		return err
	}
	if !verdict.Allowed {
		metrics.ObserveRobotsDenied()
		return fmt.Errorf("%w: %s", ErrComplianceBlocked, pageURL)
	}
	return nil
}

// fetchBody performs the HTTP request with bounded retries on 429.
// Each retry waits out the backoff and then re-acquires a domain token
// before hitting the server again.
func (s *Session) fetchBody(ctx context.Context, pageURL string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := s.pause(ctx, s.cfg.RetryBackoff); err != nil {
				return nil, err
			}
			if err := s.limiter.Acquire(ctx, urlHost(pageURL)); err != nil {
				return nil, err
			}
		}

		resp, err := s.client.Get(ctx, pageURL)
		if err != nil {
			metrics.ObservePageFetch("network_error")
			return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			metrics.ObservePageFetch("ok")
			return resp.Body, nil

		case resp.StatusCode == http.StatusTooManyRequests && attempt < s.cfg.RetryAttempts:
			metrics.ObserveFetchRetry()
			s.log.Warn("rate limited by server, backing off",
				"url", pageURL, "attempt", attempt+1, "backoff", s.cfg.RetryBackoff)

		case resp.StatusCode == http.StatusTooManyRequests:
			metrics.ObservePageFetch("throttled")
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, pageURL)

		default:
			metrics.ObservePageFetch("http_error")
			return nil, fmt.Errorf("failed to fetch %s: status %d", pageURL, resp.StatusCode)
		}
	}
}

// pause sleeps for d unless the context ends first.
func (s *Session) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) setState(state RunState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.log.Info("run state changed", "state", state)
}
