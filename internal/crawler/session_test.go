package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/performa-app/courtside/internal/config"
	"github.com/performa-app/courtside/internal/extract"
)

const listingPath = "/sport/basketball/nba/players"

// fakeStore is an in-memory Store for orchestration tests.
type fakeStore struct {
	mu     sync.Mutex
	slots  map[string][]byte
	robots map[string]RobotsEntry
	runs   []RunRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slots:  map[string][]byte{},
		robots: map[string]RobotsEntry{},
	}
}

func (f *fakeStore) PutSlot(id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[id] = data
	return nil
}

func (f *fakeStore) GetSlot(id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	return data, nil
}

func (f *fakeStore) LoadRobotsCache() (map[string]RobotsEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]RobotsEntry, len(f.robots))
	for k, v := range f.robots {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SaveRobotsEntry(origin string, entry RobotsEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.robots[origin] = entry
	return nil
}

func (f *fakeStore) SaveRun(rec RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, rec)
	return nil
}

func (f *fakeStore) LatestRun() (*RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return nil, ErrNoRuns
	}
	rec := f.runs[len(f.runs)-1]
	return &rec, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeSite serves a small two-team league over httptest.
type sitePlayer struct {
	id             string
	name           string
	position       string
	detailPosition string
	ppg            string
}

type siteTeam struct {
	id      string
	name    string
	players []sitePlayer
}

type fakeSite struct {
	srv   *httptest.Server
	teams []siteTeam

	mu       sync.Mutex
	robots   string
	delay    time.Duration
	hits     map[string]int
	statuses map[string]int
	deny429  map[string]int
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()

	fs := &fakeSite{
		teams: []siteTeam{
			{id: "boston-celtics", name: "Boston Celtics", players: []sitePlayer{
				{id: "jayson-tatum", name: "Jayson Tatum", position: "SF", detailPosition: "Forward", ppg: "26.9"},
				{id: "jaylen-brown", name: "Jaylen Brown", position: "SG", detailPosition: "Guard", ppg: "23.0"},
				{id: "derrick-white", name: "Derrick White", position: "PG", detailPosition: "Guard", ppg: "15.2"},
			}},
			{id: "denver-nuggets", name: "Denver Nuggets", players: []sitePlayer{
				{id: "nikola-jokic", name: "Nikola Jokic", position: "C", detailPosition: "Center", ppg: "26.4"},
				{id: "jamal-murray", name: "Jamal Murray", position: "PG", detailPosition: "Guard", ppg: "21.2"},
				{id: "aaron-gordon", name: "Aaron Gordon", position: "PF", detailPosition: "Forward", ppg: "13.9"},
			}},
		},
		robots:   "User-agent: *\nDisallow:\n",
		hits:     map[string]int{},
		statuses: map[string]int{},
		deny429:  map[string]int{},
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeSite) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	fs.hits[r.URL.Path]++
	delay := fs.delay
	robots := fs.robots
	if n := fs.deny429[r.URL.Path]; n > 0 {
		fs.deny429[r.URL.Path] = n - 1
		fs.mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if code, ok := fs.statuses[r.URL.Path]; ok {
		fs.mu.Unlock()
		w.WriteHeader(code)
		return
	}
	fs.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	switch {
	case r.URL.Path == "/robots.txt":
		_, _ = io.WriteString(w, robots)
	case r.URL.Path == listingPath:
		fs.writeListing(w)
	case strings.HasPrefix(r.URL.Path, "/sport/basketball/nba/teams/"):
		fs.writeRoster(w, strings.TrimPrefix(r.URL.Path, "/sport/basketball/nba/teams/"))
	case strings.HasPrefix(r.URL.Path, "/sport/basketball/nba/players/"):
		fs.writePlayer(w, strings.TrimPrefix(r.URL.Path, "/sport/basketball/nba/players/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fs *fakeSite) writeListing(w http.ResponseWriter) {
	var b strings.Builder
	b.WriteString(`<html><body><div class="league-home-page__teams">`)
	for _, t := range fs.teams {
		fmt.Fprintf(&b, `<a href="/sport/basketball/nba/teams/%s"><h4>%s</h4></a>`, t.id, t.name)
	}
	b.WriteString(`</div></body></html>`)
	_, _ = io.WriteString(w, b.String())
}

func (fs *fakeSite) writeRoster(w http.ResponseWriter, teamID string) {
	for _, t := range fs.teams {
		if t.id != teamID {
			continue
		}
		var b strings.Builder
		b.WriteString(`<html><body>`)
		for _, p := range t.players {
			fmt.Fprintf(&b,
				`<div class="team-roster__player"><a href="/sport/basketball/nba/players/%s">%s</a><span class="team-roster__player-position">%s</span></div>`,
				p.id, p.name, p.position)
		}
		b.WriteString(`</body></html>`)
		_, _ = io.WriteString(w, b.String())
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (fs *fakeSite) writePlayer(w http.ResponseWriter, playerID string) {
	for _, t := range fs.teams {
		for _, p := range t.players {
			if p.id != playerID {
				continue
			}
			fmt.Fprintf(w, `<html><body>
<div class="player-card__image"><img src="/images/%s.jpg"></div>
<div class="player-card__info">
<div><span class="player-card__label">Position</span><span class="player-card__value">%s</span></div>
<div><span class="player-card__label">Height</span><span class="player-card__value">6'6"</span></div>
<div><span class="player-card__label">Weight</span><span class="player-card__value">210 lbs</span></div>
</div>
<h3>Regular Season Stats</h3>
<table class="sortable-stats-table">
<thead><tr><th>Season</th><th>PPG</th><th>RPG</th><th>APG</th></tr></thead>
<tbody>
<tr><td>2023-24</td><td>%s</td><td>8.1</td><td>4.9</td></tr>
<tr><td>2022-23</td><td>20.0</td><td>7.5</td><td>4.0</td></tr>
</tbody>
</table>
</body></html>`, playerID, p.detailPosition, p.ppg)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (fs *fakeSite) setRobots(s string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.robots = s
}

func (fs *fakeSite) setStatus(path string, code int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.statuses[path] = code
}

func (fs *fakeSite) set429(path string, count int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.deny429[path] = count
}

func (fs *fakeSite) setDelay(d time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.delay = d
}

func (fs *fakeSite) hitCount(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RatePerMinute = 100000 // effectively unthrottled
	cfg.BatchPause = time.Millisecond
	cfg.TeamPause = time.Millisecond
	cfg.RetryAttempts = 2
	cfg.RetryBackoff = 5 * time.Millisecond
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func newTestSession(t *testing.T, site *fakeSite, store Store) *Session {
	t.Helper()

	cfg := testConfig(t, site.srv.URL)
	client := NewHTTPClient(cfg.UserAgent, cfg.Referer, cfg.RequestTimeout)
	t.Cleanup(client.Close)
	robots := NewRobotsPolicy(client, store, cfg.UserAgent, cfg.RobotsCacheTTL, cfg.RobotsTimeout, testLogger())
	return NewSession(cfg, client, robots, store, testLogger())
}

func TestSessionRunCompletes(t *testing.T) {
	site := newFakeSite(t)
	store := newFakeStore()
	sess := newTestSession(t, site, store)

	result := sess.Run(context.Background())

	if result.Status != RunStatusComplete {
		t.Fatalf("Run() = %+v, want complete", result)
	}
	if result.Teams != 2 || result.Players != 6 {
		t.Errorf("counts = %d teams / %d players, want 2/6", result.Teams, result.Players)
	}
	if sess.State() != StateComplete {
		t.Errorf("State() = %s, want %s", sess.State(), StateComplete)
	}

	if got := site.hitCount("/robots.txt"); got != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", got)
	}
	if got := site.hitCount(listingPath); got != 1 {
		t.Errorf("listing fetched %d times, want 1", got)
	}
	for _, team := range site.teams {
		if got := site.hitCount("/sport/basketball/nba/teams/" + team.id); got != 1 {
			t.Errorf("team %s fetched %d times, want 1", team.id, got)
		}
		for _, p := range team.players {
			if got := site.hitCount("/sport/basketball/nba/players/" + p.id); got != 1 {
				t.Errorf("player %s fetched %d times, want 1", p.id, got)
			}
		}
	}

	// Teams slot is a bare array.
	payload, err := store.GetSlot("teams")
	if err != nil {
		t.Fatalf("GetSlot(teams) error = %v", err)
	}
	var teams []extract.Team
	if err := json.Unmarshal(payload, &teams); err != nil {
		t.Fatalf("teams payload: %v", err)
	}
	if len(teams) != 2 || teams[0].Name != "Boston Celtics" {
		t.Errorf("teams slot = %+v", teams)
	}

	// Team slot carries the enriched roster.
	payload, err = store.GetSlot("boston-celtics")
	if err != nil {
		t.Fatalf("GetSlot(boston-celtics) error = %v", err)
	}
	var rec TeamRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("team payload: %v", err)
	}
	if rec.Team.ID != "boston-celtics" || len(rec.Players) != 3 {
		t.Fatalf("team record = %+v", rec)
	}
	tatum := rec.Players[0]
	if tatum.ID != "jayson-tatum" || tatum.Stats == nil {
		t.Fatalf("first player = %+v", tatum)
	}
	if tatum.Position != "SF" || tatum.DetailedPosition != "Forward" {
		t.Errorf("positions = %q/%q, want SF/Forward", tatum.Position, tatum.DetailedPosition)
	}
	if tatum.Height != `6'6"` || tatum.Weight != "210 lbs" {
		t.Errorf("card fields = %q/%q", tatum.Height, tatum.Weight)
	}
	if tatum.ImageURL != "/images/jayson-tatum.jpg" {
		t.Errorf("ImageURL = %q", tatum.ImageURL)
	}
	if season := tatum.Stats["Regular Season Stats"]; len(season.Data) != 2 {
		t.Errorf("season rows = %d, want 2", len(season.Data))
	}

	// Player index covers both teams.
	payload, err = store.GetSlot("players")
	if err != nil {
		t.Fatalf("GetSlot(players) error = %v", err)
	}
	var index PlayerIndex
	if err := json.Unmarshal(payload, &index); err != nil {
		t.Fatalf("players payload: %v", err)
	}
	if len(index.Players) != 6 {
		t.Errorf("index has %d players, want 6", len(index.Players))
	}

	// Visualization series are sorted oldest season first.
	payload, err = store.GetSlot("visualization")
	if err != nil {
		t.Fatalf("GetSlot(visualization) error = %v", err)
	}
	var viz map[string]PlayerSeries
	if err := json.Unmarshal(payload, &viz); err != nil {
		t.Fatalf("visualization payload: %v", err)
	}
	if len(viz) != 6 {
		t.Errorf("visualization has %d players, want 6", len(viz))
	}
	pts := viz["jayson-tatum"].Stats["points"]
	if len(pts) != 2 || pts[0].Date != "2022-23" || pts[1].Value != 26.9 {
		t.Errorf("points series = %+v", pts)
	}

	prog := sess.Progress()
	if prog.TeamsTotal != 2 || prog.TeamsProcessed != 2 || prog.PlayersProcessed != 6 {
		t.Errorf("progress = %+v", prog)
	}
}

func TestSessionListingBlocked(t *testing.T) {
	site := newFakeSite(t)
	site.setRobots("User-agent: *\nDisallow: /sport/\n")
	sess := newTestSession(t, site, newFakeStore())

	result := sess.Run(context.Background())

	if result.Status != RunStatusError {
		t.Fatalf("Run() = %+v, want error", result)
	}
	if !strings.Contains(result.Message, "not allowed by robots.txt") {
		t.Errorf("Message = %q", result.Message)
	}
	if sess.State() != StateFailed {
		t.Errorf("State() = %s, want %s", sess.State(), StateFailed)
	}
	if got := site.hitCount(listingPath); got != 0 {
		t.Errorf("listing fetched %d times despite robots block", got)
	}
}

func TestSessionNoTeams(t *testing.T) {
	site := newFakeSite(t)
	site.setStatus(listingPath, http.StatusInternalServerError)
	sess := newTestSession(t, site, newFakeStore())

	result := sess.Run(context.Background())

	if result.Status != RunStatusError {
		t.Fatalf("Run() = %+v, want error", result)
	}
	if result.Message != "No teams found" {
		t.Errorf("Message = %q, want No teams found", result.Message)
	}
	if sess.State() != StateFailed {
		t.Errorf("State() = %s, want %s", sess.State(), StateFailed)
	}
}

func TestSessionPlayerFetchFailureDoesNotAbortRun(t *testing.T) {
	site := newFakeSite(t)
	site.setStatus("/sport/basketball/nba/players/jayson-tatum", http.StatusInternalServerError)
	store := newFakeStore()
	sess := newTestSession(t, site, store)

	result := sess.Run(context.Background())

	if result.Status != RunStatusComplete || result.Teams != 2 || result.Players != 6 {
		t.Fatalf("Run() = %+v, want complete 2/6", result)
	}

	payload, err := store.GetSlot("boston-celtics")
	if err != nil {
		t.Fatalf("GetSlot() error = %v", err)
	}
	var rec TeamRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("team payload: %v", err)
	}
	if tatum := rec.Players[0]; tatum.Stats != nil {
		t.Errorf("failed player should stay unenriched, got %+v", tatum)
	}
	if brown := rec.Players[1]; brown.Stats == nil {
		t.Errorf("other players should still be enriched, got %+v", brown)
	}

	// The failed player carries no stats, so the visualization skips them.
	payload, err = store.GetSlot("visualization")
	if err != nil {
		t.Fatalf("GetSlot(visualization) error = %v", err)
	}
	var viz map[string]PlayerSeries
	if err := json.Unmarshal(payload, &viz); err != nil {
		t.Fatalf("visualization payload: %v", err)
	}
	if len(viz) != 5 {
		t.Errorf("visualization has %d players, want 5", len(viz))
	}
	if _, ok := viz["jayson-tatum"]; ok {
		t.Error("failed player present in visualization")
	}
}

func TestSessionRetriesAfter429(t *testing.T) {
	site := newFakeSite(t)
	site.set429("/sport/basketball/nba/players/jayson-tatum", 1)
	store := newFakeStore()
	sess := newTestSession(t, site, store)

	result := sess.Run(context.Background())

	if result.Status != RunStatusComplete {
		t.Fatalf("Run() = %+v, want complete", result)
	}
	if got := site.hitCount("/sport/basketball/nba/players/jayson-tatum"); got != 2 {
		t.Errorf("throttled page fetched %d times, want 2", got)
	}

	payload, err := store.GetSlot("boston-celtics")
	if err != nil {
		t.Fatalf("GetSlot() error = %v", err)
	}
	var rec TeamRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("team payload: %v", err)
	}
	if rec.Players[0].Stats == nil {
		t.Error("player should be enriched after the retry succeeds")
	}
}

func TestSessionStopsRetryingAfterBudget(t *testing.T) {
	site := newFakeSite(t)
	site.set429("/sport/basketball/nba/players/jayson-tatum", 10)
	store := newFakeStore()
	sess := newTestSession(t, site, store)

	result := sess.Run(context.Background())

	if result.Status != RunStatusComplete {
		t.Fatalf("Run() = %+v, want complete despite the throttled page", result)
	}
	// One initial attempt plus RetryAttempts retries.
	if got := site.hitCount("/sport/basketball/nba/players/jayson-tatum"); got != 3 {
		t.Errorf("throttled page fetched %d times, want 3", got)
	}

	payload, err := store.GetSlot("boston-celtics")
	if err != nil {
		t.Fatalf("GetSlot() error = %v", err)
	}
	var rec TeamRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("team payload: %v", err)
	}
	if rec.Players[0].Stats != nil {
		t.Error("player should stay unenriched after the retry budget runs out")
	}
}

func TestSessionSkipsDisallowedPlayerPage(t *testing.T) {
	site := newFakeSite(t)
	site.setRobots("User-agent: *\nDisallow: /sport/basketball/nba/players/jayson-tatum\n")
	store := newFakeStore()
	sess := newTestSession(t, site, store)

	result := sess.Run(context.Background())

	if result.Status != RunStatusComplete || result.Players != 6 {
		t.Fatalf("Run() = %+v, want complete with 6 players", result)
	}
	if got := site.hitCount("/sport/basketball/nba/players/jayson-tatum"); got != 0 {
		t.Errorf("disallowed page fetched %d times, want 0", got)
	}

	payload, err := store.GetSlot("boston-celtics")
	if err != nil {
		t.Fatalf("GetSlot() error = %v", err)
	}
	var rec TeamRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("team payload: %v", err)
	}
	if rec.Players[0].Stats != nil {
		t.Error("disallowed player should stay unenriched")
	}
}

func TestSessionFetchesSharedPlayerOnce(t *testing.T) {
	site := newFakeSite(t)
	// The same player appears on both rosters.
	site.teams[1].players[2] = site.teams[0].players[0]
	store := newFakeStore()
	sess := newTestSession(t, site, store)

	result := sess.Run(context.Background())

	if result.Status != RunStatusComplete || result.Players != 6 {
		t.Fatalf("Run() = %+v, want complete with 6 roster entries", result)
	}
	if got := site.hitCount("/sport/basketball/nba/players/jayson-tatum"); got != 1 {
		t.Errorf("shared player fetched %d times, want 1", got)
	}

	// The first team's copy is enriched, the duplicate keeps its
	// roster fields only.
	payload, err := store.GetSlot("boston-celtics")
	if err != nil {
		t.Fatalf("GetSlot() error = %v", err)
	}
	var first TeamRecord
	if err := json.Unmarshal(payload, &first); err != nil {
		t.Fatalf("team payload: %v", err)
	}
	if first.Players[0].Stats == nil {
		t.Error("first copy should be enriched")
	}

	payload, err = store.GetSlot("denver-nuggets")
	if err != nil {
		t.Fatalf("GetSlot() error = %v", err)
	}
	var second TeamRecord
	if err := json.Unmarshal(payload, &second); err != nil {
		t.Fatalf("team payload: %v", err)
	}
	if second.Players[2].Stats != nil {
		t.Errorf("duplicate copy should stay unenriched, got %+v", second.Players[2])
	}
}

func TestSessionHonorsCrawlDelayBetweenTeams(t *testing.T) {
	site := newFakeSite(t)
	site.setRobots("User-agent: *\nCrawl-delay: 0.5\nDisallow:\n")
	sess := newTestSession(t, site, newFakeStore())

	start := time.Now()
	result := sess.Run(context.Background())
	elapsed := time.Since(start)

	if result.Status != RunStatusComplete {
		t.Fatalf("Run() = %+v, want complete", result)
	}
	// The crawl delay outweighs the configured team pause, and it
	// applies after each of the two teams but not per page.
	if elapsed < 900*time.Millisecond {
		t.Errorf("run finished in %v, want at least two 500ms team pauses", elapsed)
	}
	if elapsed > 4*time.Second {
		t.Errorf("run took %v, crawl delay should not throttle every fetch", elapsed)
	}
}
