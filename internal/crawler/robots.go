package crawler

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// RuleSet holds the robots.txt directives selected for one agent on
// one origin. It round-trips through JSON for the durable cache.
type RuleSet struct {
	Allow             []string `json:"allow"`
	Disallow          []string `json:"disallow"`
	CrawlDelaySeconds *float64 `json:"crawl_delay,omitempty"`
	Sitemaps          []string `json:"sitemap,omitempty"`
}

// CrawlDelay returns the declared crawl delay as a duration, zero when
// none was declared.
func (rs RuleSet) CrawlDelay() time.Duration {
	if rs.CrawlDelaySeconds == nil {
		return 0
	}
	return time.Duration(*rs.CrawlDelaySeconds * float64(time.Second))
}

func (rs RuleSet) hasRules() bool {
	return len(rs.Allow) > 0 || len(rs.Disallow) > 0 || rs.CrawlDelaySeconds != nil
}

// Verdict is the outcome of a robots check for one URL.
type Verdict struct {
	Allowed    bool
	CrawlDelay time.Duration
}

// RobotsPolicy fetches, caches and evaluates robots.txt rules per
// origin. Ambiguity fails open: when robots.txt cannot be fetched or
// returns an unexpected status, the URL is treated as allowed and the
// condition is logged. Only definitive outcomes (a parsed file or a
// 404) enter the cache.
type RobotsPolicy struct {
	client  *HTTPClient
	store   RobotsStore
	agent   string // product token matched against User-agent lines
	ttl     time.Duration
	timeout time.Duration
	fetches *rate.Limiter // smooths robots.txt fetches across cold origins
	group   singleflight.Group
	log     *slog.Logger

	mu    sync.RWMutex
	cache map[string]RobotsEntry
}

// NewRobotsPolicy builds the policy and warms its in-memory cache from
// the store. Store read failures are logged, not fatal.
func NewRobotsPolicy(client *HTTPClient, store RobotsStore, userAgent string, ttl, timeout time.Duration, log *slog.Logger) *RobotsPolicy {
	p := &RobotsPolicy{
		client:  client,
		store:   store,
		agent:   agentToken(userAgent),
		ttl:     ttl,
		timeout: timeout,
		fetches: rate.NewLimiter(rate.Every(time.Second), 2),
		log:     log.With("component", "robots"),
		cache:   make(map[string]RobotsEntry),
	}

	if store != nil {
		cached, err := store.LoadRobotsCache()
		if err != nil {
			p.log.Warn("failed to load robots cache", "error", err)
		} else if len(cached) > 0 {
			p.cache = cached
			p.log.Info("loaded robots cache", "origins", len(cached))
		}
	}

	return p
}

// Check reports whether rawURL may be fetched and the crawl delay its
// origin declared for our agent. The only error condition is an
// unparseable URL; compliance ambiguity fails open instead.
func (p *RobotsPolicy) Check(ctx context.Context, rawURL string) (Verdict, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to parse URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Verdict{}, fmt.Errorf("URL %q is not absolute", rawURL)
	}

	origin := u.Scheme + "://" + u.Host
	path := u.Path
	if path == "" {
		path = "/"
	}

	rules, ok := p.freshRules(origin)
	if !ok {
		rules, ok = p.refresh(ctx, origin)
		if !ok {
			return Verdict{Allowed: true}, nil
		}
	}

	return Verdict{
		Allowed:    rules.allowed(path),
		CrawlDelay: rules.CrawlDelay(),
	}, nil
}

// freshRules returns the cached rules for origin when they are within
// the TTL.
func (p *RobotsPolicy) freshRules(origin string) (RuleSet, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.cache[origin]
	if !ok || time.Since(entry.FetchedAt) >= p.ttl {
		return RuleSet{}, false
	}
	return entry.Rules, true
}

// refresh fetches and caches robots.txt for origin. Concurrent
// refreshes of the same origin are coalesced into a single fetch.
func (p *RobotsPolicy) refresh(ctx context.Context, origin string) (RuleSet, bool) {
	v, err, _ := p.group.Do(origin, func() (interface{}, error) {
		// Another caller may have refreshed while we waited.
		if rules, ok := p.freshRules(origin); ok {
			return rules, nil
		}
		return p.fetchRules(ctx, origin)
	})
	if err != nil {
		return RuleSet{}, false
	}
	return v.(RuleSet), true
}

func (p *RobotsPolicy) fetchRules(ctx context.Context, origin string) (RuleSet, error) {
	if err := p.fetches.Wait(ctx); err != nil {
		return RuleSet{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Get(fetchCtx, origin+"/robots.txt")
	if err != nil {
		p.log.Warn("robots.txt fetch failed, failing open", "origin", origin, "error", err)
		return RuleSet{}, err
	}

	var rules RuleSet
	switch resp.StatusCode {
	case 200:
		rules = parseRobotsTxt(string(resp.Body), p.agent)
	case 404:
		// No robots.txt means everything is allowed.
		rules = RuleSet{}
	default:
		p.log.Warn("robots.txt fetch returned unexpected status, failing open",
			"origin", origin, "status", resp.StatusCode)
		return RuleSet{}, fmt.Errorf("robots.txt fetch for %s: status %d", origin, resp.StatusCode)
	}

	entry := RobotsEntry{Rules: rules, FetchedAt: time.Now()}
	p.mu.Lock()
	p.cache[origin] = entry
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.SaveRobotsEntry(origin, entry); err != nil {
			p.log.Warn("failed to persist robots entry", "origin", origin, "error", err)
		}
	}

	p.log.Debug("robots.txt refreshed", "origin", origin,
		"allow_rules", len(rules.Allow), "disallow_rules", len(rules.Disallow),
		"sitemaps", len(rules.Sitemaps))
	return rules, nil
}

// parseRobotsTxt extracts the RuleSet for userAgent from a robots.txt
// body. A block addressed to the agent wins wholesale over the
// wildcard block; the two are never merged. Sitemap lines count
// regardless of the surrounding agent block.
func parseRobotsTxt(body, userAgent string) RuleSet {
	var specific, wildcard RuleSet
	var sitemaps []string

	agent := strings.ToLower(strings.TrimSpace(userAgent))
	currentAgent := ""

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		directive := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		if directive == "sitemap" {
			if value != "" {
				sitemaps = append(sitemaps, value)
			}
			continue
		}

		if directive == "user-agent" {
			currentAgent = strings.ToLower(value)
			continue
		}

		// Directives before any User-agent line apply to nobody.
		var target *RuleSet
		switch currentAgent {
		case agent:
			target = &specific
		case "*":
			target = &wildcard
		default:
			continue
		}

		switch directive {
		case "disallow":
			if value != "" {
				target.Disallow = append(target.Disallow, value)
			}
		case "allow":
			if value != "" {
				target.Allow = append(target.Allow, value)
			}
		case "crawl-delay":
			delay, err := strconv.ParseFloat(value, 64)
			if err != nil || delay < 0 {
				continue
			}
			target.CrawlDelaySeconds = &delay
		}
	}

	selected := wildcard
	if specific.hasRules() {
		selected = specific
	}
	selected.Sitemaps = sitemaps
	return selected
}

// pathMatchesRule reports whether path falls under a robots pattern.
// A pattern containing * becomes an anchored regular expression with
// the wildcard matching greedily; any other pattern is a plain prefix
// match. The empty pattern matches nothing.
func pathMatchesRule(path, pattern string) bool {
	if pattern == "" {
		return false
	}
	if strings.Contains(pattern, "*") {
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		return re.MatchString(path)
	}
	return strings.HasPrefix(path, pattern)
}

// allowed evaluates path against the rule set. The longest matching
// disallow blocks the path unless a strictly longer allow overrides
// it; on equal lengths the disallow wins.
func (rs RuleSet) allowed(path string) bool {
	allowed := true

	mostSpecificDisallow := 0
	for _, rule := range rs.Disallow {
		if pathMatchesRule(path, rule) && len(rule) > mostSpecificDisallow {
			mostSpecificDisallow = len(rule)
			allowed = false
		}
	}

	mostSpecificAllow := 0
	for _, rule := range rs.Allow {
		if pathMatchesRule(path, rule) && len(rule) > mostSpecificAllow {
			mostSpecificAllow = len(rule)
			if mostSpecificAllow > mostSpecificDisallow {
				allowed = true
			}
		}
	}

	return allowed
}

// agentToken derives the robots.txt product token from a full
// User-Agent header value: the text before the first slash or space.
func agentToken(userAgent string) string {
	token := strings.TrimSpace(userAgent)
	if i := strings.IndexAny(token, "/ "); i >= 0 {
		token = token[:i]
	}
	return token
}
