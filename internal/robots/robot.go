package robots

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/internal/robots/cache"
)

/*
Robot is the single authority answering "may this URL be fetched right now".

Responsibilities
- Fetch robots.txt per host
- Cache rules for crawl duration (positive and negative TTL, see RobotsFetcher)
- Map the fetched response onto the requesting user agent's rule set
- Enforce allow/disallow rules before enqueue

Robots checks occur before a URL enters the frontier. Robot never decides
whether to retry or abort a crawl; it only reports a Decision or a
RobotsError for the scheduler to act on.
*/
type Robot interface {
	Init(userAgent string)
	Decide(target url.URL) (Decision, *RobotsError)
}

// CachedRobot is the default Robot implementation: it fetches robots.txt
// through a RobotsFetcher (which already applies TTL caching) and evaluates
// path rules against the requesting user agent.
type CachedRobot struct {
	metadataSink metadata.MetadataSink
	userAgent    string
	fetcher      *RobotsFetcher
}

// NewCachedRobot creates a Robot bound to the given metadata sink. Init or
// InitWithCache must be called before Decide.
func NewCachedRobot(metadataSink metadata.MetadataSink) CachedRobot {
	return CachedRobot{metadataSink: metadataSink}
}

// Init configures the robot with a user agent and a fresh in-memory cache.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache configures the robot with a user agent and an explicit cache
// implementation, useful for sharing a cache across robots or for testing.
func (r *CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.userAgent = userAgent
	r.fetcher = NewRobotsFetcher(r.metadataSink, userAgent, c)
}

// Decide fetches (or reuses a cached) robots.txt for target's host and
// reports whether target may be crawled by the configured user agent.
//
// A non-nil *RobotsError means the robots.txt infrastructure itself failed
// (network error, server error, malformed URL); it carries no opinion about
// whether target is allowed. The caller decides whether to retry or abort.
func (r *CachedRobot) Decide(target url.URL) (Decision, *RobotsError) {
	if r.fetcher == nil {
		return Decision{}, &RobotsError{
			Message:   "robot not initialized",
			Retryable: false,
			Cause:     ErrCausePreFetchFailure,
		}
	}

	scheme := target.Scheme
	if scheme == "" {
		scheme = "https"
	}
	hostname := target.Host
	if hostname == "" {
		return Decision{}, &RobotsError{
			Message:   "target URL has no host",
			Retryable: false,
			Cause:     ErrCauseInvalidRobotsUrl,
		}
	}

	result, robotsErr := r.fetcher.Fetch(context.Background(), scheme, hostname)
	if robotsErr != nil {
		if r.metadataSink != nil {
			r.metadataSink.RecordError(
				time.Now(),
				"robots",
				"Decide",
				mapRobotsErrorToMetadataCause(robotsErr),
				robotsErr.Error(),
				[]metadata.Attribute{
					metadata.NewAttr(metadata.AttrHost, hostname),
				},
			)
		}
		return Decision{}, robotsErr
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)

	if !rs.hasGroups {
		return Decision{Url: target, Allowed: true, Reason: EmptyRuleSet}, nil
	}
	if !rs.matchedGroup {
		return Decision{Url: target, Allowed: true, Reason: UserAgentNotMatched}, nil
	}

	requestPath := target.Path
	if requestPath == "" {
		requestPath = "/"
	}
	if target.RawQuery != "" {
		requestPath += "?" + target.RawQuery
	}

	allowed, reason := evaluate(rs, requestPath)

	decision := Decision{
		Url:     target,
		Allowed: allowed,
		Reason:  reason,
	}
	if rs.crawlDelay != nil {
		decision.CrawlDelay = *rs.crawlDelay
	}
	return decision, nil
}

// evaluate applies the standard robots.txt longest-match-wins rule: among
// every allow/disallow pattern that matches path, the most specific
// (longest pattern) wins; ties favor Allow.
func evaluate(rs ruleSet, path string) (bool, DecisionReason) {
	bestLen := -1
	bestAllow := true
	matched := false

	for _, rule := range rs.allowRules {
		if l, ok := matchRule(rule.prefix, path); ok {
			matched = true
			if l > bestLen || (l == bestLen && bestAllow == false) {
				bestLen = l
				bestAllow = true
			}
		}
	}
	for _, rule := range rs.disallowRules {
		if l, ok := matchRule(rule.prefix, path); ok {
			matched = true
			if l > bestLen {
				bestLen = l
				bestAllow = false
			}
		}
	}

	if !matched {
		return true, NoMatchingRules
	}
	if bestAllow {
		return true, AllowedByRobots
	}
	return false, DisallowedByRobots
}

// matchRule reports whether pattern matches path under robots.txt semantics:
// "*" matches any run of characters, a trailing "$" anchors to end-of-path.
// The returned int is the pattern's specificity (its literal length), used
// to break ties between overlapping allow/disallow rules.
func matchRule(pattern, path string) (int, bool) {
	if pattern == "" {
		return 0, false
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return 0, false
	}
	return len(pattern), re.MatchString(path)
}

var patternCache sync.Map // string -> *regexp.Regexp

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	anchored := strings.HasSuffix(pattern, "$")
	core := pattern
	if anchored {
		core = pattern[:len(pattern)-1]
	}

	segments := strings.Split(core, "*")
	for i, seg := range segments {
		segments[i] = regexp.QuoteMeta(seg)
	}
	body := strings.Join(segments, ".*")

	expr := "^" + body
	if anchored {
		expr += "$"
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

var _ Robot = (*CachedRobot)(nil)
