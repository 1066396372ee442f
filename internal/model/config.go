// Package model holds the persisted entities the engine operates on: the
// crawl policy (ScraperConfig), one execution of it (Job), the pages a job
// produces, and the webhook subscriptions notified of job/page lifecycle
// events. These are plain data types; the control-plane REST surface and
// relational schema that own their durable storage are external
// collaborators (see internal/repository for the ports this engine expects
// of them).
package model

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ScraperConfig is the immutable-once-published crawl policy a Job executes.
// Builder mirrors the teacher's config.WithDefault(...).WithX(...).Build()
// pattern, generalized from a single-crawl engine config into a persisted,
// multi-tenant policy record.
type ScraperConfig struct {
	ID          string
	Name        string
	BaseURL     string
	Include     []string
	Exclude     []string
	MaxDepth    int
	MaxPages    int // 0 = unbounded
	RespectRobots bool
	UserAgent   string
	RequestDelayMS int
	MaxConcurrentRequests int
	Schedule    string // cron-like expression; empty = not scheduled
	Headers     map[string]string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time

	includeRe []*regexp.Regexp
	excludeRe []*regexp.Regexp
}

// CompiledInclude returns the include patterns as compiled by Build(). A
// config that failed validation at Build() never reaches here.
func (c *ScraperConfig) CompiledInclude() []*regexp.Regexp { return c.includeRe }

// CompiledExclude returns the compiled exclude patterns.
func (c *ScraperConfig) CompiledExclude() []*regexp.Regexp { return c.excludeRe }

// ConfigBuilder assembles a ScraperConfig field by field, validating and
// clamping at Build() time rather than on every field access.
type ConfigBuilder struct {
	cfg ScraperConfig
	err error
}

// NewConfigBuilder seeds a builder with the spec's defaults: depth 0 (base
// URL only), unbounded pages, robots respected, one request in flight per
// job, no extra headers, active.
func NewConfigBuilder(name, baseURL string) *ConfigBuilder {
	return &ConfigBuilder{
		cfg: ScraperConfig{
			Name:                  name,
			BaseURL:               baseURL,
			MaxDepth:              0,
			RespectRobots:         true,
			UserAgent:             "legalcrawl-engine/1.0",
			RequestDelayMS:        1000,
			MaxConcurrentRequests: 1,
			Headers:               map[string]string{},
			Active:                true,
		},
	}
}

func (b *ConfigBuilder) WithID(id string) *ConfigBuilder {
	b.cfg.ID = id
	return b
}

func (b *ConfigBuilder) WithInclude(patterns []string) *ConfigBuilder {
	b.cfg.Include = patterns
	return b
}

func (b *ConfigBuilder) WithExclude(patterns []string) *ConfigBuilder {
	b.cfg.Exclude = patterns
	return b
}

func (b *ConfigBuilder) WithMaxDepth(d int) *ConfigBuilder {
	b.cfg.MaxDepth = d
	return b
}

func (b *ConfigBuilder) WithMaxPages(p int) *ConfigBuilder {
	b.cfg.MaxPages = p
	return b
}

func (b *ConfigBuilder) WithRespectRobots(v bool) *ConfigBuilder {
	b.cfg.RespectRobots = v
	return b
}

func (b *ConfigBuilder) WithUserAgent(ua string) *ConfigBuilder {
	if ua != "" {
		b.cfg.UserAgent = ua
	}
	return b
}

func (b *ConfigBuilder) WithRequestDelayMS(ms int) *ConfigBuilder {
	if ms > 0 {
		b.cfg.RequestDelayMS = ms
	}
	return b
}

// WithMaxConcurrentRequests sets per-job fetch concurrency. Per the spec's
// Open Question resolution, zero or unset is clamped up to the minimum of 1
// rather than left ambiguous.
func (b *ConfigBuilder) WithMaxConcurrentRequests(n int) *ConfigBuilder {
	b.cfg.MaxConcurrentRequests = n
	return b
}

func (b *ConfigBuilder) WithSchedule(expr string) *ConfigBuilder {
	b.cfg.Schedule = expr
	return b
}

func (b *ConfigBuilder) WithHeaders(h map[string]string) *ConfigBuilder {
	if h != nil {
		b.cfg.Headers = h
	}
	return b
}

func (b *ConfigBuilder) WithActive(v bool) *ConfigBuilder {
	b.cfg.Active = v
	return b
}

// Build validates and compiles include/exclude patterns, rejecting
// malformed regular expressions at config-create time rather than failing
// the job later (§4.1: "Invalid regexes cause the job to fail fast at
// start"; resolved here as a create-time rejection instead, see DESIGN.md).
func (b *ConfigBuilder) Build() (ScraperConfig, error) {
	if b.err != nil {
		return ScraperConfig{}, b.err
	}
	if b.cfg.BaseURL == "" {
		return ScraperConfig{}, fmt.Errorf("scraper config: base URL is required")
	}
	base, err := url.Parse(b.cfg.BaseURL)
	if err != nil {
		return ScraperConfig{}, fmt.Errorf("scraper config: invalid base URL %q: %w", b.cfg.BaseURL, err)
	}
	if scheme := strings.ToLower(base.Scheme); scheme != "http" && scheme != "https" {
		return ScraperConfig{}, fmt.Errorf("scraper config: base URL scheme %q is not http(s)", base.Scheme)
	}
	if b.cfg.MaxDepth < 0 {
		return ScraperConfig{}, fmt.Errorf("scraper config: max depth must be >= 0")
	}
	if b.cfg.MaxConcurrentRequests < 1 {
		b.cfg.MaxConcurrentRequests = 1
	}

	includeRe := make([]*regexp.Regexp, 0, len(b.cfg.Include))
	for _, p := range b.cfg.Include {
		re, err := regexp.Compile(p)
		if err != nil {
			return ScraperConfig{}, fmt.Errorf("scraper config: invalid include pattern %q: %w", p, err)
		}
		includeRe = append(includeRe, re)
	}
	excludeRe := make([]*regexp.Regexp, 0, len(b.cfg.Exclude))
	for _, p := range b.cfg.Exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return ScraperConfig{}, fmt.Errorf("scraper config: invalid exclude pattern %q: %w", p, err)
		}
		excludeRe = append(excludeRe, re)
	}

	now := b.cfg.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	b.cfg.CreatedAt = now
	b.cfg.UpdatedAt = now
	b.cfg.includeRe = includeRe
	b.cfg.excludeRe = excludeRe
	return b.cfg, nil
}
