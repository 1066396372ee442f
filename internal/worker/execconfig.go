// Package worker is the Worker Pool and JobExecution: it claims queued
// jobs, runs each job's crawl to completion against its own politeness
// gate and the shared robots cache and content store, and persists results through the
// repository ports.
package worker

import (
	"fmt"
	"net/url"
	"time"

	"github.com/legalcrawl/engine/internal/config"
	"github.com/legalcrawl/engine/internal/extractor"
	"github.com/legalcrawl/engine/internal/model"
)

func durationFromMillis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ResolveUserAgent applies the default identity string so the Pool can
// initialize a job's robots cache with the same user agent
// buildExecutionConfig will end up requesting fetches under.
func ResolveUserAgent(cfg model.ScraperConfig) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return "legalcrawl-engine/1.0"
}

// buildExecutionConfig translates a persisted ScraperConfig into the
// low-level execution config.Config, so the frontier, extractor tuning,
// and retry-parameter plumbing can be reused unchanged for a job-scoped
// crawl instead of a config-file-scoped one. It also returns the parsed
// seed URL, since callers need it for host-scoping before the frontier
// ever sees a candidate.
func buildExecutionConfig(cfg model.ScraperConfig) (config.Config, url.URL, error) {
	seed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return config.Config{}, url.URL{}, fmt.Errorf("worker: invalid base url %q: %w", cfg.BaseURL, err)
	}

	userAgent := ResolveUserAgent(cfg)
	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	built, err := config.WithDefault([]url.URL{*seed}).
		WithMaxDepth(cfg.MaxDepth).
		WithMaxPages(cfg.MaxPages).
		WithConcurrency(maxConcurrent).
		WithUserAgent(userAgent).
		WithOutputDir(""). // the worker writes through blob.Store, not a filesystem output dir
		Build()
	if err != nil {
		return config.Config{}, url.URL{}, err
	}
	if cfg.RequestDelayMS > 0 {
		built.WithBaseDelay(durationFromMillis(cfg.RequestDelayMS))
	}
	return built, *seed, nil
}

// extractParamFrom builds the DOM extractor's tuning parameters from the
// resolved execution config, so extraction behaves identically regardless
// of which component constructed the config.
func extractParamFrom(cfg config.Config) extractor.ExtractParam {
	return extractor.ExtractParam{
		BodySpecificityBias:  cfg.BodySpecificityBias(),
		LinkDensityThreshold: cfg.LinkDensityThreshold(),
		ScoreMultiplier: extractor.ContentScoreMultiplier{
			NonWhitespaceDivisor: cfg.ScoreMultiplierNonWhitespaceDivisor(),
			Paragraphs:           cfg.ScoreMultiplierParagraphs(),
			Headings:             cfg.ScoreMultiplierHeadings(),
			CodeBlocks:           cfg.ScoreMultiplierCodeBlocks(),
			ListItems:            cfg.ScoreMultiplierListItems(),
		},
		Threshold: extractor.MeaningfulThreshold{
			MinNonWhitespace:    cfg.ThresholdMinNonWhitespace(),
			MinHeadings:         cfg.ThresholdMinHeadings(),
			MinParagraphsOrCode: cfg.ThresholdMinParagraphsOrCode(),
			MaxLinkDensity:      cfg.ThresholdMaxLinkDensity(),
		},
	}
}
