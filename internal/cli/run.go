package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/legalcrawl/engine/internal/blob"
	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/internal/model"
	"github.com/legalcrawl/engine/internal/queue"
	"github.com/legalcrawl/engine/internal/repository"
	"github.com/legalcrawl/engine/internal/webhook"
	"github.com/legalcrawl/engine/internal/worker"
)

var (
	includePatterns []string
	excludePatterns []string
	respectRobots   bool
)

// buildScraperConfig turns the shared root flags into the persisted policy
// record the Worker Pool executes, rather than the teacher's process-local
// config.Config (internal/worker translates one into the other per job).
func buildScraperConfig(seed url.URL) (model.ScraperConfig, error) {
	builder := model.NewConfigBuilder("cli-run", seed.String()).
		WithInclude(includePatterns).
		WithExclude(excludePatterns).
		WithMaxDepth(maxDepth).
		WithMaxPages(maxPages).
		WithRespectRobots(respectRobots).
		WithUserAgent(userAgent).
		WithActive(true)

	if baseDelay > 0 {
		builder = builder.WithRequestDelayMS(int(baseDelay.Milliseconds()))
	}
	if concurrency > 0 {
		builder = builder.WithMaxConcurrentRequests(concurrency)
	}
	return builder.Build()
}

// runCmd drives one job synchronously through the same Worker Pool
// machinery a deployed worker uses, against process-local in-memory
// adapters. It exists so a configuration can be smoke-tested locally before
// it is ever registered with a real control plane.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single crawl synchronously against local, in-memory storage.",
	Long: `run executes one crawl job to completion using the same claim, lease, and
job state machine a deployed worker uses, but against process-local
in-memory repositories and a local-disk blob store. It blocks until the job
reaches a terminal state and prints a summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(seedURLs) == 0 {
			return fmt.Errorf("--seed-url is required")
		}
		parsed, err := parseSeedURLs(seedURLs)
		if err != nil {
			return err
		}

		cfg, err := buildScraperConfig(parsed[0])
		if err != nil {
			return fmt.Errorf("building scraper config: %w", err)
		}
		cfg.ID = uuid.NewString()

		sink := metadata.NewRecorder("legalcrawl-run")
		blobStore := blob.NewLocalStore(outputDir)

		configs := repository.NewInMemoryConfigRepository()
		configs.Put(cfg)
		jobs := repository.NewInMemoryJobRepository()
		pages := repository.NewInMemoryPageRepository()
		webhooks := repository.NewInMemoryWebhookRepository()
		deliveries := repository.NewInMemoryWebhookDeliveryRepository()
		q := queue.NewInMemoryQueue()

		dispatcher := webhook.New(&http.Client{}, webhooks, deliveries, &sink)

		job := model.NewPendingJob(uuid.NewString(), cfg.ID)
		if err := jobs.Create(job); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		if err := q.Push(job.ID); err != nil {
			return fmt.Errorf("enqueueing job: %w", err)
		}

		pool := worker.NewPool("legalcrawl-run", q, configs, jobs, pages, blobStore, dispatcher, &sink, worker.WithConcurrency(1))

		ctx, cancel := context.WithCancel(cmd.Context())
		done := make(chan struct{})
		go func() {
			pool.Run(ctx)
			close(done)
		}()

		final := pollUntilTerminal(jobs, job.ID)
		cancel()
		<-done

		count, _ := pages.CountByJob(job.ID)
		fmt.Printf("job %s finished: %s\n", final.ID, final.Status)
		fmt.Printf("pages crawled: %d  failed: %d  skipped: %d  stored: %d\n", final.PagesCrawled, final.PagesFailed, final.PagesSkipped, count)
		if final.ErrorMessage != "" {
			fmt.Printf("error: %s\n", final.ErrorMessage)
		}
		if final.Status == model.JobFailed {
			os.Exit(1)
		}
		return nil
	},
}

// pollUntilTerminal waits for a job to reach a terminal status, for the run
// command's synchronous wait. A production caller would watch webhook
// delivery instead; here there is no one else to notify.
func pollUntilTerminal(jobs repository.JobRepository, jobID string) model.Job {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		j, found, err := jobs.Get(jobID)
		if err == nil && found && j.Status.IsTerminal() {
			return j
		}
	}
	return model.Job{}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.PersistentFlags().StringArrayVar(&includePatterns, "include", []string{}, "regex patterns a discovered URL must match at least one of to be admitted")
	rootCmd.PersistentFlags().StringArrayVar(&excludePatterns, "exclude", []string{}, "regex patterns that reject a discovered URL outright")
	rootCmd.PersistentFlags().BoolVar(&respectRobots, "respect-robots", true, "honor robots.txt disallow rules")
}
