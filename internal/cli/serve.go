package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/legalcrawl/engine/internal/blob"
	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/internal/model"
	"github.com/legalcrawl/engine/internal/queue"
	"github.com/legalcrawl/engine/internal/repository"
	"github.com/legalcrawl/engine/internal/scheduler"
	"github.com/legalcrawl/engine/internal/webhook"
	"github.com/legalcrawl/engine/internal/worker"
)

// serveCmd starts a standalone worker process: a cron-tick scheduler and a
// worker pool sharing one in-memory queue, repository set, and blob store.
// There is no control-plane API in this mode, so any scheduled config must
// be seeded by --seed-url up front; it runs until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and worker pool as a standalone, long-lived process.",
	Long: `serve starts a cron-tick scheduler alongside a worker pool, both backed by
process-local in-memory repositories, a local-disk blob store, and an
in-process job queue. A seed config (built from the same flags as run) is
registered and, if --schedule is set, re-crawled on that cron expression;
otherwise it is crawled once at startup. The process runs until SIGINT or
SIGTERM.`,
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
		cfg.Name = "cli-serve"
		cfg.ID = "cli-serve-config"
		cfg.Schedule = schedule

		sink := metadata.NewRecorder("legalcrawl-serve")
		blobStore := blob.NewLocalStore(outputDir)

		configs := repository.NewInMemoryConfigRepository()
		configs.Put(cfg)
		jobs := repository.NewInMemoryJobRepository()
		pages := repository.NewInMemoryPageRepository()
		webhooks := repository.NewInMemoryWebhookRepository()
		deliveries := repository.NewInMemoryWebhookDeliveryRepository()
		q := queue.NewInMemoryQueue()

		dispatcher := webhook.New(&http.Client{}, webhooks, deliveries, &sink)
		pool := worker.NewPool("legalcrawl-serve", q, configs, jobs, pages, blobStore, dispatcher, &sink, worker.WithConcurrency(concurrency))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Schedule != "" {
			sched := scheduler.New(configs, jobs, q, &sink)
			sched.Run()
			defer sched.Stop()
		} else {
			job := model.NewPendingJob(uuid.NewString(), cfg.ID)
			if err := jobs.Create(job); err != nil {
				return fmt.Errorf("creating job: %w", err)
			}
			if err := q.Push(job.ID); err != nil {
				return fmt.Errorf("enqueueing job: %w", err)
			}
		}

		fmt.Fprintf(os.Stderr, "legalcrawl-engine serve: listening for jobs (ctrl-c to stop)\n")
		pool.Run(ctx)
		return nil
	},
}

var schedule string

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.PersistentFlags().StringVar(&schedule, "schedule", "", "cron expression re-crawling the seed config on a recurring basis (default: crawl once at startup)")
}
