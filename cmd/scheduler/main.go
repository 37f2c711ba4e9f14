package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/app"
	"github.com/segyhp/fleet-billing/internal/config"
	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/service"
	"github.com/segyhp/fleet-billing/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("Starting billing scheduler...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize billing engine")
	}
	defer application.Close()

	// Jobs run in the business timezone; a run still in progress makes the next tick skip.
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.GetLocation()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := setupCronJobs(runCtx, c, cfg, application.Service, log); err != nil {
		log.WithError(err).Fatal("Failed to schedule jobs")
	}

	// Start the scheduler
	c.Start()
	log.Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	stop()
	<-c.Stop().Done()
	log.Info("Scheduler stopped")
}

func setupCronJobs(ctx context.Context, c *cron.Cron, cfg *config.Config, svc *service.BillingService, log *logrus.Logger) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (*domain.BatchResult, error)
	}{
		{
			name: "association",
			spec: cfg.Scheduler.AssociationCron,
			run: func(ctx context.Context) (*domain.BatchResult, error) {
				return svc.RunAssociationBatch(ctx, nil)
			},
		},
		{
			name: "posting",
			spec: cfg.Scheduler.PostingCron,
			run: func(ctx context.Context) (*domain.BatchResult, error) {
				return svc.RunPostingBatch(ctx, &domain.PostingBatchRequest{})
			},
		},
		{
			name: "mark-due",
			spec: cfg.Scheduler.MarkDueCron,
			run: func(ctx context.Context) (*domain.BatchResult, error) {
				count, err := svc.MarkDueInstallments(ctx, time.Time{})
				if err != nil {
					return nil, err
				}
				return &domain.BatchResult{Batch: "mark-due", MarkedDue: int(count)}, nil
			},
		},
	}

	for _, job := range jobs {
		if job.spec == "" {
			log.WithField("job", job.name).Info("Job disabled")
			continue
		}

		_, err := c.AddFunc(job.spec, func() {
			entry := log.WithField("job", job.name)
			entry.Info("Running scheduled job")

			result, err := job.run(ctx)
			if err != nil {
				entry.WithError(err).Error("Scheduled job failed")
				return
			}
			entry.WithFields(logrus.Fields{
				"total":      result.Total,
				"succeeded":  result.Succeeded,
				"failed":     result.Failed,
				"skipped":    result.Skipped,
				"marked_due": result.MarkedDue,
			}).Info("Scheduled job finished")
		})
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"job": job.name, "spec": job.spec}).Info("Job scheduled")
	}

	return nil
}
