// =============================================================================
// Billing Summary - Schedule Command
// =============================================================================
//
// This file defines the 'schedule' command, which keeps running and starts
// summarize and reconcile runs on the cron expressions of the 'schedule'
// section until interrupted.
//
// COMMAND USAGE:
//   billsum schedule
//
// A run that is still going when its next tick arrives is not started twice;
// the tick is skipped. A failed run is logged and the schedule continues.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/converter"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run summarize and reconcile on their configured cron schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedule(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

type scheduledJob struct {
	name string
	expr string
	run  func(context.Context) (*converter.Result, error)
}

func runSchedule(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg, logger, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	conv := converter.New(cfg, converter.Options{Logger: logger})
	jobs := []scheduledJob{
		{"summarize", cfg.Schedule.Summarize, conv.Summarize},
		{"reconcile", cfg.Schedule.Reconcile, conv.Reconcile},
	}

	cronLog := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	header("Billing Summary Scheduler")
	scheduled := 0
	for _, job := range jobs {
		if job.expr == "" {
			continue
		}
		sched, err := config.ParseSchedule(job.expr)
		if err != nil {
			return fmt.Errorf("schedule.%s: %w", job.name, err)
		}
		c.Schedule(sched, cron.FuncJob(scheduledRun(ctx, job, logger)))
		scheduled++
		info(fmt.Sprintf("%s: %s (next %s)", job.name, job.expr,
			sched.Next(time.Now()).Format("2006-01-02 15:04")))
	}
	if scheduled == 0 {
		return errors.New("no schedule configured; set schedule.summarize or schedule.reconcile")
	}

	c.Start()
	success("Scheduler started; press Ctrl+C to stop")
	<-ctx.Done()

	warning("Stopping scheduler, waiting for running jobs")
	<-c.Stop().Done()
	return nil
}

// scheduledRun wraps a job for the cron runner.
func scheduledRun(ctx context.Context, job scheduledJob, logger *zap.Logger) func() {
	return func() {
		logger.Info("scheduled run starting", zap.String("job", job.name))
		result, err := job.run(ctx)
		if err != nil {
			logger.Error("scheduled run failed", zap.String("job", job.name), zap.Error(err))
			return
		}
		logger.Info("scheduled run finished",
			zap.String("job", job.name),
			zap.String("run", result.RunID),
			zap.String("output", result.OutputFile),
			zap.Duration("took", result.Stats.ProcessingTime),
		)
	}
}
