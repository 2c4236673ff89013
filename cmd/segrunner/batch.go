package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumenimaging/segrunner/internal/batch"
	"github.com/lumenimaging/segrunner/internal/export"
	"github.com/lumenimaging/segrunner/internal/progress"
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop folder and segment incoming series",
		Long: `watch segments every series directory dropped into the configured
watch folder. Folders are processed once their files stop arriving;
a cron-driven sweep picks up anything the watcher missed, e.g.
folders dropped while segrunner was not running.`,
		RunE: runWatch,
	}
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Batch.WatchDir == "" {
		return fmt.Errorf("batch.watch_dir is not configured")
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	reporter := progress.Plain{}
	a.orch.Sink = reporter
	a.orch.OnTransition = reporter.Transition

	process := func(dir string) error {
		series, err := export.ProbeSeries(dir)
		if err != nil {
			return err
		}
		_, err = a.orch.NewRun(buildRunConfig(cfg)).Execute(context.Background(), series)
		return err
	}

	sched, err := batch.NewScheduler(cfg.Batch.WatchDir, cfg.Batch.CronSchedule, process)
	if err != nil {
		return err
	}

	settle := time.Duration(cfg.Batch.SettleMs) * time.Millisecond
	watcher, err := batch.NewWatcher(cfg.Batch.WatchDir, settle, func(dir string) {
		if batch.IsDone(dir) {
			return
		}
		sched.Process(dir)
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", cfg.Batch.WatchDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	watcher.Start(ctx)
	go sched.Start()
	log.Printf("[segrunner] watching %s, next sweep at %s",
		cfg.Batch.WatchDir, sched.NextRun().Format(time.Kitchen))

	<-ctx.Done()
	sched.Stop()
	watcher.Stop()
	return nil
}
