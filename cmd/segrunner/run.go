package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lumenimaging/segrunner/internal/config"
	"github.com/lumenimaging/segrunner/internal/domain"
	"github.com/lumenimaging/segrunner/internal/export"
	"github.com/lumenimaging/segrunner/internal/orchestrator"
	"github.com/lumenimaging/segrunner/internal/progress"
)

var (
	runTask      string
	runFast      bool
	runDevice    string
	runROIs      []string
	runOutputDir string
	runNoViz     bool
	runPlain     bool
	runExtraArgs string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run DIR",
		Short: "Segment a directory of DICOM slices",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runTask, "task", "", "segmentation task (default from config)")
	runCmd.Flags().BoolVar(&runFast, "fast", false, "use the fast model variant")
	runCmd.Flags().StringVar(&runDevice, "device", "", "compute device: cpu, gpu, mps or gpu:N")
	runCmd.Flags().StringSliceVar(&runROIs, "roi", nil, "restrict segmentation to these classes")
	runCmd.Flags().StringVar(&runOutputDir, "output", "", "keep tool output in this directory")
	runCmd.Flags().BoolVar(&runNoViz, "no-viz", false, "import results without driving the viewer")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "log progress instead of the interactive screen")
	runCmd.Flags().StringVar(&runExtraArgs, "extra-args", "", "additional tool arguments, shell-quoted")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	series, err := export.ProbeSeries(args[0])
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	run := a.orch.NewRun(buildRunConfig(cfg))
	if runPlain {
		return executePlain(a, run, series)
	}
	return executeWithUI(a, run, series)
}

// buildRunConfig merges run flags over the configured tool defaults.
func buildRunConfig(cfg *config.Config) domain.RunConfiguration {
	runCfg := domain.RunConfiguration{
		Task:                cfg.Tool.Task,
		UseFast:             cfg.Tool.UseFast,
		Device:              cfg.Tool.Device,
		LicenseKey:          cfg.Tool.LicenseKey,
		AdditionalArguments: cfg.Tool.AdditionalArgs,
		OutputDirectory:     runOutputDir,
		SuppressROIs:        runNoViz,
	}
	if runTask != "" {
		runCfg.Task = runTask
	}
	if runFast {
		runCfg.UseFast = true
	}
	if runDevice != "" {
		runCfg.Device = runDevice
	}
	if runExtraArgs != "" {
		if runCfg.AdditionalArguments != "" {
			runCfg.AdditionalArguments += " "
		}
		runCfg.AdditionalArguments += runExtraArgs
	}
	if len(runROIs) > 0 {
		runCfg.SelectedClassNames = make(map[string]struct{}, len(runROIs))
		for _, name := range runROIs {
			runCfg.SelectedClassNames[name] = struct{}{}
		}
	}
	return runCfg
}

// executeWithUI runs the pipeline behind the interactive progress
// screen. The screen owns the terminal; Execute runs beside it and
// reports back through messages.
func executeWithUI(a *app, run *orchestrator.Run, series export.SeriesRef) error {
	ui := progress.NewUI(run.ID, run.Cancel)
	a.orch.Sink = ui
	a.orch.OnTransition = ui.Transition

	var (
		outcome *orchestrator.Outcome
		runErr  error
	)
	go func() {
		outcome, runErr = run.Execute(context.Background(), series)
		imported := 0
		if outcome != nil && outcome.Import != nil {
			imported = len(outcome.Import.AddedFilePaths)
		}
		ui.Finish(runErr, imported)
	}()

	if err := ui.Run(); err != nil {
		return fmt.Errorf("progress screen: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	printOutcome(outcome)
	return nil
}

// executePlain runs the pipeline with log output only. Interrupt maps
// to the same single-shot cooperative cancel the screen offers.
func executePlain(a *app, run *orchestrator.Run, series export.SeriesRef) error {
	reporter := progress.Plain{}
	a.orch.Sink = reporter
	a.orch.OnTransition = reporter.Transition

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		run.Cancel()
	}()

	outcome, err := run.Execute(context.Background(), series)
	imported := 0
	if outcome != nil && outcome.Import != nil {
		imported = len(outcome.Import.AddedFilePaths)
	}
	reporter.Finish(err, imported)
	if err != nil {
		return err
	}
	printOutcome(outcome)
	return nil
}

func printOutcome(outcome *orchestrator.Outcome) {
	if outcome == nil || outcome.Import == nil {
		return
	}
	fmt.Printf("Run %s imported %d files (%d structure sets)\n",
		outcome.RunID, len(outcome.Import.AddedFilePaths), len(outcome.Import.RTStructPaths))
}
