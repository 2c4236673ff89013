// Package orchestrator drives a segmentation run through its state
// machine: export, argument assembly, dependency check, launch,
// validation, classification, import, visualization, audit. Every
// failure is classified once at this boundary into a concise message;
// the run workspace is removed exactly once on every exit path.
package orchestrator

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenimaging/segrunner/internal/audit"
	"github.com/lumenimaging/segrunner/internal/classify"
	"github.com/lumenimaging/segrunner/internal/cmdline"
	"github.com/lumenimaging/segrunner/internal/convert"
	"github.com/lumenimaging/segrunner/internal/domain"
	"github.com/lumenimaging/segrunner/internal/export"
	"github.com/lumenimaging/segrunner/internal/hostbridge"
	"github.com/lumenimaging/segrunner/internal/notify"
	"github.com/lumenimaging/segrunner/internal/procexec"
	"github.com/lumenimaging/segrunner/internal/pyenv"
	"github.com/lumenimaging/segrunner/internal/runstore"
)

//go:embed scripts/totalseg_bridge.py
var bridgeScript []byte

// companionModule must be importable in the resolved interpreter before
// anything is launched.
const companionModule = "totalsegmentator"

// runConfigFile is the JSON contract of the bridge script.
type runConfigFile struct {
	DICOMDir     string   `json:"dicom_dir"`
	OutputDir    string   `json:"output_dir"`
	OutputType   string   `json:"output_type"`
	TotalsegArgs []string `json:"totalseg_args"`
}

// Orchestrator holds the collaborators a run needs. Runs, Audit and
// Notifier are optional; nil disables that concern.
type Orchestrator struct {
	Exporter   export.Exporter
	Resolver   pyenv.Resolver
	Engine     procexec.Runner
	Importer   *hostbridge.Importer
	Visualizer *hostbridge.Visualizer
	Converter  *convert.Converter

	Runs     *runstore.Store
	Audit    *audit.Writer
	Notifier notify.Notifier
	Sink     procexec.Sink

	// EnableNIfTI routes the run through the NIfTI output and the
	// RT-Struct conversion script instead of the tool's native DICOM
	// output.
	EnableNIfTI bool

	// OnTransition mirrors state changes to the progress UI.
	OnTransition func(runID string, state domain.RunState)
}

// Run is one segmentation run in flight.
type Run struct {
	ID    string
	orch  *Orchestrator
	cfg   domain.RunConfiguration
	state domain.RunState

	mu       sync.Mutex
	handle   procexec.Handle
	canceled bool

	cancelOnce sync.Once
}

// Outcome is what a finished run hands back to its caller.
type Outcome struct {
	RunID  string
	Import *domain.SegmentationImportResult
	Series []notify.SeriesSummary
}

// NewRun prepares a run; Execute performs it.
func (o *Orchestrator) NewRun(cfg domain.RunConfiguration) *Run {
	return &Run{
		ID:    uuid.NewString(),
		orch:  o,
		cfg:   cfg,
		state: domain.StateIdle,
	}
}

// Cancel requests cooperative cancellation. Single-shot: the first call
// signals the child process (or arranges for the signal at launch); the
// run still walks its completion path and observes the resulting
// status.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() {
		r.mu.Lock()
		r.canceled = true
		handle := r.handle
		r.mu.Unlock()

		log.Printf("[orchestrator] run %s: cancellation requested", r.ID)
		if handle != nil {
			handle.Cancel()
		}
	})
}

func (r *Run) attach(handle procexec.Handle) {
	r.mu.Lock()
	r.handle = handle
	canceled := r.canceled
	r.mu.Unlock()
	if canceled {
		handle.Cancel()
	}
}

func (r *Run) transition(state domain.RunState) {
	r.state = state
	log.Printf("[orchestrator] run %s: %s", r.ID, state)
	if r.orch.Runs != nil && !state.Terminal() {
		if err := r.orch.Runs.UpdateRunState(r.ID, state); err != nil {
			log.Printf("[orchestrator] run %s: recording state: %v", r.ID, err)
		}
	}
	if r.orch.OnTransition != nil {
		r.orch.OnTransition(r.ID, state)
	}
}

// Execute runs the whole pipeline for one source series. The returned
// error, if any, is always a *RunError carrying the classified message.
func (r *Run) Execute(ctx context.Context, series export.SeriesRef) (*Outcome, error) {
	started := time.Now()
	r.recordStart()

	outcome, runErr := r.execute(ctx, series)
	if runErr != nil {
		r.transition(domain.StateFailed)
		r.finishRecord(domain.StateFailed, runErr.Message, nil)
		r.notify(notify.Notification{
			Type:     notify.NotifyError,
			Headline: "Segmentation failed",
			Task:     r.cfg.Task,
			Detail:   runErr.Message,
			Stage:    string(runErr.State),
			Elapsed:  time.Since(started),
		})
		return nil, runErr
	}

	r.transition(domain.StateDone)
	r.finishRecord(domain.StateDone, "", outcome.Import)
	r.notify(notify.Notification{
		Type:      notify.NotifySuccess,
		Headline:  "Segmentation finished",
		Task:      r.cfg.Task,
		Series:    outcome.Series,
		Imported:  len(outcome.Import.AddedFilePaths),
		RTStructs: len(outcome.Import.RTStructPaths),
		Elapsed:   time.Since(started),
	})
	return outcome, nil
}

func (r *Run) execute(ctx context.Context, series export.SeriesRef) (*Outcome, *RunError) {
	outputType := domain.OutputDICOM
	if r.orch.EnableNIfTI {
		outputType = domain.OutputNIfTI
	}

	// Exporting. On failure no workspace exists; the exporter owns its
	// partial state.
	r.transition(domain.StateExporting)
	exp, err := r.orch.Exporter.Export(series)
	if err != nil {
		return nil, failAt(domain.StateExporting, err, err.Error())
	}
	defer exp.Destroy()

	// BuildingConfiguration
	r.transition(domain.StateBuildingConfiguration)
	toolArgs := cmdline.BuildArgumentsFor(r.cfg, outputType)
	if r.cfg.Device != "" {
		if err := domain.ValidateDevice(r.cfg.Device); err != nil {
			return nil, failAt(domain.StateBuildingConfiguration, err, err.Error())
		}
	}

	// EnsuringDependencies
	r.transition(domain.StateEnsuringDependencies)
	runtime, err := r.orch.Resolver.Resolve()
	if err != nil {
		return nil, failAt(domain.StateEnsuringDependencies, err,
			"no usable python interpreter found; configure tool.interpreter or tool.virtual_env")
	}
	if err := pyenv.EnsureImportable(r.orch.Engine, runtime, companionModule); err != nil {
		var missing *pyenv.MissingModuleError
		if errors.As(err, &missing) {
			return nil, failAt(domain.StateEnsuringDependencies, err,
				fmt.Sprintf("the segmentation tool is not installed; run: %s", missing.InstallCommand()))
		}
		return nil, failAt(domain.StateEnsuringDependencies, err, err.Error())
	}

	// Launching
	r.transition(domain.StateLaunching)
	ref, err := exp.Reference()
	if err != nil {
		return nil, failAt(domain.StateLaunching, err, err.Error())
	}
	outputDir := r.cfg.OutputDirectory
	if outputDir == "" {
		outputDir = filepath.Join(exp.TempDir, "output")
	}
	spec, err := r.materializeLaunch(exp.TempDir, ref.ExportedDirectory, outputDir, outputType, toolArgs, runtime)
	if err != nil {
		return nil, failAt(domain.StateLaunching, err, "could not prepare the run workspace")
	}

	sink := r.orch.Sink
	if sink == nil {
		sink = procexec.Discard
	}
	handle, err := r.orch.Engine.Start(spec, sink)
	if err != nil {
		return nil, failAt(domain.StateLaunching, err,
			fmt.Sprintf("could not launch the segmentation process: %v", err))
	}
	r.attach(handle)

	// Running
	r.transition(domain.StateRunning)
	result := handle.Wait()
	if result.LaunchErr != nil {
		return nil, failAt(domain.StateRunning, result.LaunchErr,
			fmt.Sprintf("could not launch the segmentation process: %v", result.LaunchErr))
	}
	if result.Status != 0 {
		log.Printf("[orchestrator] run %s: tool output:\n%s", r.ID, result.Combined())
		return nil, failAt(domain.StateRunning, nil, classifyProcessFailure(result, runtime.Program))
	}

	// Validating
	r.transition(domain.StateValidating)
	if !classify.HasRegularFile(outputDir) {
		return nil, failAt(domain.StateValidating, nil,
			"the tool exited successfully but its output directory is missing or empty")
	}

	// ClassifyingAndImporting, with the conversion detour when the run
	// produced NIfTI.
	r.transition(domain.StateClassifyingAndImporting)
	classification, runErr := r.classifyOutput(outputDir, outputType, exp, ref)
	if runErr != nil {
		return nil, runErr
	}

	// Importing
	r.transition(domain.StateImporting)
	importResult, err := r.orch.Importer.ImportClassified(*classification, outputType)
	if err != nil {
		if errors.Is(err, hostbridge.ErrNothingImportable) {
			return nil, failAt(domain.StateImporting, err, "the run produced no importable files")
		}
		return nil, failAt(domain.StateImporting, err,
			fmt.Sprintf("importing results into the host store failed: %v", err))
	}

	// Visualizing, skipped on ROI suppression. A poll timeout inside is
	// soft and already logged.
	r.transition(domain.StateVisualizing)
	if !r.cfg.SuppressROIs && r.orch.Visualizer != nil {
		ids := make([]hostbridge.ObjectID, len(importResult.ImportedObjectIDs))
		for i, id := range importResult.ImportedObjectIDs {
			ids[i] = hostbridge.ObjectID(id)
		}
		if err := r.orch.Visualizer.Visualize(ctx, ids); err != nil {
			return nil, failAt(domain.StateVisualizing, err,
				fmt.Sprintf("showing results in the viewer failed: %v", err))
		}
	}

	// Auditing. Failures inside the writer are soft and never surface.
	r.transition(domain.StateAuditing)
	if r.orch.Audit != nil {
		r.orch.Audit.Record(r.auditEntry(outputDir, outputType, importResult, exp, runtime))
	}

	summaries := make([]notify.SeriesSummary, 0, len(exp.Series))
	for _, s := range exp.Series {
		summaries = append(summaries, notify.SeriesSummary{
			Modality:   string(s.Modality),
			SeriesUID:  s.SeriesInstanceUID,
			SliceCount: len(s.ExportedFiles),
		})
	}
	return &Outcome{RunID: r.ID, Import: importResult, Series: summaries}, nil
}

func (r *Run) classifyOutput(outputDir string, outputType domain.OutputType, exp *domain.ExportResult, ref domain.ExportedSeries) (*classify.Classification, *RunError) {
	if outputType == domain.OutputNIfTI {
		if r.orch.Converter == nil {
			return nil, failAt(domain.StateConverting, nil,
				"nifti output requires the conversion pipeline, which is not configured")
		}
		r.transition(domain.StateConverting)
		converted, err := r.orch.Converter.ConvertOutput(outputDir, ref.ExportedDirectory, exp.TempDir, r.cfg.Task, r.cfg.SelectedClassNames)
		if err != nil {
			var scriptErr *convert.ScriptError
			if errors.As(err, &scriptErr) {
				return nil, failAt(domain.StateConverting, err,
					fmt.Sprintf("structure set conversion failed (exit %d): %s", scriptErr.Status, scriptErr.Stderr))
			}
			return nil, failAt(domain.StateConverting, err, err.Error())
		}
		return &classify.Classification{RTStructFiles: converted.RTStructPaths}, nil
	}

	classification, err := classify.ClassifyOutput(outputDir, outputType)
	if err != nil {
		var unsupported *classify.UnsupportedOutputTypeError
		if errors.As(err, &unsupported) {
			return nil, failAt(domain.StateClassifyingAndImporting, err, err.Error())
		}
		return nil, failAt(domain.StateClassifyingAndImporting, err,
			fmt.Sprintf("classifying output files failed: %v", err))
	}
	return classification, nil
}

func (r *Run) materializeLaunch(workDir, dicomDir, outputDir string, outputType domain.OutputType, toolArgs []string, runtime pyenv.Runtime) (procexec.Spec, error) {
	scriptPath := filepath.Join(workDir, "totalseg_bridge.py")
	if err := os.WriteFile(scriptPath, bridgeScript, 0644); err != nil {
		return procexec.Spec{}, fmt.Errorf("materializing bridge script: %w", err)
	}

	cfg := runConfigFile{
		DICOMDir:     dicomDir,
		OutputDir:    outputDir,
		OutputType:   string(outputType),
		TotalsegArgs: toolArgs,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return procexec.Spec{}, err
	}
	configPath := filepath.Join(workDir, "run_config.json")
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return procexec.Spec{}, fmt.Errorf("writing run config: %w", err)
	}

	args := append(append([]string{}, runtime.LeadingArgs...), scriptPath, configPath)
	return procexec.Spec{
		Program: runtime.Program,
		Args:    args,
		Dir:     workDir,
		Env:     runtime.Env,
	}, nil
}

func (r *Run) auditEntry(outputDir string, outputType domain.OutputType, importResult *domain.SegmentationImportResult, exp *domain.ExportResult, runtime pyenv.Runtime) domain.AuditEntry {
	entry := domain.AuditEntry{
		Timestamp:          time.Now().UTC(),
		RunID:              r.ID,
		OutputDirectory:    outputDir,
		OutputType:         outputType,
		ImportedFileCount:  len(importResult.AddedFilePaths),
		RTStructCount:      len(importResult.RTStructPaths),
		Task:               r.cfg.Task,
		UseFast:            r.cfg.UseFast,
		Device:             r.cfg.Device,
		SelectedClassNames: r.cfg.SortedClassNames(),
		ToolVersion:        pyenv.ProbeToolVersion(r.orch.Engine, runtime, companionModule),
	}
	for _, s := range exp.Series {
		entry.Series = append(entry.Series, domain.SeriesAudit{
			Modality:          string(s.Modality),
			SeriesInstanceUID: s.SeriesInstanceUID,
			StudyInstanceUID:  s.StudyInstanceUID,
			SliceCount:        len(s.ExportedFiles),
		})
	}
	return entry
}

func (r *Run) recordStart() {
	if r.orch.Runs == nil {
		return
	}
	outputType := domain.OutputDICOM
	if r.orch.EnableNIfTI {
		outputType = domain.OutputNIfTI
	}
	record := &runstore.RunRecord{
		ID:              r.ID,
		State:           domain.StateIdle,
		Task:            r.cfg.Task,
		Device:          r.cfg.Device,
		UseFast:         r.cfg.UseFast,
		OutputType:      outputType,
		OutputDirectory: r.cfg.OutputDirectory,
		SelectedClasses: r.cfg.SortedClassNames(),
		StartedAt:       time.Now(),
	}
	if err := r.orch.Runs.SaveRun(record); err != nil {
		log.Printf("[orchestrator] run %s: recording start: %v", r.ID, err)
	}
}

func (r *Run) finishRecord(state domain.RunState, message string, importResult *domain.SegmentationImportResult) {
	if r.orch.Runs == nil {
		return
	}
	imported, rtstructs := 0, 0
	if importResult != nil {
		imported = len(importResult.AddedFilePaths)
		rtstructs = len(importResult.RTStructPaths)
	}
	if err := r.orch.Runs.FinishRun(r.ID, state, message, imported, rtstructs); err != nil {
		log.Printf("[orchestrator] run %s: recording finish: %v", r.ID, err)
	}
}

func (r *Run) notify(n notify.Notification) {
	if r.orch.Notifier == nil {
		return
	}
	n.RunID = r.ID
	if err := r.orch.Notifier.Send(n); err != nil {
		log.Printf("[orchestrator] run %s: notification: %v", r.ID, err)
	}
}
