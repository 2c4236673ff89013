// Package convert turns a NIfTI segmentation output into a DICOM RT
// structure set, via an external synthesis script. The whole subsystem is
// reachable only when the nifti conversion feature flag is enabled; the
// orchestrator forces DICOM output by default.
package convert

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/lumenimaging/segrunner/internal/nifti"
	"github.com/lumenimaging/segrunner/internal/procexec"
	"github.com/lumenimaging/segrunner/internal/pyenv"
)

//go:embed scripts/nifti_to_rtstruct.py
var conversionScript []byte

// Request is the JSON contract of the conversion script
type Request struct {
	NIfTIDir          string   `json:"nifti_dir"`
	ReferenceDICOMDir string   `json:"reference_dicom_dir"`
	OutputDir         string   `json:"output_dir"`
	SelectedClasses   []string `json:"selected_classes"`
	RTStructName      string   `json:"rtstruct_name"`
	Task              string   `json:"task"`
}

// Result is the final stdout line of the conversion script
type Result struct {
	RTStructPaths          []string `json:"rtstruct_paths"`
	DICOMSeriesDirectories []string `json:"dicom_series_directories"`
}

// ScriptError surfaces the script's own exit code and stderr
type ScriptError struct {
	Status int
	Stderr string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("conversion script failed with exit code %d: %s", e.Status, e.Stderr)
}

// Converter drives the external RT-Struct synthesis
type Converter struct {
	Engine  procexec.Runner
	Runtime pyenv.Runtime
}

// ConvertOutput locates or synthesizes the multi-label volume in the
// tool's output directory, applies the class filter, and runs the
// synthesis script. workDir is the run workspace; intermediate artifacts
// live under it and vanish with it.
func (c *Converter) ConvertOutput(outputDir, referenceDICOMDir, workDir, task string, classFilter map[string]struct{}) (*Result, error) {
	niftiDir := filepath.Join(workDir, "nifti")
	if err := os.MkdirAll(niftiDir, 0755); err != nil {
		return nil, fmt.Errorf("creating conversion staging dir: %w", err)
	}

	vol, labelNames, prefiltered, err := loadSegmentation(outputDir)
	if err != nil {
		return nil, err
	}

	// A multilabel file written by the tool already reflects the run's
	// class restriction, and its labels carry no class names to match a
	// filter against. Only a volume synthesized from per-class masks
	// still needs filtering.
	relabeled := labelNames
	if prefiltered {
		if len(classFilter) > 0 {
			log.Printf("[convert] multilabel volume is pre-restricted; keeping all %d labels", len(labelNames))
		}
	} else {
		relabeled, err = nifti.FilterAndRelabel(vol, labelNames, classFilter)
		if err != nil {
			return nil, err
		}
	}

	if err := nifti.WriteLabels(filepath.Join(niftiDir, "multilabel.nii.gz"), vol.Template(), vol.Labels); err != nil {
		return nil, fmt.Errorf("writing multilabel volume: %w", err)
	}
	if err := writeLabelNames(filepath.Join(niftiDir, "labels.json"), relabeled); err != nil {
		return nil, err
	}

	req := Request{
		NIfTIDir:          niftiDir,
		ReferenceDICOMDir: referenceDICOMDir,
		OutputDir:         filepath.Join(workDir, "rtstruct"),
		SelectedClasses:   sortedNames(relabeled),
		RTStructName:      "segmentations_rtstruct.dcm",
		Task:              task,
	}
	return c.runScript(workDir, req)
}

// loadSegmentation finds a single multi-label file, or synthesizes one
// from a directory of binary masks. prefiltered reports whether the
// volume came from the tool directly, meaning the class selection was
// already applied upstream.
func loadSegmentation(outputDir string) (vol *nifti.LabelVolume, labelNames map[int]string, prefiltered bool, err error) {
	if path := nifti.FindMultiLabelFile(outputDir); path != "" {
		log.Printf("[convert] using multilabel volume %s", filepath.Base(path))
		vol, labelNames, err = loadMultiLabelFile(path)
		return vol, labelNames, true, err
	}

	masks, err := nifti.CollectMaskFiles(outputDir)
	if err != nil {
		return nil, nil, false, err
	}
	log.Printf("[convert] synthesizing multilabel volume from %d masks", len(masks))
	vol, labelNames, err = nifti.BuildMultiLabel(masks)
	return vol, labelNames, false, err
}

func loadMultiLabelFile(path string) (*nifti.LabelVolume, map[int]string, error) {
	vol, err := nifti.Read(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading multilabel volume: %w", err)
	}

	out := &nifti.LabelVolume{Dim: vol.Dim, Labels: make([]uint8, vol.Len())}
	labelNames := make(map[int]string)
	for i, v := range vol.Data {
		label := int(v)
		if label <= 0 || label > 255 {
			continue
		}
		out.Labels[i] = uint8(label)
		if _, ok := labelNames[label]; !ok {
			labelNames[label] = fmt.Sprintf("label_%d", label)
		}
	}
	if len(labelNames) == 0 {
		return nil, nil, fmt.Errorf("multilabel volume %s has no foreground voxels", filepath.Base(path))
	}
	out.SetTemplate(vol)
	return out, labelNames, nil
}

// runScript materializes the embedded script and request file in the
// workspace and executes it, parsing the final stdout line.
func (c *Converter) runScript(workDir string, req Request) (*Result, error) {
	scriptPath := filepath.Join(workDir, "nifti_to_rtstruct.py")
	if err := os.WriteFile(scriptPath, conversionScript, 0644); err != nil {
		return nil, fmt.Errorf("materializing conversion script: %w", err)
	}
	reqPath := filepath.Join(workDir, "conversion_request.json")
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(reqPath, data, 0644); err != nil {
		return nil, fmt.Errorf("writing conversion request: %w", err)
	}

	spec := procexec.Spec{
		Program: c.Runtime.Program,
		Args:    append(append([]string{}, c.Runtime.LeadingArgs...), scriptPath, reqPath),
		Dir:     workDir,
		Env:     c.Runtime.Env,
	}
	result := procexec.ResultOf(c.Engine, spec, procexec.Discard)
	if result.LaunchErr != nil {
		return nil, fmt.Errorf("launching conversion script: %w", result.LaunchErr)
	}
	if result.Status != 0 {
		return nil, &ScriptError{Status: result.Status, Stderr: string(result.Stderr)}
	}

	return parseFinalLine(result.Stdout)
}

// parseFinalLine decodes the script's result from the last non-empty
// stdout line.
func parseFinalLine(stdout []byte) (*Result, error) {
	var last []byte
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			last = append(last[:0], line...)
		}
	}
	if len(last) == 0 {
		return nil, fmt.Errorf("conversion script produced no result line")
	}

	var res Result
	if err := json.Unmarshal(last, &res); err != nil {
		return nil, fmt.Errorf("parsing conversion result %q: %w", last, err)
	}
	if len(res.RTStructPaths) == 0 {
		return nil, fmt.Errorf("conversion produced no rtstruct artifacts")
	}
	return &res, nil
}

func writeLabelNames(path string, labelNames map[int]string) error {
	byLabel := make(map[string]string, len(labelNames))
	for label, name := range labelNames {
		byLabel[fmt.Sprintf("%d", label)] = name
	}
	data, err := json.Marshal(byLabel)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// sortedNames returns class names in label order. Pre-restricted
// multilabel volumes keep the tool's sparse numbering, so the keys are
// sorted rather than assumed contiguous.
func sortedNames(labelNames map[int]string) []string {
	labels := make([]int, 0, len(labelNames))
	for label := range labelNames {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		names = append(names, labelNames[label])
	}
	return names
}
