package convert

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumenimaging/segrunner/internal/domain"
	"github.com/lumenimaging/segrunner/internal/nifti"
	"github.com/lumenimaging/segrunner/internal/procexec"
	"github.com/lumenimaging/segrunner/internal/pyenv"
)

// scriptedRunner fakes the conversion script: it inspects the request
// file and emits a canned result.
type scriptedRunner struct {
	result domain.ProcessExecutionResult
	spec   procexec.Spec
}

type scriptedHandle struct{ result domain.ProcessExecutionResult }

func (h *scriptedHandle) Wait() domain.ProcessExecutionResult { return h.result }
func (h *scriptedHandle) Cancel()                             {}

func (r *scriptedRunner) Start(spec procexec.Spec, sink procexec.Sink) (procexec.Handle, error) {
	r.spec = spec
	return &scriptedHandle{result: r.result}, nil
}

func TestParseFinalLine(t *testing.T) {
	stdout := []byte("progress 10%\nprogress 100%\n" +
		`{"rtstruct_paths":["/out/seg_rtstruct.dcm"],"dicom_series_directories":["/ref"]}` + "\n")

	res, err := parseFinalLine(stdout)
	if err != nil {
		t.Fatalf("parseFinalLine: %v", err)
	}
	if len(res.RTStructPaths) != 1 || res.RTStructPaths[0] != "/out/seg_rtstruct.dcm" {
		t.Errorf("RTStructPaths = %v", res.RTStructPaths)
	}
}

func TestParseFinalLine_Errors(t *testing.T) {
	if _, err := parseFinalLine(nil); err == nil {
		t.Error("expected error for empty stdout")
	}
	if _, err := parseFinalLine([]byte("not json\n")); err == nil {
		t.Error("expected error for malformed result line")
	}
	if _, err := parseFinalLine([]byte(`{"rtstruct_paths":[]}`)); err == nil {
		t.Error("expected error for empty rtstruct list")
	}
}

func TestConvertOutput_StagesArtifacts(t *testing.T) {
	outputDir := t.TempDir()
	workDir := t.TempDir()

	// Three binary masks; one filtered away
	dim := [3]int{2, 2, 1}
	writeMask := func(name string, positives ...int) {
		voxels := make([]uint8, 4)
		for _, p := range positives {
			voxels[p] = 1
		}
		if err := nifti.WriteUint8(filepath.Join(outputDir, name), dim, voxels); err != nil {
			t.Fatal(err)
		}
	}
	writeMask("liver.nii.gz", 0)
	writeMask("spleen.nii.gz", 1)
	writeMask("heart.nii.gz", 2)

	runner := &scriptedRunner{result: domain.ProcessExecutionResult{
		Status: 0,
		Stdout: []byte(`{"rtstruct_paths":["out.dcm"],"dicom_series_directories":["/ref"]}` + "\n"),
	}}
	conv := &Converter{Engine: runner, Runtime: pyenv.Runtime{Program: "python3"}}

	keep := map[string]struct{}{"liver": {}, "spleen": {}}
	res, err := conv.ConvertOutput(outputDir, "/ref", workDir, "total", keep)
	if err != nil {
		t.Fatalf("ConvertOutput: %v", err)
	}
	if len(res.RTStructPaths) != 1 {
		t.Errorf("RTStructPaths = %v, want 1 entry", res.RTStructPaths)
	}

	// Staged multilabel volume exists and the label names survived the filter
	if _, err := os.Stat(filepath.Join(workDir, "nifti", "multilabel.nii.gz")); err != nil {
		t.Errorf("multilabel volume not staged: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(workDir, "nifti", "labels.json"))
	if err != nil {
		t.Fatalf("labels.json not staged: %v", err)
	}
	var labels map[string]string
	if err := json.Unmarshal(data, &labels); err != nil {
		t.Fatal(err)
	}
	if len(labels) != 2 {
		t.Errorf("labels = %v, want 2 entries after filter", labels)
	}

	// The script was invoked with the materialized request
	if len(runner.spec.Args) == 0 {
		t.Fatal("conversion script never invoked")
	}
}

func TestConvertOutput_PreRestrictedMultilabelKeepsLabels(t *testing.T) {
	outputDir := t.TempDir()
	workDir := t.TempDir()

	// A multilabel file as the tool writes it under a class restriction:
	// sparse numeric labels, no per-class mask files.
	if err := nifti.WriteUint8(filepath.Join(outputDir, "segmentations.nii.gz"),
		[3]int{2, 2, 1}, []uint8{0, 2, 5, 0}); err != nil {
		t.Fatal(err)
	}

	runner := &scriptedRunner{result: domain.ProcessExecutionResult{
		Status: 0,
		Stdout: []byte(`{"rtstruct_paths":["out.dcm"],"dicom_series_directories":["/ref"]}` + "\n"),
	}}
	conv := &Converter{Engine: runner, Runtime: pyenv.Runtime{Program: "python3"}}

	keep := map[string]struct{}{"liver": {}, "spleen": {}}
	res, err := conv.ConvertOutput(outputDir, "/ref", workDir, "total", keep)
	if err != nil {
		t.Fatalf("ConvertOutput: %v", err)
	}
	if len(res.RTStructPaths) != 1 {
		t.Errorf("RTStructPaths = %v, want 1 entry", res.RTStructPaths)
	}

	// Both labels survive with the tool's numbering intact
	data, err := os.ReadFile(filepath.Join(workDir, "nifti", "labels.json"))
	if err != nil {
		t.Fatalf("labels.json not staged: %v", err)
	}
	var labels map[string]string
	if err := json.Unmarshal(data, &labels); err != nil {
		t.Fatal(err)
	}
	if len(labels) != 2 {
		t.Errorf("labels = %v, want the pre-restricted pair", labels)
	}
	if labels["2"] != "label_2" || labels["5"] != "label_5" {
		t.Errorf("labels = %v, want label_2 and label_5 under their own numbers", labels)
	}
}

func TestConvertOutput_ScriptFailureSurfaced(t *testing.T) {
	outputDir := t.TempDir()
	if err := nifti.WriteUint8(filepath.Join(outputDir, "liver.nii.gz"), [3]int{1, 1, 1}, []uint8{1}); err != nil {
		t.Fatal(err)
	}

	runner := &scriptedRunner{result: domain.ProcessExecutionResult{
		Status: 2,
		Stderr: []byte("rt_utils: reference series not found"),
	}}
	conv := &Converter{Engine: runner, Runtime: pyenv.Runtime{Program: "python3"}}

	_, err := conv.ConvertOutput(outputDir, "/ref", t.TempDir(), "total", nil)
	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("err = %v, want ScriptError", err)
	}
	if scriptErr.Status != 2 {
		t.Errorf("Status = %d, want 2", scriptErr.Status)
	}
}

func TestConvertOutput_NoUsableSegmentation(t *testing.T) {
	conv := &Converter{Engine: &scriptedRunner{}, Runtime: pyenv.Runtime{Program: "python3"}}
	_, err := conv.ConvertOutput(t.TempDir(), "/ref", t.TempDir(), "total", nil)
	if err == nil {
		t.Error("expected hard failure for empty output directory")
	}
}
