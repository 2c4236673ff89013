package nifti

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maskThreshold binarizes float masks; anything above is a positive voxel
const maskThreshold = 0.5

// LabelVolume is a multi-label volume: each voxel's integer value names
// the anatomical class occupying it, 0 being background.
type LabelVolume struct {
	Dim      [3]int
	Labels   []uint8
	template *Volume
}

// Template returns the source volume whose spatial metadata the label
// volume inherits.
func (v *LabelVolume) Template() *Volume { return v.template }

// SetTemplate records the source volume a label volume derives from
func (v *LabelVolume) SetTemplate(t *Volume) { v.template = t }

// canonical multi-label filenames, tried before any pattern search
var canonicalNames = []string{
	"segmentations.nii.gz",
	"segmentations.nii",
	"multilabel.nii.gz",
	"multilabel.nii",
}

// FindMultiLabelFile locates a single multi-label volume in an output
// directory: canonical filenames first, then any NIfTI whose name contains
// "seg". Returns "" when nothing matches.
func FindMultiLabelFile(dir string) string {
	for _, name := range canonicalNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || !isNIfTIName(entry.Name()) {
			continue
		}
		if strings.Contains(strings.ToLower(entry.Name()), "seg") {
			return filepath.Join(dir, entry.Name())
		}
	}
	return ""
}

// CollectMaskFiles gathers per-class binary mask files, preferring a
// segmentations/ subfolder when one exists. Files whose name mentions
// "image" without also mentioning "seg" are excluded; they are source
// volumes, not masks.
func CollectMaskFiles(dir string) ([]string, error) {
	maskDir := dir
	if sub := filepath.Join(dir, "segmentations"); dirExists(sub) {
		maskDir = sub
	}

	entries, err := os.ReadDir(maskDir)
	if err != nil {
		return nil, fmt.Errorf("reading mask directory: %w", err)
	}

	var masks []string
	for _, entry := range entries {
		if entry.IsDir() || !isNIfTIName(entry.Name()) {
			continue
		}
		lower := strings.ToLower(entry.Name())
		if strings.Contains(lower, "image") && !strings.Contains(lower, "seg") {
			continue
		}
		masks = append(masks, filepath.Join(maskDir, entry.Name()))
	}
	sort.Strings(masks)
	return masks, nil
}

// BuildMultiLabel merges binary masks into one labeled volume. Each mask
// with at least one positive voxel receives the next sequential label,
// starting at 1 in file order; overlapping voxels keep the last writer's
// label. All-zero masks are excluded entirely. The returned map goes from
// label to the class name derived from the mask filename.
func BuildMultiLabel(maskPaths []string) (*LabelVolume, map[int]string, error) {
	var out *LabelVolume
	labelNames := make(map[int]string)
	next := 1

	for _, path := range maskPaths {
		mask, err := Read(path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading mask %s: %w", filepath.Base(path), err)
		}

		if out == nil {
			out = &LabelVolume{Dim: mask.Dim, Labels: make([]uint8, mask.Len()), template: mask}
		} else if mask.Dim != out.Dim {
			return nil, nil, fmt.Errorf("mask %s has dimensions %v, want %v", filepath.Base(path), mask.Dim, out.Dim)
		}

		positive := false
		for i, v := range mask.Data {
			if v > maskThreshold {
				out.Labels[i] = uint8(next)
				positive = true
			}
		}
		if !positive {
			log.Printf("[nifti] skipping all-zero mask %s", filepath.Base(path))
			continue
		}

		labelNames[next] = classNameFromPath(path)
		next++
		if next > 255 {
			return nil, nil, fmt.Errorf("more than 255 labeled masks")
		}
	}

	if out == nil || len(labelNames) == 0 {
		return nil, nil, fmt.Errorf("no usable segmentation masks found")
	}
	return out, labelNames, nil
}

// FilterAndRelabel keeps only labels whose normalized name is in the
// filter set, then densely relabels the survivors starting at 1 in
// ascending original-label order. Background voxels are untouched. An
// empty filter keeps everything. An empty post-filter mapping is an error.
func FilterAndRelabel(vol *LabelVolume, labelNames map[int]string, keep map[string]struct{}) (map[int]string, error) {
	var originals []int
	for label := range labelNames {
		originals = append(originals, label)
	}
	sort.Ints(originals)

	remap := make(map[uint8]uint8)
	relabeled := make(map[int]string)
	next := 1
	for _, label := range originals {
		name := labelNames[label]
		if len(keep) > 0 {
			if _, ok := keep[NormalizeClassName(name)]; !ok {
				remap[uint8(label)] = 0
				continue
			}
		}
		remap[uint8(label)] = uint8(next)
		relabeled[next] = name
		next++
	}

	if len(relabeled) == 0 {
		return nil, fmt.Errorf("class filter removed every label")
	}

	for i, label := range vol.Labels {
		if label == 0 {
			continue
		}
		vol.Labels[i] = remap[label]
	}
	return relabeled, nil
}

// NormalizeClassName lower-cases a class name and replaces spaces with
// underscores, the form the filter set uses.
func NormalizeClassName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func classNameFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".nii")
	return name
}

func isNIfTIName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
