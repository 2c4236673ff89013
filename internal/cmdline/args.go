package cmdline

import (
	"log"
	"strings"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// Flags understood by the segmentation tool's CLI
const (
	FlagTask       = "--task"
	FlagFast       = "--fast"
	FlagDevice     = "--device"
	FlagLicense    = "--license_number"
	FlagROISubset  = "--roi_subset"
	FlagOutputType = "--output_type"

	flagOutputTypeShort = "-ot"
)

// BuildArguments assembles the deterministic argument vector for one run.
// Order: task, fast, device, license, user-supplied extra arguments (with
// any pre-existing ROI restriction stripped), the ROI restriction when the
// task gating holds, and finally the forced output type.
func BuildArguments(cfg domain.RunConfiguration) []string {
	return BuildArgumentsFor(cfg, domain.OutputDICOM)
}

// BuildArgumentsFor assembles the vector with an explicit forced output
// encoding. The nifti conversion pipeline is the only caller that asks
// for anything other than dicom.
func BuildArgumentsFor(cfg domain.RunConfiguration, outputType domain.OutputType) []string {
	var args []string

	if cfg.Task != "" {
		args = append(args, FlagTask, cfg.Task)
	}
	if cfg.UseFast {
		args = append(args, FlagFast)
	}
	if cfg.Device != "" {
		args = append(args, FlagDevice, cfg.Device)
	}
	if cfg.LicenseKey != "" {
		args = append(args, FlagLicense, cfg.LicenseKey)
	}

	extra := Tokenize(cfg.AdditionalArguments)
	extra = stripFlag(extra, FlagROISubset)
	extra, overrode := stripOutputType(extra)
	args = append(args, extra...)

	if cfg.RestrictionApplies() {
		args = append(args, FlagROISubset)
		args = append(args, cfg.SortedClassNames()...)
	} else if len(cfg.SelectedClassNames) > 0 {
		log.Printf("[cmdline] dropping class restriction: task %q does not support roi subsets", cfg.Task)
	}

	if overrode {
		log.Printf("[cmdline] overriding user-supplied output type: visualization requires %s", outputType)
	}
	args = append(args, FlagOutputType, string(outputType))

	return args
}

// stripFlag removes every occurrence of a flag from the token list, in
// either of its two recognized shapes: the flag name followed by one or
// more non-flag values, or the flag name joined to a value by "=".
func stripFlag(tokens []string, flag string) []string {
	out := tokens[:0:0]
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok == flag {
			for i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") {
				i++
			}
			continue
		}
		if strings.HasPrefix(tok, flag+"=") {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// stripOutputType removes any output-type token, long or short form, and
// reports whether one was present.
func stripOutputType(tokens []string) ([]string, bool) {
	overrode := false
	for _, flag := range []string{FlagOutputType, flagOutputTypeShort} {
		stripped := stripFlag(tokens, flag)
		if len(stripped) != len(tokens) {
			overrode = true
		}
		tokens = stripped
	}
	return tokens, overrode
}
