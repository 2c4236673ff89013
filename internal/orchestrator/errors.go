package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// RunError is the single classified failure a run surfaces to the user.
// Message is concise and actionable; the raw tool output stays in the
// background log.
type RunError struct {
	State   domain.RunState
	Message string
	Err     error
}

func (e *RunError) Error() string {
	return e.Message
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func failAt(state domain.RunState, err error, message string) *RunError {
	return &RunError{State: state, Message: message, Err: err}
}

// failurePattern maps a substring of the tool's combined output to a
// remediation message.
type failurePattern struct {
	substring string
	message   func(interpreter string) string
}

var failurePatterns = []failurePattern{
	{"no module named", func(interp string) string {
		return fmt.Sprintf("the segmentation tool is not installed; run: %s -m pip install totalsegmentator", interp)
	}},
	{"modulenotfounderror", func(interp string) string {
		return fmt.Sprintf("the segmentation tool is not installed; run: %s -m pip install totalsegmentator", interp)
	}},
	{"command not found", func(interp string) string {
		return fmt.Sprintf("the segmentation tool's CLI was not found; run: %s -m pip install totalsegmentator", interp)
	}},
	{"could not download", func(string) string {
		return "model weights could not be downloaded; check the network connection and retry"
	}},
	{"weights", func(string) string {
		return "model weights are missing or corrupt; delete the weights cache and retry to re-download"
	}},
	{"license", func(string) string {
		return "this task requires a license; set the license key in the configuration"
	}},
	{"permission denied", func(string) string {
		return "the tool was denied file access; check permissions on the output directory"
	}},
}

// classifyProcessFailure turns a non-zero exit into a user message by
// matching the combined output against known failure signatures.
func classifyProcessFailure(result domain.ProcessExecutionResult, interpreter string) string {
	combined := strings.ToLower(result.Combined())
	for _, p := range failurePatterns {
		if strings.Contains(combined, p.substring) {
			return p.message(interpreter)
		}
	}
	return fmt.Sprintf("segmentation failed with exit code %d", result.Status)
}
