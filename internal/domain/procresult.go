package domain

// StatusNotStarted is the sentinel termination status for a process that
// never started.
const StatusNotStarted = -1

// ProcessExecutionResult is the structured outcome of one external process
// invocation. Exactly one of the two shapes holds: a non-negative status
// with captured output buffers, or the -1 sentinel with a launch error.
type ProcessExecutionResult struct {
	Status    int
	Stdout    []byte
	Stderr    []byte
	LaunchErr error
}

// Started reports whether the process ever ran
func (r ProcessExecutionResult) Started() bool {
	return r.Status != StatusNotStarted
}

// Valid checks the result invariant
func (r ProcessExecutionResult) Valid() bool {
	if r.Status == StatusNotStarted {
		return r.LaunchErr != nil
	}
	return r.Status >= 0 && r.LaunchErr == nil
}

// Combined returns stdout followed by stderr as one string, the form used
// for failure pattern matching.
func (r ProcessExecutionResult) Combined() string {
	return string(r.Stdout) + string(r.Stderr)
}
