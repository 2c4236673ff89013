// Package pyenv resolves the Python runtime that hosts the segmentation
// tool and probes its installed dependencies. Environment bootstrap
// (virtualenv creation, package download) lives outside this repository;
// all the pipeline needs back is a resolved "run a program" capability.
package pyenv

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrUnavailable means no usable interpreter could be resolved
var ErrUnavailable = errors.New("no usable python interpreter found")

// Runtime is the resolved capability to run the tool: a program path,
// leading arguments and environment overrides.
type Runtime struct {
	Program     string
	LeadingArgs []string
	Env         map[string]string
}

// Resolver yields a Runtime or signals unavailability
type Resolver interface {
	Resolve() (Runtime, error)
}

// PathResolver resolves an interpreter from an explicit path, a virtual
// environment root, or the system PATH, in that order.
type PathResolver struct {
	// Interpreter is an explicit interpreter path; empty means discover
	Interpreter string
	// VenvDir is an optional virtual environment root to prefer
	VenvDir string
}

// Resolve implements Resolver
func (r *PathResolver) Resolve() (Runtime, error) {
	if r.Interpreter != "" {
		if _, err := os.Stat(r.Interpreter); err != nil {
			return Runtime{}, fmt.Errorf("%w: configured interpreter %s: %v", ErrUnavailable, r.Interpreter, err)
		}
		return Runtime{Program: r.Interpreter}, nil
	}

	if r.VenvDir != "" {
		candidate := filepath.Join(r.VenvDir, "bin", "python3")
		if _, err := os.Stat(candidate); err == nil {
			return Runtime{
				Program: candidate,
				Env:     map[string]string{"VIRTUAL_ENV": r.VenvDir},
			}, nil
		}
	}

	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return Runtime{Program: path}, nil
		}
	}

	return Runtime{}, ErrUnavailable
}

// StaticResolver returns a fixed runtime; used by tests and embedded hosts
// that performed their own bootstrap.
type StaticResolver struct {
	Runtime Runtime
}

// Resolve implements Resolver
func (r *StaticResolver) Resolve() (Runtime, error) {
	if r.Runtime.Program == "" {
		return Runtime{}, ErrUnavailable
	}
	return r.Runtime, nil
}
