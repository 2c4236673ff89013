package pyenv

import (
	"fmt"
	"strings"

	"github.com/lumenimaging/segrunner/internal/procexec"
)

// MissingModuleError carries the exact remediation command for the
// resolved interpreter.
type MissingModuleError struct {
	Module      string
	Interpreter string
}

func (e *MissingModuleError) Error() string {
	return fmt.Sprintf("python package %q is not installed; run: %s", e.Module, e.InstallCommand())
}

// InstallCommand returns the pip invocation that installs the module into
// the resolved interpreter.
func (e *MissingModuleError) InstallCommand() string {
	return fmt.Sprintf("%s -m pip install %s", e.Interpreter, e.Module)
}

// EnsureImportable verifies that a companion package is importable in the
// resolved interpreter. A failed import surfaces as MissingModuleError.
func EnsureImportable(engine procexec.Runner, rt Runtime, module string) error {
	spec := procexec.Spec{
		Program: rt.Program,
		Args:    append(append([]string{}, rt.LeadingArgs...), "-c", "import "+module),
		Env:     rt.Env,
	}
	h, err := engine.Start(spec, procexec.Discard)
	if err != nil {
		return fmt.Errorf("probing interpreter %s: %w", rt.Program, err)
	}
	if result := h.Wait(); result.Status != 0 {
		return &MissingModuleError{Module: module, Interpreter: rt.Program}
	}
	return nil
}

// ProbeToolVersion asks the installed tool for its version. Best effort:
// failures return an empty string.
func ProbeToolVersion(engine procexec.Runner, rt Runtime, module string) string {
	spec := procexec.Spec{
		Program: rt.Program,
		Args: append(append([]string{}, rt.LeadingArgs...),
			"-c", fmt.Sprintf("import %s; print(%s.__version__)", module, module)),
		Env: rt.Env,
	}
	h, err := engine.Start(spec, procexec.Discard)
	if err != nil {
		return ""
	}
	result := h.Wait()
	if result.Status != 0 {
		return ""
	}
	return strings.TrimSpace(string(result.Stdout))
}
