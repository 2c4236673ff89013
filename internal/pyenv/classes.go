package pyenv

import (
	"fmt"
	"strings"

	"github.com/lumenimaging/segrunner/internal/procexec"
)

// ListTaskClasses asks the installed tool which class names a task can
// produce by reading its class map. Tasks without a published map fail
// with a KeyError inside the interpreter and surface here as an error.
func ListTaskClasses(engine procexec.Runner, rt Runtime, task string) ([]string, error) {
	if task == "" {
		task = "total"
	}
	script := fmt.Sprintf(
		"from totalsegmentator.map_to_binary import class_map; print('\\n'.join(sorted(class_map[%q].values())))",
		task)

	spec := procexec.Spec{
		Program: rt.Program,
		Args:    append(append([]string{}, rt.LeadingArgs...), "-c", script),
		Env:     rt.Env,
	}
	h, err := engine.Start(spec, procexec.Discard)
	if err != nil {
		return nil, fmt.Errorf("probing interpreter %s: %w", rt.Program, err)
	}
	result := h.Wait()
	if result.Status != 0 {
		return nil, fmt.Errorf("listing classes for task %q failed with status %d", task, result.Status)
	}

	var names []string
	for _, line := range strings.Split(string(result.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
