// Package procexec launches external programs and captures their output
// streams concurrently, returning a structured execution result.
package procexec

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// Spec describes one external process invocation
type Spec struct {
	Program string
	Args    []string
	Dir     string
	// Env holds caller overrides merged over the base process environment;
	// overrides win on key collision.
	Env map[string]string
}

// Sink receives decoded output text as it arrives
type Sink interface {
	Write(text string)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(string)

func (f SinkFunc) Write(text string) { f(text) }

// Discard is a Sink that drops everything
var Discard Sink = SinkFunc(func(string) {})

// Runner is the contract the orchestrator programs against
type Runner interface {
	Start(spec Spec, sink Sink) (Handle, error)
}

// Handle controls one running process
type Handle interface {
	// Wait blocks until the process exits and returns the final result
	Wait() domain.ProcessExecutionResult
	// Cancel delivers a termination signal to the child. Single-shot;
	// repeated calls are no-ops. Cancellation does not suppress the
	// completion path.
	Cancel()
}

// ResultOf runs a spec to completion through any Runner, folding a launch
// failure into the sentinel result shape.
func ResultOf(r Runner, spec Spec, sink Sink) domain.ProcessExecutionResult {
	h, err := r.Start(spec, sink)
	if err != nil {
		return domain.ProcessExecutionResult{Status: domain.StatusNotStarted, LaunchErr: err}
	}
	return h.Wait()
}

// Engine runs external processes
type Engine struct{}

// NewEngine creates an Engine
func NewEngine() *Engine { return &Engine{} }

// Run launches the process and blocks until it finishes. A launch failure
// yields the -1 sentinel with the launch error and no drain.
func (e *Engine) Run(spec Spec, sink Sink) domain.ProcessExecutionResult {
	h, err := e.Start(spec, sink)
	if err != nil {
		return domain.ProcessExecutionResult{Status: domain.StatusNotStarted, LaunchErr: err}
	}
	return h.Wait()
}

// Start launches the process and begins streaming its output. The returned
// error is the launch error; once Start succeeds the result always carries
// a real termination status.
func (e *Engine) Start(spec Spec, sink Sink) (Handle, error) {
	if sink == nil {
		sink = Discard
	}

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	// Own process group, so cancellation reaches subprocesses the tool
	// spawns; those inherit the pipes and would otherwise keep the pumps
	// from draining.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Program, err)
	}
	log.Printf("[procexec] started %s (pid %d)", spec.Program, cmd.Process.Pid)

	p := &process{cmd: cmd}
	p.stdout = newPump("stdout", sink, &p.stdoutBuf)
	p.stderr = newPump("stderr", sink, &p.stderrBuf)

	var g errgroup.Group
	g.Go(func() error { p.stdout.consume(stdout); return nil })
	g.Go(func() error { p.stderr.consume(stderr); return nil })
	p.pumps = &g

	return p, nil
}

// MergeEnv merges caller overrides over a base environment. Overrides win
// on key collision and the unbuffered-output flag is always forced so the
// child flushes output deterministically.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	var order []string
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	for k, v := range overrides {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	if _, seen := merged["PYTHONUNBUFFERED"]; !seen {
		order = append(order, "PYTHONUNBUFFERED")
	}
	merged["PYTHONUNBUFFERED"] = "1"

	sort.Strings(order)
	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+merged[k])
	}
	return env
}

type process struct {
	cmd        *exec.Cmd
	stdout     *pump
	stderr     *pump
	stdoutBuf  lockedBuffer
	stderrBuf  lockedBuffer
	pumps      *errgroup.Group
	cancelOnce sync.Once
}

func (p *process) Cancel() {
	p.cancelOnce.Do(func() {
		pid := p.cmd.Process.Pid
		log.Printf("[procexec] cancelling process group %d", pid)
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			log.Printf("[procexec] signalling group %d: %v", pid, err)
			if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				log.Printf("[procexec] signalling pid %d: %v", pid, err)
			}
		}
	})
}

func (p *process) Wait() domain.ProcessExecutionResult {
	// The pumps read to EOF; waiting on them is the final drain that
	// captures trailing bytes before the pipes are torn down.
	p.pumps.Wait()
	p.stdout.flush()
	p.stderr.flush()

	status := 0
	if err := p.cmd.Wait(); err != nil {
		status = exitStatus(err)
	}
	log.Printf("[procexec] pid %d exited with status %d", p.cmd.Process.Pid, status)

	return domain.ProcessExecutionResult{
		Status: status,
		Stdout: p.stdoutBuf.Bytes(),
		Stderr: p.stderrBuf.Bytes(),
	}
}

// exitStatus maps a Wait error to a termination status, keeping the -1
// sentinel exclusive to launch failures. A signalled child maps to the
// conventional 128+signal.
func exitStatus(err error) int {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	return 1
}
