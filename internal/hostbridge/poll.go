package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout indicates the host task did not finish within the
// configured window. Callers treat this as a soft failure.
var ErrWaitTimeout = errors.New("timed out waiting for host task")

// CompletionWaiter blocks until a named host background task is gone.
type CompletionWaiter interface {
	AwaitCompletion(ctx context.Context, taskName string) error
}

// RegistryPoller waits for task completion by polling the host's task
// registry at a fixed interval.
type RegistryPoller struct {
	Registry TaskRegistry
	Interval time.Duration
	Timeout  time.Duration
}

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultPollTimeout  = 30 * time.Second
)

func (p *RegistryPoller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return defaultPollInterval
}

func (p *RegistryPoller) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultPollTimeout
}

// AwaitCompletion returns nil once the task is absent from the
// registry, ErrWaitTimeout after the timeout, or the context error.
func (p *RegistryPoller) AwaitCompletion(ctx context.Context, taskName string) error {
	deadline := time.NewTimer(p.timeout())
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	for {
		present, err := p.Registry.HasTask(taskName)
		if err != nil {
			return fmt.Errorf("querying host task registry: %w", err)
		}
		if !present {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
