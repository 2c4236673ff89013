package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateDevice checks a compute device string. Accepted forms are "cpu",
// "gpu", "mps" and "gpu:N" with a non-negative integer N.
func ValidateDevice(device string) error {
	switch device {
	case "", "cpu", "gpu", "mps":
		return nil
	}
	if idx, ok := strings.CutPrefix(device, "gpu:"); ok {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid gpu index %q", idx)
		}
		return nil
	}
	return fmt.Errorf("unknown device %q (expected cpu, gpu, mps or gpu:N)", device)
}
