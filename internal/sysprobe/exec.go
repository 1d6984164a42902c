//go:build linux || darwin

package sysprobe

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// runCapture executes a probe command and returns its trimmed stdout, or ""
// on any failure. Probes run on hot loops, so every command is bounded.
func runCapture(ctx context.Context, timeout time.Duration, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// runOK executes a command for its side effect and reports exit success.
func runOK(ctx context.Context, timeout time.Duration, name string, args ...string) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Run() == nil
}

func anyInPath(names ...string) bool {
	for _, n := range names {
		if _, err := exec.LookPath(n); err == nil {
			return true
		}
	}
	return false
}
