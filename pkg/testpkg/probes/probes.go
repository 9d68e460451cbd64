// Package probes implements the small set of generic detection primitives
// that module manifests reference by "kind". These are illustrative,
// reusable mechanisms, not a complete sandbox-detection suite: individual
// test content remains user-supplied per the project's scope.
package probes

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/secchiware/secchiware/pkg/testpkg"
)

// Default returns the built-in probe registry keyed by "kind".
func Default() map[string]testpkg.ProbeFunc {
	return map[string]testpkg.ProbeFunc{
		"env_equals":      EnvEquals,
		"file_exists":     FileExists,
		"process_running": ProcessRunning,
		"sleep_budget":     SleepBudget,
		"timing_budget":   TimingBudget,
		"shell_probe":     ShellProbe,
	}
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// EnvEquals passes when the named environment variable equals the expected
// value, a common VM-detection marker check (e.g. vendor-injected vars).
func EnvEquals(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
	name, ok := stringParam(params, "name")
	if !ok {
		return 0, map[string]interface{}{"error": "missing 'name' parameter"}, nil
	}
	want, _ := stringParam(params, "value")
	got := os.Getenv(name)
	if got == want {
		return 1, map[string]interface{}{"name": name, "value": got}, nil
	}
	return -1, map[string]interface{}{"name": name, "value": got, "expected": want}, nil
}

// FileExists passes when the given path is absent (a sandbox artifact file
// not being present), fails when it is found.
func FileExists(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
	path, ok := stringParam(params, "path")
	if !ok {
		return 0, map[string]interface{}{"error": "missing 'path' parameter"}, nil
	}
	if _, err := os.Stat(path); err == nil {
		return -1, map[string]interface{}{"path": path, "found": true}, nil
	} else if !os.IsNotExist(err) {
		return 0, map[string]interface{}{"path": path, "error": err.Error()}, nil
	}
	return 1, map[string]interface{}{"path": path, "found": false}, nil
}

// ProcessRunning fails when a process matching name is found running, a
// common analysis-tool fingerprint (e.g. "wireshark", "vboxservice").
func ProcessRunning(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
	name, ok := stringParam(params, "name")
	if !ok {
		return 0, map[string]interface{}{"error": "missing 'name' parameter"}, nil
	}
	out, err := exec.CommandContext(ctx, "pgrep", "-f", name).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return 1, map[string]interface{}{"name": name, "running": false}, nil
		}
		return 0, map[string]interface{}{"name": name, "error": err.Error()}, nil
	}
	return -1, map[string]interface{}{"name": name, "running": true, "pids": string(out)}, nil
}

// SleepBudget requests a sleep and fails if the measured duration deviates
// from the request by more than tolerance_ms, a classic accelerated-clock
// sandbox tell.
func SleepBudget(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
	requested := time.Duration(intParam(params, "requested_ms", 100)) * time.Millisecond
	tolerance := time.Duration(intParam(params, "tolerance_ms", 15)) * time.Millisecond

	start := time.Now()
	select {
	case <-time.After(requested):
	case <-ctx.Done():
		return 0, map[string]interface{}{"error": ctx.Err().Error()}, nil
	}
	elapsed := time.Since(start)

	deviation := elapsed - requested
	if deviation < 0 {
		deviation = -deviation
	}
	info := map[string]interface{}{
		"requested_ms": requested.Milliseconds(),
		"elapsed_ms":   elapsed.Milliseconds(),
	}
	if deviation > tolerance {
		return -1, info, nil
	}
	return 1, info, nil
}

// TimingBudget compares a busy-loop's wall-clock duration to a budget,
// catching time-dilation performed by some sandboxes.
func TimingBudget(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
	budget := time.Duration(intParam(params, "budget_ms", 50)) * time.Millisecond
	iterations := intParam(params, "iterations", 10_000_000)

	start := time.Now()
	acc := 0
	for i := 0; i < iterations; i++ {
		acc += i % 7
	}
	elapsed := time.Since(start)

	info := map[string]interface{}{"elapsed_ms": elapsed.Milliseconds(), "checksum": acc}
	if elapsed > budget {
		return -1, info, nil
	}
	return 1, info, nil
}

// ShellProbe runs an arbitrary command (operator-supplied via the bundle,
// not untrusted input) and reports its exit code.
func ShellProbe(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
	command, ok := stringParam(params, "command")
	if !ok {
		return 0, map[string]interface{}{"error": "missing 'command' parameter"}, nil
	}
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	info := map[string]interface{}{"output": string(out)}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return -1, info, fmt.Errorf("command exited %d", exitErr.ExitCode())
		}
		return 0, info, err
	}
	return 1, info, nil
}
