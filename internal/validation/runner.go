package validation

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/skeehn/testpilot/internal/logging"
)

// RunPytest executes one test file under pytest and captures the outcome.
// A timeout is reported as a failed run with exit status -1 rather than an
// error, so callers treat it like any other failing candidate.
func RunPytest(ctx context.Context, pythonBinary, path string, timeout time.Duration) ExecutionResult {
	if pythonBinary == "" {
		pythonBinary = "python"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.ValidationDebug("running pytest: %s -m pytest %s (timeout=%s)", pythonBinary, path, timeout)

	cmd := exec.CommandContext(execCtx, pythonBinary, "-m", "pytest", path, "-v", "--tb=short")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := ExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Succeeded = false
		result.TimedOut = true
		result.ExitStatus = -1
		if result.Stderr != "" {
			result.Stderr += "\n"
		}
		result.Stderr += "test execution timed out"
		logging.Validation("pytest timed out after %s: %s", timeout, path)
	case err == nil:
		result.Succeeded = true
		result.ExitStatus = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitCode()
		} else {
			result.ExitStatus = -1
			if result.Stderr != "" {
				result.Stderr += "\n"
			}
			result.Stderr += err.Error()
		}
		result.Succeeded = false
	}

	return result
}
