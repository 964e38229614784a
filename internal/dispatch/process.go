package dispatch

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/phnomcobra/stembot/internal/types"
)

// syncProcess runs form.Command with a hard timeout, capturing stdout,
// stderr, exit status, and elapsed time, grounded on
// original_source/stembot/adapter/process.py's sync_process. The original
// arms a register_timer to call process.kill() after form.Timeout; the
// idiomatic Go equivalent is exec.CommandContext with a deadline context,
// which this implements instead of reaching for the scheduler package (no
// named, cancellable timer is needed here — the context IS the timer).
func (d *Dispatcher) syncProcess(form types.Form) types.Form {
	var argv []string
	switch cmd := form.Command.(type) {
	case string:
		argv = []string{"/bin/sh", "-c", cmd}
	case []string:
		argv = cmd
	case []any:
		for _, p := range cmd {
			if s, ok := p.(string); ok {
				argv = append(argv, s)
			}
		}
	default:
		form.Error = "sync_process: command must be a string (shell) or a list of strings (argv)"
		return form
	}
	if len(argv) == 0 {
		form.Error = "sync_process: empty command"
		return form
	}

	timeout := form.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	start := d.Clock.Now()
	form.StartTime = start

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout*float64(time.Second)))
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	form.ElapsedTime = d.Clock.Now() - start
	form.Stdout = stdout.String()
	form.Stderr = stderr.String()

	status := cmd.ProcessState.ExitCode()
	form.Status = &status
	if err != nil && status == -1 {
		form.Error = err.Error()
	}
	return form
}
