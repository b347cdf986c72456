package job

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Nanguage/executor/internal/resource"
	srvErrors "github.com/Nanguage/executor/pkg/errors"
)

// processBackend runs the job as a subprocess. The callable reference is
// interpreted as an argv vector; resolved positional arguments are appended
// as strings and the captured stdout is the job result.
type processBackend struct{}

func (processBackend) Name() string { return "process" }

func (processBackend) Classes() []resource.Class {
	return []resource.Class{resource.Processes}
}

func (processBackend) Run(ctx context.Context, _ Engine, j *Job) (any, error) {
	if len(j.command) == 0 {
		return nil, srvErrors.NewInternalError("job %s has no command", j.id)
	}
	args, _ := j.callArgs()
	argv := make([]string, 0, len(j.command)+len(args))
	argv = append(argv, j.command...)
	for _, arg := range args {
		argv = append(argv, fmt.Sprint(arg))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	j.setHandle(cmd)

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("command %q failed: %w: %s", argv[0], err, detail)
		}
		return nil, fmt.Errorf("command %q failed: %w", argv[0], err)
	}
	return stdout.String(), nil
}

func (processBackend) CancelRunning(_ Engine, j *Job) {
	cmd, ok := j.getHandle().(*exec.Cmd)
	if !ok || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func (processBackend) ClearContext(j *Job) {
	j.setHandle(nil)
}
