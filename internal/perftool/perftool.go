package perftool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultFields asks perf to append the source line of every frame.
const DefaultFields = "+srcline"

// waitDelay bounds how long a canceled perf may keep its output pipes open.
const waitDelay = 5 * time.Second

// ToolInvocationError is returned when perf could not be started or exited
// with a non-zero status.
type ToolInvocationError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ToolInvocationError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, stderr)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

// Runner runs perf script. The zero value runs the perf binary found in
// PATH with DefaultFields.
type Runner struct {
	Binary string
	Fields string
}

func (r Runner) binary() string {
	if r.Binary == "" {
		return "perf"
	}
	return r.Binary
}

func (r Runner) args(dataPath string) []string {
	fields := r.Fields
	if fields == "" {
		fields = DefaultFields
	}
	return []string{"script", "-F" + fields, "--full-source-path", "-i", dataPath}
}

// Script runs perf script on dataPath and returns its standard output.
func (r Runner) Script(ctx context.Context, dataPath string) ([]byte, error) {
	args := r.args(dataPath)
	cmd := exec.CommandContext(ctx, r.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	log.Debug().Str("binary", r.binary()).Strs("args", args).Msg("running perf script")
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, &ToolInvocationError{
			Command: r.binary() + " " + strings.Join(args, " "),
			Stderr:  stderr.String(),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}
