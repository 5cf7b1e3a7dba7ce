package encode

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner executes an external tool and returns its standard output along
// with everything it wrote to standard error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs real binaries.
type ExecRunner struct {
	Dir string
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
