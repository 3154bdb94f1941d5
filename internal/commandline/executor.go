package commandline

import (
	"context"
	"os/exec"
)

// CommandExecutor defines an interface for running external commands.
// Tests replace it to avoid spawning real processes.
type CommandExecutor interface {
	// RunCombined executes a command and returns its combined standard output and
	// standard error.
	RunCombined(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath resolves an executable name against PATH.
	LookPath(file string) (string, error)
}

// defaultExecutor implements CommandExecutor with os/exec.
type defaultExecutor struct{}

// RunCombined runs the command and captures all output.
func (executor *defaultExecutor) RunCombined(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// LookPath is exec.LookPath.
func (executor *defaultExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}
