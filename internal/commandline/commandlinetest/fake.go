// Package commandlinetest provides a fake command executor for tests of packages that
// run external tools.
package commandlinetest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Call records one command run.
type Call struct {
	Name string
	Args []string
}

// ExitError is returned by handlers to simulate a non-zero exit code.
type ExitError struct {
	Code int
}

func (exitErr *ExitError) Error() string { return fmt.Sprintf("exit status %d", exitErr.Code) }

// ExitCode returns the simulated code.
func (exitErr *ExitError) ExitCode() int { return exitErr.Code }

// Handler produces the combined output of a command run.
type Handler func(name string, args []string) ([]byte, error)

// FakeExecutor records calls and dispatches them to per-executable handlers.
// Executables without a handler succeed with no output.
type FakeExecutor struct {
	handlers map[string]Handler
	missing  map[string]bool
	calls    []Call
	mu       sync.Mutex
}

// NewFakeExecutor creates a fake where every executable is installed.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		handlers: make(map[string]Handler),
		missing:  make(map[string]bool),
		calls:    nil,
		mu:       sync.Mutex{},
	}
}

// Handle registers the handler for an executable.
func (fake *FakeExecutor) Handle(executable string, handler Handler) *FakeExecutor {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	fake.handlers[executable] = handler

	return fake
}

// Uninstall makes LookPath fail for an executable.
func (fake *FakeExecutor) Uninstall(executable string) *FakeExecutor {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	fake.missing[executable] = true

	return fake
}

// RunCombined records the call and runs the registered handler.
func (fake *FakeExecutor) RunCombined(
	_ context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	fake.mu.Lock()
	fake.calls = append(fake.calls, Call{Name: name, Args: append([]string(nil), args...)})
	handler := fake.handlers[name]
	fake.mu.Unlock()

	if handler == nil {
		return nil, nil
	}

	return handler(name, args)
}

// LookPath fails for uninstalled executables.
func (fake *FakeExecutor) LookPath(file string) (string, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	if fake.missing[file] {
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}

	return filepath.Join("/usr/bin", file), nil
}

// Calls returns the recorded calls in order.
func (fake *FakeExecutor) Calls() []Call {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	return append([]Call(nil), fake.calls...)
}

// CallsTo returns the recorded calls of one executable.
func (fake *FakeExecutor) CallsTo(executable string) []Call {
	var out []Call

	for _, call := range fake.Calls() {
		if call.Name == executable {
			out = append(out, call)
		}
	}

	return out
}

// WriteLastArg is a handler that writes content to the path given as the last
// argument, the way conversion tools write their target file.
func WriteLastArg(content []byte) Handler {
	return func(_ string, args []string) ([]byte, error) {
		if len(args) == 0 {
			return nil, &ExitError{Code: 1}
		}

		writeErr := os.WriteFile(args[len(args)-1], content, 0o600)
		if writeErr != nil {
			return nil, fmt.Errorf("fake tool could not write target: %w", writeErr)
		}

		return nil, nil
	}
}
