// Package commandline runs contributed external command-line tools. Commands are
// declared by name with a parameter template; callers supply named parameters and get
// back a Result describing the run.
package commandline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
)

var (
	// ErrUnknownCommand is returned for names with no contribution.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrCommandNotAvailable is returned when a command is disabled or its executable
	// is not installed.
	ErrCommandNotAvailable = errors.New("command not available")
)

// Command is a contributed command line.
type Command struct {
	Name             string `yaml:"name"`
	Executable       string `yaml:"command"`
	Parameters       string `yaml:"parameters"`
	InstallationHint string `yaml:"installation_hint"`
	Disabled         bool   `yaml:"disabled"`
}

// Availability describes whether a command can run on this host.
type Availability struct {
	Name      string
	Path      string
	Reason    string
	Hint      string
	Available bool
}

// ExecError describes a command run that did not exit cleanly.
type ExecError struct {
	Err         error
	CommandLine string
	Output      string
	ReturnCode  int
}

func (execErr *ExecError) Error() string {
	return fmt.Sprintf("command %q exited with code %d: %v. Output: %s",
		execErr.CommandLine, execErr.ReturnCode, execErr.Err, execErr.Output)
}

func (execErr *ExecError) Unwrap() error { return execErr.Err }

// Result is the outcome of one command run.
type Result struct {
	Err         error
	CommandLine string
	Output      []string
	ReturnCode  int
}

// Successful reports whether the command exited with code 0.
func (result *Result) Successful() bool {
	return result.Err == nil && result.ReturnCode == 0
}

// Service executes contributed commands.
type Service struct {
	executor CommandExecutor
	log      *logger.Logger
	commands map[string]Command
}

// NewService registers the contributions. A later contribution with the same name
// replaces an earlier one.
func NewService(commands []Command, log *logger.Logger) *Service {
	return NewServiceWithExecutor(commands, &defaultExecutor{}, log)
}

// NewServiceWithExecutor is NewService with a custom executor.
func NewServiceWithExecutor(
	commands []Command,
	executor CommandExecutor,
	log *logger.Logger,
) *Service {
	registered := make(map[string]Command, len(commands))
	for _, command := range commands {
		registered[command.Name] = command
	}

	return &Service{
		executor: executor,
		log:      log,
		commands: registered,
	}
}

// Command returns the contribution registered under name.
func (service *Service) Command(name string) (Command, bool) {
	command, ok := service.commands[name]

	return command, ok
}

// Availability checks that the command is registered, enabled and installed.
func (service *Service) Availability(name string) Availability {
	availability := Availability{
		Name:      name,
		Path:      "",
		Reason:    "",
		Hint:      "",
		Available: false,
	}

	command, ok := service.commands[name]
	if !ok {
		availability.Reason = ErrUnknownCommand.Error()

		return availability
	}

	availability.Hint = command.InstallationHint

	if command.Disabled {
		availability.Reason = "command is disabled"

		return availability
	}

	path, lookErr := service.executor.LookPath(command.Executable)
	if lookErr != nil {
		availability.Reason = fmt.Sprintf("executable %s not found: %v", command.Executable, lookErr)

		return availability
	}

	availability.Path = path
	availability.Available = true

	return availability
}

// Exec expands the command template with params and runs it. The returned error covers
// unknown or unavailable commands and template errors; a run that fails is reported
// through Result.
func (service *Service) Exec(ctx context.Context, name string, params Parameters) (*Result, error) {
	command, ok := service.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	if command.Disabled {
		return nil, fmt.Errorf("%w: %s is disabled", ErrCommandNotAvailable, name)
	}

	args, expandErr := Expand(command.Parameters, params)
	if expandErr != nil {
		return nil, fmt.Errorf("failed to build arguments for %s: %w", name, expandErr)
	}

	commandLine := strings.TrimSpace(command.Executable + " " + strings.Join(args, " "))

	output, execErr := service.executor.RunCombined(ctx, command.Executable, args...)

	result := &Result{
		Err:         nil,
		CommandLine: commandLine,
		Output:      splitOutput(output),
		ReturnCode:  0,
	}

	if execErr != nil {
		result.ReturnCode = exitCode(execErr)
		result.Err = &ExecError{
			Err:         execErr,
			CommandLine: commandLine,
			Output:      string(output),
			ReturnCode:  result.ReturnCode,
		}

		service.log.Warn("Command %s failed: %v", name, result.Err)
	}

	return result, nil
}

func exitCode(execErr error) int {
	var coder interface{ ExitCode() int }
	if errors.As(execErr, &coder) {
		return coder.ExitCode()
	}

	return -1
}

func splitOutput(output []byte) []string {
	trimmed := strings.TrimRight(string(output), "\r\n")
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}
