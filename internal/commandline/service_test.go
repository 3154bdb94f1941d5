package commandline_test

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/commandline/commandlinetest"
)

const watermarkTemplate = `"#{sourceFilePath}" -gravity SouthWest -fill #{textColor} ` +
	`-stroke #{strokeColor} -strokewidth #{strokeWidth} -pointsize #{textSize} ` +
	`-annotate #{textRotation}x#{textRotation}+#{xOffset}+#{yOffset} #{textValue} ` +
	`"#{targetFilePath}"`

func newTestService(
	t *testing.T,
	fake *commandlinetest.FakeExecutor,
	commands ...commandline.Command,
) *commandline.Service {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return commandline.NewServiceWithExecutor(commands, fake, log)
}

func TestExpandKeepsSubstitutedValuesWhole(t *testing.T) {
	t.Parallel()

	params := commandline.NewParameters().
		Set(commandline.ParamSourceFilePath, "/tmp/my photo.jpg").
		Set(commandline.ParamTargetFilePath, "/tmp/out.jpeg").
		Set("textColor", "red").
		Set("strokeColor", "black").
		Set("strokeWidth", "1").
		Set("textSize", "24").
		Set("textRotation", "0").
		Set("xOffset", "0").
		Set("yOffset", "0").
		Set("textValue", "Created 2024-03-05")

	args, err := commandline.Expand(watermarkTemplate, params)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/tmp/my photo.jpg",
		"-gravity", "SouthWest",
		"-fill", "red",
		"-stroke", "black",
		"-strokewidth", "1",
		"-pointsize", "24",
		"-annotate", "0x0+0+0",
		"Created 2024-03-05",
		"/tmp/out.jpeg",
	}, args)
}

func TestExpandErrors(t *testing.T) {
	t.Parallel()

	_, err := commandline.Expand("#{missing} -x", commandline.NewParameters())
	require.ErrorIs(t, err, commandline.ErrMissingParameter)

	_, err = commandline.Expand(`"unterminated -x`, commandline.NewParameters())
	require.ErrorIs(t, err, commandline.ErrUnbalancedQuotes)
}

func TestExecSuccess(t *testing.T) {
	t.Parallel()

	fake := commandlinetest.NewFakeExecutor().Handle("convert",
		func(_ string, _ []string) ([]byte, error) { return []byte("line one\nline two\n"), nil })
	service := newTestService(t, fake, commandline.Command{
		Name:             "jpeg200x200",
		Executable:       "convert",
		Parameters:       `"#{sourceFilePath}" -resize 200x200 "#{targetFilePath}"`,
		InstallationHint: "",
		Disabled:         false,
	})

	result, err := service.Exec(context.Background(), "jpeg200x200", commandline.NewParameters().
		Set(commandline.ParamSourceFilePath, "in.png").
		Set(commandline.ParamTargetFilePath, "out.jpeg"))
	require.NoError(t, err)

	assert.True(t, result.Successful())
	assert.Equal(t, "convert in.png -resize 200x200 out.jpeg", result.CommandLine)
	assert.Equal(t, []string{"line one", "line two"}, result.Output)

	calls := fake.CallsTo("convert")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"in.png", "-resize", "200x200", "out.jpeg"}, calls[0].Args)
}

func TestExecFailureIsReportedInResult(t *testing.T) {
	t.Parallel()

	fake := commandlinetest.NewFakeExecutor().Handle("convert",
		func(_ string, _ []string) ([]byte, error) {
			return []byte("convert: no decode delegate"), &commandlinetest.ExitError{Code: 1}
		})
	service := newTestService(t, fake, commandline.Command{
		Name:             "imageAsPDF",
		Executable:       "convert",
		Parameters:       `"#{sourceFilePath}" "#{targetFilePath}"`,
		InstallationHint: "",
		Disabled:         false,
	})

	result, err := service.Exec(context.Background(), "imageAsPDF", commandline.NewParameters().
		Set(commandline.ParamSourceFilePath, "a").
		Set(commandline.ParamTargetFilePath, "b"))
	require.NoError(t, err)

	assert.False(t, result.Successful())
	assert.Equal(t, 1, result.ReturnCode)

	var execErr *commandline.ExecError
	require.ErrorAs(t, result.Err, &execErr)
	assert.Contains(t, execErr.Output, "no decode delegate")
}

func TestExecRejectsUnknownAndDisabled(t *testing.T) {
	t.Parallel()

	service := newTestService(t, commandlinetest.NewFakeExecutor(), commandline.Command{
		Name:             "off",
		Executable:       "convert",
		Parameters:       "",
		InstallationHint: "",
		Disabled:         true,
	})

	_, err := service.Exec(context.Background(), "nope", commandline.NewParameters())
	require.ErrorIs(t, err, commandline.ErrUnknownCommand)

	_, err = service.Exec(context.Background(), "off", commandline.NewParameters())
	require.ErrorIs(t, err, commandline.ErrCommandNotAvailable)
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	fake := commandlinetest.NewFakeExecutor().Uninstall("gm")
	service := newTestService(t, fake,
		commandline.Command{
			Name: "present", Executable: "convert", Parameters: "",
			InstallationHint: "", Disabled: false,
		},
		commandline.Command{
			Name: "absent", Executable: "gm", Parameters: "",
			InstallationHint: "install GraphicsMagick", Disabled: false,
		},
	)

	present := service.Availability("present")
	assert.True(t, present.Available)
	assert.Equal(t, "/usr/bin/convert", present.Path)

	absent := service.Availability("absent")
	assert.False(t, absent.Available)
	assert.Equal(t, "install GraphicsMagick", absent.Hint)
	assert.Contains(t, absent.Reason, "gm")

	assert.False(t, service.Availability("unregistered").Available)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, commandline.ExitCodeForTest(&commandlinetest.ExitError{Code: 3}))
	assert.Equal(t, -1, commandline.ExitCodeForTest(errors.New("boom")))
	assert.Equal(t, -1, commandline.ExitCodeForTest(&exec.Error{Name: "x", Err: exec.ErrNotFound}))
}

type countingChecker struct {
	answers []bool
	calls   int
}

func (checker *countingChecker) Availability(name string) commandline.Availability {
	answer := checker.answers[min(checker.calls, len(checker.answers)-1)]
	checker.calls++

	return commandline.Availability{Name: name, Path: "", Reason: "", Hint: "", Available: answer}
}

func TestAvailabilityCacheNeverRefreshesWithZeroTTL(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{answers: []bool{false, true}, calls: 0}
	cache := commandline.NewAvailabilityCache(checker, commandline.RefreshPolicy{TTL: 0})

	assert.False(t, cache.IsAvailable("jpeg200x200"))
	assert.False(t, cache.IsAvailable("jpeg200x200"))
	assert.Equal(t, 1, checker.calls)

	cache.Invalidate("jpeg200x200")
	assert.True(t, cache.IsAvailable("jpeg200x200"))
	assert.Equal(t, 2, checker.calls)
}

func TestAvailabilityCacheRefreshesAfterTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	checker := &countingChecker{answers: []bool{false, true}, calls: 0}
	cache := commandline.NewAvailabilityCache(checker, commandline.RefreshPolicy{TTL: time.Minute})
	cache.SetClockForTest(func() time.Time { return now })

	assert.False(t, cache.IsAvailable("imageAsPDF"))

	now = now.Add(30 * time.Second)
	assert.False(t, cache.IsAvailable("imageAsPDF"))

	now = now.Add(time.Minute)
	assert.True(t, cache.IsAvailable("imageAsPDF"))
	assert.Equal(t, 2, checker.calls)
}
