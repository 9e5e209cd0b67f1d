package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/dimfeld/ergo/internal/domain"
)

// RawCommandExecutor is the "raw_command" executor, grounded on
// original_source/tasks/actions/raw_command_executor.rs: it clears the
// inherited environment before running (the host process's env may
// carry secrets this action must not see) and treats a non-zero exit as
// an error unless allow_failure is set.
type RawCommandExecutor struct{}

var rawCommandTemplateFields = domain.TemplateFields{
	"command":       {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Description: "The executable to run"},
	"args":          {Format: domain.TemplateFieldFormat{Type: domain.FormatStringArray}, Optional: true, Description: "An array of arguments to the executable"},
	"env":           {Format: domain.TemplateFieldFormat{Type: domain.FormatObject}, Optional: true, Description: "Environment variables to set"},
	"allow_failure": {Format: domain.TemplateFieldFormat{Type: domain.FormatBoolean}, Optional: true, Description: "If true, ignore the process exit code. By default, a nonzero exit code counts as failure"},
}

func (e *RawCommandExecutor) Name() string                         { return "raw_command" }
func (e *RawCommandExecutor) TemplateFields() domain.TemplateFields { return rawCommandTemplateFields }

func (e *RawCommandExecutor) Execute(ctx context.Context, values map[string]any) (map[string]any, error) {
	command, _ := values["command"].(string)
	if command == "" {
		return nil, domain.MissingFieldError{Field: "command"}
	}

	var args []string
	if raw, ok := values["args"].([]any); ok {
		for _, a := range raw {
			s, ok := a.(string)
			if !ok {
				return nil, domain.FieldFormatError{Field: "args", Expected: "string array"}
			}
			args = append(args, s)
		}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = []string{} // don't leak our environment, which may contain secrets, to other commands

	if env, ok := values["env"].(map[string]any); ok {
		for k, v := range env {
			s, ok := v.(string)
			if !ok {
				return nil, domain.FieldFormatError{Field: "env", Subfield: k, Expected: "string"}
			}
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, s))
		}
	}

	allowFailure, _ := values["allow_failure"].(bool)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	result := map[string]any{
		"exitcode": float64(exitCode),
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return result, fmt.Errorf("running command: %w", runErr)
		}
		if !allowFailure {
			return result, fmt.Errorf("command exited with code %d", exitCode)
		}
	}

	return result, nil
}
