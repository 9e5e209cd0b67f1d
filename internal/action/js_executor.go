package action

import (
	"context"
	"fmt"
	"time"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/script"
)

// JSExecutor is the "js" executor: it runs the action author's script at
// TierExecutor (network access, if an HTTPBridge is configured) and
// returns {result, console}, mirroring
// original_source/tasks/actions/js_executor.rs's result shape. Unlike
// the original's Ergo.setResult global, this package uses script.Eval's
// own ctx.setResult convention, since both evaluators already share that
// idiom (see internal/script/statemachine_adapter.go).
type JSExecutor struct {
	Pool    *script.Pool
	HTTP    script.HTTPBridge // optional; nil disables ctx.http for these scripts
	Timeout int               // seconds, 0 uses script's default
}

var jsTemplateFields = domain.TemplateFields{
	"name":   {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Optional: true, Description: "The name of the action"},
	"script": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Description: "The script to execute"},
	"args":   {Format: domain.TemplateFieldFormat{Type: domain.FormatObject, Nested: true}, Optional: true, Description: "Arguments to the script. Exposed as 'args' in the script"},
}

func (e *JSExecutor) Name() string                         { return "js" }
func (e *JSExecutor) TemplateFields() domain.TemplateFields { return jsTemplateFields }

func (e *JSExecutor) Execute(ctx context.Context, values map[string]any) (map[string]any, error) {
	src, _ := values["script"].(string)
	if src == "" {
		return nil, domain.MissingFieldError{Field: "script"}
	}
	args, _ := values["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	opts := script.Options{
		Tier:     script.TierExecutor,
		HTTP:     e.HTTP,
		Bindings: script.Bindings{"args": args},
	}
	if e.Timeout > 0 {
		opts.Timeout = time.Duration(e.Timeout) * time.Second
	}

	result, err := e.Pool.Submit(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("executing script: %w", err)
	}

	return map[string]any{"result": result.Value, "console": result.Console}, nil
}
