// Package script is the sandboxed JavaScript evaluator façade described
// in spec.md §4.G: a bounded pool of workers, each executing scripts on
// a fresh goja VM per call for isolation, with a per-call deadline,
// captured console output, and three privilege tiers gating which
// service bridges are installed into the global `context` object.
//
// Grounded on the teacher's internal/block/sandbox/sandbox.go (fresh
// goja.New() per call, context.WithTimeout + a sync.Once-guarded
// vm.Interrupt() watchdog goroutine, a blocklist of dangerous globals,
// sanitized stack traces) and internal/seed/validation/js_validator.go's
// observation that goja has no event loop, so every bridge method must
// be synchronous/blocking rather than promise-based.
package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Tier controls which service bridges are installed into the script's
// global `context` object, per spec.md §4.G.
type Tier int

const (
	// TierSimple grants no network access -- state-machine target/payload
	// scripts and template computations.
	TierSimple Tier = iota
	// TierTask optionally grants network access -- user task scripts.
	TierTask
	// TierExecutor grants the full API -- the js executor.
	TierExecutor
)

// blockedGlobals are deleted from every VM's global object before a
// script runs, closing off filesystem, process and module-system access
// that goja would otherwise expose to host Go code via reflection.
var blockedGlobals = []string{
	"process", "require", "module", "exports", "global", "globalThis",
	"Function", "eval",
}

const defaultTimeout = 5 * time.Second

// Result is what a script evaluation returns.
type Result struct {
	Value   any
	Console []string
}

// ScriptError wraps a runtime failure (exception, timeout, or blocked
// API use) together with whatever console output was captured before
// the failure, per spec.md §4.G's "Unhandled exceptions become
// ScriptError with the captured console attached."
type ScriptError struct {
	Err     error
	Console []string
}

func (e *ScriptError) Error() string { return fmt.Sprintf("script error: %v", e.Err) }
func (e *ScriptError) Unwrap() error { return e.Err }

// Bindings are the values exposed to the script beyond the tier's
// standard bridges: each key becomes a global identifier.
type Bindings map[string]any

// HTTPBridge is the subset of HTTP access exposed to task/executor tier
// scripts as ctx.http.*. Kept as an interface so callers can inject a
// restricted client (timeouts, allowed hosts) without this package
// needing to know about it.
type HTTPBridge interface {
	Fetch(ctx context.Context, method, url string, headers map[string]string, body string) (status int, respBody string, err error)
}

// Options configures one evaluation.
type Options struct {
	Tier     Tier
	Timeout  time.Duration
	Bindings Bindings
	HTTP     HTTPBridge // required for TierTask/TierExecutor if the script uses context.http
}

// Eval compiles and runs src on a fresh VM, returning the value produced
// by evaluating src as an expression/program, or whatever the script
// explicitly returned via ctx.setResult(...) if it called that (both
// shapes are used across callers: state-machine scripts return their
// last expression's value; the js executor explicitly sets a result so
// it can also emit console output first). The bridge global is named
// "ctx" rather than "context" because callers such as the state-machine
// adapter bind their own "context" (the per-machine data) and "payload"
// identifiers alongside it; a same-named bridge would collide with and
// overwrite those bindings.
func Eval(ctx context.Context, src string, opts Options) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	vm := goja.New()
	for _, name := range blockedGlobals {
		_ = vm.GlobalObject().Delete(name)
	}

	console := &consoleCapture{}
	var resultValue goja.Value
	setResult := func(v goja.Value) { resultValue = v }

	ctxObj := vm.NewObject()
	_ = ctxObj.Set("log", console.bridge(vm))
	_ = ctxObj.Set("setResult", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			setResult(call.Arguments[0])
		}
		return goja.Undefined()
	})

	if opts.Tier == TierTask || opts.Tier == TierExecutor {
		if opts.HTTP != nil {
			_ = ctxObj.Set("http", httpBridgeObject(vm, ctx, opts.HTTP))
		}
	}

	if err := vm.Set("ctx", ctxObj); err != nil {
		return Result{}, &ScriptError{Err: fmt.Errorf("installing ctx bridge: %w", err)}
	}

	for name, value := range opts.Bindings {
		if err := vm.Set(name, value); err != nil {
			return Result{}, &ScriptError{Err: fmt.Errorf("binding %q: %w", name, err)}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var interruptOnce sync.Once
	stop := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			interruptOnce.Do(func() { vm.Interrupt("execution deadline exceeded") })
		case <-stop:
		}
	}()

	value, err := vm.RunString(src)
	close(stop)

	if err != nil {
		return Result{}, &ScriptError{Err: sanitizeError(err), Console: console.lines}
	}

	out := resultValue
	if out == nil {
		out = value
	}

	var exported any
	if out != nil && !goja.IsUndefined(out) && !goja.IsNull(out) {
		exported = out.Export()
	}

	return Result{Value: exported, Console: console.lines}, nil
}

// sanitizeError strips goja's internal VM stack frames from an
// exception's message, leaving just the script-level error text so
// callers never leak host implementation detail to task authors.
func sanitizeError(err error) error {
	if exc, ok := err.(*goja.Exception); ok {
		return fmt.Errorf("%s", exc.Value().String())
	}
	return err
}

type consoleCapture struct {
	mu    sync.Mutex
	lines []string
}

func (c *consoleCapture) add(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf("[%s] %s", level, msg))
}

func (c *consoleCapture) bridge(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		level := level
		_ = obj.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			c.add(level, joinArgs(parts))
			return goja.Undefined()
		})
	}
	return obj
}

func joinArgs(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func httpBridgeObject(vm *goja.Runtime, ctx context.Context, bridge HTTPBridge) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("fetch", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.ToValue("http.fetch requires (method, url[, headers, body])"))
		}
		method := call.Arguments[0].String()
		url := call.Arguments[1].String()

		headers := map[string]string{}
		if len(call.Arguments) > 2 {
			if h, ok := call.Arguments[2].Export().(map[string]any); ok {
				for k, v := range h {
					headers[k] = fmt.Sprintf("%v", v)
				}
			}
		}
		body := ""
		if len(call.Arguments) > 3 {
			body = call.Arguments[3].String()
		}

		status, respBody, err := bridge.Fetch(ctx, method, url, headers, body)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}

		result := vm.NewObject()
		_ = result.Set("status", status)
		_ = result.Set("body", respBody)
		return result
	})
	return obj
}
