package routing

import (
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

// errNoRouteFunction is returned when a script neither evaluates to a
// function nor defines a function named route
var errNoRouteFunction = errors.New("script must export a function (either anonymous function or named 'route' function)")

// ScriptResolver resolves routing targets with a JavaScript function of the
// form function(table) { return "collection"; }. Every call runs on a fresh
// runtime so no state survives between calls. A failing call or a
// non-string result falls back to the default mapping.
type ScriptResolver struct {
	program  *goja.Program
	prefix   string
	fallback Resolver
	logger   *logrus.Logger
}

// NewScriptResolverFromFile loads and validates a routing script
func NewScriptResolverFromFile(path, prefix string, logger *logrus.Logger) (*ScriptResolver, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing script file: %w", err)
	}
	return NewScriptResolver(path, string(content), prefix, logger)
}

// NewScriptResolver compiles and validates a routing script
func NewScriptResolver(name, source, prefix string, logger *logrus.Logger) (*ScriptResolver, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	r := &ScriptResolver{
		program:  program,
		prefix:   prefix,
		fallback: DefaultResolver{},
		logger:   logger,
	}

	if _, _, err := r.load(); err != nil {
		return nil, fmt.Errorf("invalid routing script: %w", err)
	}
	return r, nil
}

// load runs the program on a new runtime and returns its route function
func (r *ScriptResolver) load() (*goja.Runtime, goja.Callable, error) {
	vm := goja.New()
	if err := setupConsoleBindings(vm, r.logger); err != nil {
		return nil, nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}

	result, err := vm.RunProgram(r.program)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute script: %w", err)
	}

	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return vm, fn, nil
		}
	}

	routeVar := vm.Get("route")
	if routeVar != nil && !goja.IsUndefined(routeVar) && !goja.IsNull(routeVar) {
		if fn, ok := goja.AssertFunction(routeVar); ok {
			return vm, fn, nil
		}
	}
	return nil, nil, errNoRouteFunction
}

// Resolve implements Resolver
func (r *ScriptResolver) Resolve(table string) string {
	target, err := r.call(table)
	if err != nil {
		r.logger.Warnf("Routing script failed for table %s, using default route: %v", table, err)
		return r.prefix + r.fallback.Resolve(table)
	}
	return r.prefix + target
}

func (r *ScriptResolver) call(table string) (string, error) {
	vm, fn, err := r.load()
	if err != nil {
		return "", err
	}

	result, err := fn(goja.Undefined(), vm.ToValue(table))
	if err != nil {
		return "", fmt.Errorf("route function error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return "", fmt.Errorf("route function returned no target")
	}

	target, ok := result.Export().(string)
	if !ok || target == "" {
		return "", fmt.Errorf("route function returned %v, not a collection name", result.Export())
	}
	return target, nil
}

// setupConsoleBindings exposes console.log and friends to scripts, writing
// through the service logger
func setupConsoleBindings(vm *goja.Runtime, logger *logrus.Logger) error {
	consoleObj := vm.NewObject()

	formatArgs := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}

	bindings := map[string]func(args ...interface{}){
		"log":   logger.Info,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
		"debug": logger.Debug,
	}
	for name, logFn := range bindings {
		logFn := logFn
		fn := func(call goja.FunctionCall) goja.Value {
			logFn(formatArgs(call))
			return goja.Undefined()
		}
		if err := consoleObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}

	if err := vm.Set("console", consoleObj); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}
