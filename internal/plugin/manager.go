package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"batchgate/internal/operation"
)

// DefaultExecutionTimeout is the default timeout for plugin execution
const DefaultExecutionTimeout = 30 * time.Second

// methodDirectiveRegex matches @method directive in comments
var methodDirectiveRegex = regexp.MustCompile(`(?m)^//\s*@method\s+(\S+)`)

// PluginManager manages JavaScript plugins
type PluginManager struct {
	plugins map[string]*Plugin // method -> plugin
	logger  zerolog.Logger
	timeout time.Duration
	mu      sync.RWMutex
}

// NewPluginManager creates a new PluginManager
func NewPluginManager(logger zerolog.Logger) *PluginManager {
	return &PluginManager{
		plugins: make(map[string]*Plugin),
		logger:  logger.With().Str("component", "plugin-manager").Logger(),
		timeout: DefaultExecutionTimeout,
	}
}

// SetTimeout sets the execution timeout for plugins
func (m *PluginManager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// LoadFromDirectory loads all .js plugins from a directory.
// A missing directory is not an error; a broken plugin is logged and skipped.
func (m *PluginManager) LoadFromDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		m.logger.Warn().Str("directory", dir).Msg("plugins directory does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat plugins directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugins path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugins directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err == nil {
			err = m.Load(strings.TrimSuffix(entry.Name(), ".js"), string(content))
		}
		if err != nil {
			m.logger.Error().
				Err(err).
				Str("file", entry.Name()).
				Msg("failed to load plugin")
			continue
		}
		loadedCount++
	}

	m.logger.Info().
		Int("loaded", loadedCount).
		Str("directory", dir).
		Msg("plugins loaded")

	return nil
}

// Load compiles and registers a single plugin script
func (m *PluginManager) Load(name, script string) error {
	method := extractMethodDirective(script)
	if method == "" {
		return fmt.Errorf("plugin missing @method directive")
	}

	program, err := goja.Compile(name+".js", script, false)
	if err != nil {
		return fmt.Errorf("failed to compile plugin: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[method]; exists {
		return fmt.Errorf("duplicate method: %s", method)
	}
	m.plugins[method] = &Plugin{
		Name:    name,
		Method:  method,
		Script:  script,
		program: program,
	}

	m.logger.Info().
		Str("name", name).
		Str("method", method).
		Msg("plugin loaded")

	return nil
}

// extractMethodDirective extracts the method name from @method directive
func extractMethodDirective(script string) string {
	matches := methodDirectiveRegex.FindStringSubmatch(script)
	if len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// HasPlugin checks if a plugin exists for the given method
func (m *PluginManager) HasPlugin(method string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.plugins[method]
	return exists
}

// Operation returns the plugin for method as a batch operation
func (m *PluginManager) Operation(method string) (operation.Func, error) {
	if !m.HasPlugin(method) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, method)
	}
	return func(ctx context.Context, args operation.Args) (operation.Vector, error) {
		return m.Execute(ctx, method, args)
	}, nil
}

// Execute runs the plugin for the given method over one batch
func (m *PluginManager) Execute(ctx context.Context, method string, args operation.Args) (operation.Vector, error) {
	m.mu.RLock()
	plugin, exists := m.plugins[method]
	m.mu.RUnlock()

	if !exists {
		return nil, NewError(ErrCodePluginNotFound, fmt.Sprintf("plugin not found: %s", method))
	}

	execCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	runtime := NewRuntime(m.logger.With().Str("plugin", plugin.Name).Logger())

	type result struct {
		value operation.Vector
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		value, err := m.executePlugin(runtime, plugin, args)
		resultCh <- result{value: value, err: err}
	}()

	select {
	case <-execCtx.Done():
		// Stop the script; the goroutine returns once the VM notices
		runtime.VM().Interrupt(execCtx.Err())
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			m.logger.Warn().
				Str("method", method).
				Dur("timeout", m.timeout).
				Msg("plugin execution timed out")
			return nil, NewError(ErrCodePluginTimeout, "plugin execution timed out")
		}
		return nil, execCtx.Err()
	case res := <-resultCh:
		return res.value, res.err
	}
}

// executePlugin runs the plugin script and its execute function
func (m *PluginManager) executePlugin(runtime *Runtime, plugin *Plugin, args operation.Args) (operation.Vector, error) {
	if _, err := runtime.VM().RunProgram(plugin.program); err != nil {
		m.logger.Error().
			Err(err).
			Str("plugin", plugin.Name).
			Msg("failed to load plugin script")
		return nil, NewError(ErrCodePluginExecution, fmt.Sprintf("script error: %v", err))
	}

	positional, named, err := toJS(args)
	if err != nil {
		return nil, NewError(ErrCodePluginInvalidArgs, fmt.Sprintf("invalid arguments: %v", err))
	}

	value, err := m.callExecute(runtime, positional, named)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("plugin", plugin.Name).
			Msg("plugin execution failed")
		return nil, NewError(ErrCodePluginExecution, err.Error())
	}

	rows, ok := value.([]interface{})
	if !ok {
		return nil, NewError(ErrCodePluginExecution, fmt.Sprintf("execute must return an array, got %T", value))
	}
	return rows, nil
}

// callExecute calls execute(args, kwargs) in the plugin
func (m *PluginManager) callExecute(runtime *Runtime, positional []interface{}, named map[string]interface{}) (interface{}, error) {
	vm := runtime.VM()

	executeVal := vm.Get("execute")
	if executeVal == nil || goja.IsUndefined(executeVal) {
		return nil, fmt.Errorf("execute function not defined")
	}

	execute, ok := goja.AssertFunction(executeVal)
	if !ok {
		return nil, fmt.Errorf("execute is not a function")
	}

	result, err := execute(goja.Undefined(), vm.ToValue(positional), vm.ToValue(named))
	if err != nil {
		var jsErr *goja.Exception
		if errors.As(err, &jsErr) {
			return nil, fmt.Errorf("%s", jsErr.String())
		}
		return nil, err
	}

	return result.Export(), nil
}

// toJS converts argument vectors to plain JSON values so that scripts see
// real arrays whatever the Go element type
func toJS(args operation.Args) ([]interface{}, map[string]interface{}, error) {
	positional := make([]interface{}, len(args.Positional))
	for i, v := range args.Positional {
		plain, err := plainJSON(v)
		if err != nil {
			return nil, nil, fmt.Errorf("argument %d: %w", i, err)
		}
		positional[i] = plain
	}

	named := make(map[string]interface{}, len(args.Named))
	for key, v := range args.Named {
		plain, err := plainJSON(v)
		if err != nil {
			return nil, nil, fmt.Errorf("argument %s: %w", key, err)
		}
		named[key] = plain
	}
	return positional, named, nil
}

func plainJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMethods returns all registered plugin methods, sorted
func (m *PluginManager) GetMethods() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	methods := make([]string, 0, len(m.plugins))
	for method := range m.plugins {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Close releases all resources
func (m *PluginManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = make(map[string]*Plugin)
	m.logger.Info().Msg("plugin manager closed")
}
