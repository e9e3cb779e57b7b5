package plugin

import (
	"context"
	"errors"

	"github.com/dop251/goja"

	"batchgate/internal/operation"
)

// Plugin represents a loaded JavaScript plugin
type Plugin struct {
	Name    string        // plugin name (filename without extension)
	Method  string        // method this plugin implements
	Script  string        // JavaScript source code
	program *goja.Program // compiled once, run in a fresh VM per execution
}

// Manager defines the plugin manager interface
type Manager interface {
	// HasPlugin checks if a plugin exists for the given method
	HasPlugin(method string) bool
	// Execute runs the plugin for the given method over one batch
	Execute(ctx context.Context, method string, args operation.Args) (operation.Vector, error)
	// Operation returns the plugin as a batch operation
	Operation(method string) (operation.Func, error)
	// GetMethods returns all registered plugin methods
	GetMethods() []string
	// Close releases all resources
	Close()
}

// Plugin error codes
const (
	ErrCodePluginNotFound    = -32001
	ErrCodePluginExecution   = -32002
	ErrCodePluginTimeout     = -32003
	ErrCodePluginInvalidArgs = -32004
)

// ErrNotFound is returned for methods without a plugin
var ErrNotFound = errors.New("plugin not found")

// Error represents an error that occurred during plugin execution
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new plugin error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}
