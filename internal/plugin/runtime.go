package plugin

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
)

// Runtime wraps goja VM with plugin-specific bindings
type Runtime struct {
	vm     *goja.Runtime
	logger zerolog.Logger
}

// NewRuntime creates a new Runtime with all necessary bindings
func NewRuntime(logger zerolog.Logger) *Runtime {
	r := &Runtime{
		vm:     goja.New(),
		logger: logger,
	}
	r.setupConsole()
	r.setupUtils()
	return r
}

// VM returns the underlying goja runtime
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// setupConsole routes console.* to the logger
func (r *Runtime) setupConsole() {
	console := r.vm.NewObject()

	levels := map[string]func() *zerolog.Event{
		"log":   r.logger.Info,
		"debug": r.logger.Debug,
		"warn":  r.logger.Warn,
		"error": r.logger.Error,
	}
	for name, level := range levels {
		level := level
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			level().Msgf("[plugin] %v", args)
			return goja.Undefined()
		})
	}

	r.vm.Set("console", console)
}

// setupUtils creates helper functions available to scripts as utils.*
func (r *Runtime) setupUtils() {
	utils := r.vm.NewObject()

	utils.Set("keccak256", func(call goja.FunctionCall) goja.Value {
		data := r.bytesArg(call, "keccak256")
		hash := sha3.NewLegacyKeccak256()
		hash.Write(data)
		return r.vm.ToValue("0x" + hex.EncodeToString(hash.Sum(nil)))
	})

	utils.Set("hexToBytes", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("hexToBytes requires 1 argument"))
		}
		data, err := hex.DecodeString(strings.TrimPrefix(call.Arguments[0].String(), "0x"))
		if err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("invalid hex string: %v", err)))
		}
		out := make([]interface{}, len(data))
		for i, b := range data {
			out[i] = int64(b)
		}
		return r.vm.ToValue(out)
	})

	utils.Set("bytesToHex", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue("0x" + hex.EncodeToString(r.bytesArg(call, "bytesToHex")))
	})

	utils.Set("parseJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("parseJSON requires string"))
		}
		var result interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &result); err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return r.vm.ToValue(result)
	})

	utils.Set("stringifyJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("stringifyJSON requires value"))
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("JSON stringify error: %v", err)))
		}
		return r.vm.ToValue(string(data))
	})

	r.vm.Set("utils", utils)
}

// bytesArg reads the first argument as bytes: a 0x-prefixed hex string,
// a plain string or an array of numbers
func (r *Runtime) bytesArg(call goja.FunctionCall, fn string) []byte {
	if len(call.Arguments) < 1 {
		panic(r.vm.ToValue(fn + " requires 1 argument"))
	}

	switch v := call.Arguments[0].Export().(type) {
	case string:
		if !strings.HasPrefix(v, "0x") {
			return []byte(v)
		}
		data, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
		if err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("invalid hex string: %v", err)))
		}
		return data
	case []byte:
		return v
	case []interface{}:
		data := make([]byte, len(v))
		for i, b := range v {
			switch num := b.(type) {
			case int64:
				data[i] = byte(num)
			case float64:
				data[i] = byte(num)
			}
		}
		return data
	default:
		panic(r.vm.ToValue(fn + " requires string or byte array"))
	}
}
