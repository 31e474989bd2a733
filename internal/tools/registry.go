// Package tools holds the fixed set of functions the language model may call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/llm"
	"github.com/lepakdriver/lepakdriver/internal/metrics"
)

// Dispatch errors.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrToolPanic        = errors.New("tool panicked")
)

// Asset is a file produced by a tool that the transport should deliver.
type Asset struct {
	Path    string
	Caption string
}

// Result is what a tool returns: text for the model and an optional asset.
type Result struct {
	Text  string
	Asset *Asset
}

// Text builds a text-only Result.
func Text(s string) Result {
	return Result{Text: s}
}

// Invocation is a tool call resolved against the registry with decoded,
// validated arguments.
type Invocation struct {
	ID   string
	Name string

	// Args is the typed argument struct for the tool.
	Args any

	tool *tool
}

// Outcome is the result of dispatching one tool call. Text is always set;
// Err is set when the call failed and Text carries the error description.
type Outcome struct {
	Result
	Err error
}

type tool struct {
	spec   llm.ToolSpec
	decode func(raw string) (any, error)
	call   func(ctx context.Context, args any) (Result, error)
}

// RegistryConfig holds configuration for the registry.
type RegistryConfig struct {
	// Logger for dispatch operations.
	Logger zerolog.Logger

	// Metrics records tool outcomes (optional).
	Metrics *metrics.Collector
}

// Registry maps tool names to implementations. Tools are registered at
// startup; the registry is read-only afterwards and safe for concurrent use.
type Registry struct {
	tools    map[string]*tool
	order    []string
	validate *validator.Validate
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		tools:    make(map[string]*tool),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Register adds a tool whose JSON arguments decode into A. Struct arguments
// are validated with `validate` tags before fn is called. Registering a name
// twice panics.
func Register[A any](r *Registry, name, description string, parameters json.RawMessage, fn func(ctx context.Context, args A) (Result, error)) {
	if _, exists := r.tools[name]; exists {
		panic("tools: duplicate registration of " + name)
	}

	r.tools[name] = &tool{
		spec: llm.ToolSpec{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
		decode: func(raw string) (any, error) {
			var args A
			if strings.TrimSpace(raw) == "" {
				raw = "{}"
			}
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
			if err := r.validateArgs(args); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
			return args, nil
		},
		call: func(ctx context.Context, args any) (Result, error) {
			return fn(ctx, args.(A))
		},
	}
	r.order = append(r.order, name)
}

func (r *Registry) validateArgs(args any) error {
	err := r.validate.Struct(args)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// not a struct, nothing to validate
		return nil
	}
	return err
}

// Specs returns the tool schema advertised to the model, in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].spec)
	}
	return specs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Resolve looks up call.Name and decodes its arguments.
func (r *Registry) Resolve(call llm.ToolCall) (*Invocation, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	args, err := t.decode(call.Arguments)
	if err != nil {
		return nil, err
	}

	return &Invocation{ID: call.ID, Name: call.Name, Args: args, tool: t}, nil
}

// Invoke runs a resolved invocation. A panic inside the tool is returned as
// an error wrapping ErrToolPanic.
func (r *Registry) Invoke(ctx context.Context, inv *Invocation) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("tool", inv.Name).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("tool panicked")
			res = Result{}
			err = fmt.Errorf("%w: %v", ErrToolPanic, rec)
		}
	}()

	return inv.tool.call(ctx, inv.Args)
}

// Dispatch resolves and invokes call. It never fails: unknown names and tool
// faults are reported as text in the Outcome.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) Outcome {
	start := time.Now()

	inv, err := r.Resolve(call)
	if errors.Is(err, ErrUnknownTool) {
		r.logger.Warn().Str("tool", call.Name).Msg("model requested unknown tool")
		r.metrics.RecordToolCall(call.Name, "unknown")
		return Outcome{Result: Text("Unknown function: " + call.Name), Err: err}
	}

	if err == nil {
		var res Result
		res, err = r.Invoke(ctx, inv)
		if err == nil {
			r.logger.Info().
				Str("tool", call.Name).
				Str("args", call.Arguments).
				Dur("duration", time.Since(start)).
				Msg("tool executed")
			r.metrics.RecordToolCall(call.Name, "ok")
			return Outcome{Result: res}
		}
	}

	r.logger.Error().Err(err).
		Str("tool", call.Name).
		Str("args", call.Arguments).
		Dur("duration", time.Since(start)).
		Msg("tool execution failed")
	r.metrics.RecordToolCall(call.Name, "error")
	return Outcome{
		Result: Text(fmt.Sprintf("Error executing %s: %v", call.Name, err)),
		Err:    err,
	}
}
