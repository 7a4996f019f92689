// Package tools defines the actions the agent can take and dispatches
// model tool calls to them. Every call produces a text [Result]; no
// failure escapes as an error or panic.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nugget/amazo/internal/llm"
)

// Tool describes one callable tool.
type Tool struct {
	Kind        Kind
	Description string
	Parameters  map[string]any

	schema *jsonschema.Schema
}

// Name returns the tool's wire name.
func (t *Tool) Name() string { return t.Kind.Name() }

// Config configures a [Registry].
type Config struct {
	CommandTimeout time.Duration
	WorkingDir     string
	Logger         *slog.Logger
}

// Registry holds the available tools in declaration order.
type Registry struct {
	tools  []*Tool
	byName map[string]*Tool
	shell  *ShellExec
	files  *FileTools
	logger *slog.Logger
}

// NewRegistry creates a registry with every [Kind] registered.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byName: make(map[string]*Tool),
		shell:  NewShellExec(cfg.CommandTimeout, cfg.WorkingDir),
		files:  NewFileTools(cfg.WorkingDir),
		logger: logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.register(&Tool{
		Kind:        KindRunCommand,
		Description: "Run a bash command. You have full root access.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cmd": map[string]any{
					"type":        "string",
					"description": "The bash command to run",
				},
			},
			"required": []string{"cmd"},
		},
	})

	r.register(&Tool{
		Kind:        KindReadFile,
		Description: "Read the contents of a file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file",
				},
			},
			"required": []string{"path"},
		},
	})

	r.register(&Tool{
		Kind:        KindWriteFile,
		Description: "Write content to a file. Creates directories if needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Content to write",
				},
			},
			"required": []string{"path", "content"},
		},
	})

	r.register(&Tool{
		Kind:        KindFinishCycle,
		Description: "Call this when you have finished your work for this loop cycle. Include a brief summary of what you did.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "Brief summary of what you accomplished this cycle",
				},
			},
		},
	})
}

// register compiles the tool's parameter schema and adds it. The
// schemas are static, so a compile failure is a programming error.
func (r *Registry) register(t *Tool) {
	schema, err := compileSchema(t.Name(), t.Parameters)
	if err != nil {
		panic(fmt.Sprintf("tools: %s: %v", t.Name(), err))
	}
	t.schema = schema
	r.tools = append(r.tools, t)
	r.byName[t.Name()] = t
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	// Round-trip through jsonschema.UnmarshalJSON so numbers are json.Number.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// Definitions returns the tool declarations sent with every model call,
// in fixed order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Dispatch runs the named tool with the model's raw argument payload.
// Arguments are parsed before the name is resolved, so a malformed
// payload is reported as such even for an unknown tool.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			res = failure(fmt.Sprintf("(error: %v)", p))
		}
	}()

	payload := strings.TrimSpace(rawArgs)
	if payload == "" {
		payload = "{}"
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if _, isObject := parsed.(map[string]any); err != nil || !isObject {
		return failure(fmt.Sprintf("(invalid arguments: %s)", rawArgs))
	}

	t := r.byName[name]
	if t == nil {
		r.logger.Warn("unknown tool", append(r.cycleAttrs(ctx), "tool", name)...)
		return failure(fmt.Sprintf("(unknown tool: %s)", name))
	}

	if err := t.schema.Validate(parsed); err != nil {
		return failure(fmt.Sprintf("(invalid arguments for %s: %s)", name, validationReason(err)))
	}

	return r.execute(ctx, t.Kind, []byte(payload))
}

// execute decodes the typed arguments and runs the tool.
func (r *Registry) execute(ctx context.Context, kind Kind, payload []byte) Result {
	attrs := r.cycleAttrs(ctx)

	switch kind {
	case KindRunCommand:
		var args RunCommandArgs
		if err := json.Unmarshal(payload, &args); err != nil {
			return failure(fmt.Sprintf("(invalid arguments: %s)", payload))
		}
		r.logger.Info("[bash] "+args.Cmd, attrs...)
		return r.shell.Run(ctx, args.Cmd)

	case KindReadFile:
		var args ReadFileArgs
		if err := json.Unmarshal(payload, &args); err != nil {
			return failure(fmt.Sprintf("(invalid arguments: %s)", payload))
		}
		r.logger.Info("[read_file] "+args.Path, attrs...)
		return r.files.Read(args.Path)

	case KindWriteFile:
		var args WriteFileArgs
		if err := json.Unmarshal(payload, &args); err != nil {
			return failure(fmt.Sprintf("(invalid arguments: %s)", payload))
		}
		r.logger.Info(fmt.Sprintf("[write_file] %s (%d chars)", args.Path, len([]rune(args.Content))), attrs...)
		return r.files.Write(args.Path, args.Content)

	case KindFinishCycle:
		var args FinishCycleArgs
		if err := json.Unmarshal(payload, &args); err != nil {
			return failure(fmt.Sprintf("(invalid arguments: %s)", payload))
		}
		r.logger.Info("[done_for_now] "+args.Summary, attrs...)
		return Result{Text: FinishSentinel, Finish: true, Summary: args.Summary}

	default:
		return failure(fmt.Sprintf("(unknown tool: %s)", kind))
	}
}

func (r *Registry) cycleAttrs(ctx context.Context) []any {
	id, loop := CycleFromContext(ctx)
	if id == "" {
		return nil
	}
	return []any{"cycle_id", id, "loop", loop}
}

// validationReason flattens a jsonschema error into one line, dropping
// the header that names the internal schema URL.
func validationReason(err error) string {
	lines := strings.Split(err.Error(), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "-"))
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "; ")
}
