package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/taskchat/internal/metrics"
	"github.com/harun/taskchat/pkg/toolconn"
)

// DefaultMaxToolRounds bounds the tool loop when unset
const DefaultMaxToolRounds = 8

// Event types emitted during a run
const (
	EventTextDelta  = "text_delta"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
)

// Event is one observable step of a run
type Event struct {
	Type       string
	Text       string
	ToolCall   *ToolCall
	ToolOutput string
	ToolError  bool
}

// RunParams contains input for one agent run
type RunParams struct {
	UserID        string
	Model         ModelConfig
	SystemPrompt  string
	Messages      []Message
	Conn          toolconn.Conn // nil disables tool use
	MaxToolRounds int
}

// RunResult contains the final output of a run
type RunResult struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Runner drives a model conversation to completion, executing tool calls
// against the user's tool backend between model turns.
type Runner struct {
	factory ProviderCreator
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// RunnerConfig holds runner dependencies
type RunnerConfig struct {
	ProviderFactory ProviderCreator
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// NewRunner creates a new agent runner
func NewRunner(cfg RunnerConfig) *Runner {
	factory := cfg.ProviderFactory
	if factory == nil {
		factory = &ProviderFactory{}
	}
	return &Runner{
		factory: factory,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Run executes the conversation until the model stops requesting tools,
// emitting events as the run progresses.
func (r *Runner) Run(ctx context.Context, params RunParams, emit func(Event)) (RunResult, error) {
	if err := r.validateParams(params); err != nil {
		return RunResult{}, err
	}
	if emit == nil {
		emit = func(Event) {}
	}

	provider, err := r.factory.NewProvider(params.Model)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create provider: %w", err)
	}

	var tools []toolconn.Tool
	if params.Conn != nil {
		tools, err = params.Conn.ListTools(ctx)
		if err != nil {
			return RunResult{}, fmt.Errorf("failed to list tools: %w", err)
		}
	}

	logger := r.logger.With().
		Str("user_id", params.UserID).
		Str("provider", provider.Name()).
		Str("model", params.Model.Model).
		Logger()

	maxRounds := params.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	currentMessages := params.Messages
	allToolCalls := []ToolCall{}
	onDelta := func(text string) {
		emit(Event{Type: EventTextDelta, Text: text})
	}

	for round := 0; round < maxRounds; round++ {
		select {
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		default:
		}

		request := Request{
			Model:        params.Model.Model,
			Messages:     currentMessages,
			Tools:        tools,
			Temperature:  params.Model.Temperature,
			MaxTokens:    params.Model.MaxTokens,
			SystemPrompt: params.SystemPrompt,
		}

		response, err := provider.Stream(ctx, request, onDelta)
		if err != nil {
			return RunResult{}, err
		}

		// No tool calls, the run is complete
		if len(response.ToolCalls) == 0 {
			return RunResult{
				Content:   response.Content,
				ToolCalls: allToolCalls,
				Usage:     response.Usage,
			}, nil
		}

		currentMessages = append(currentMessages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, toolCall := range response.ToolCalls {
			emit(Event{Type: EventToolCall, ToolCall: &toolCall})

			output, isError := r.executeTool(ctx, params.Conn, tools, toolCall, logger)
			emit(Event{
				Type:       EventToolResult,
				ToolCall:   &toolCall,
				ToolOutput: output,
				ToolError:  isError,
			})

			currentMessages = append(currentMessages, Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: toolCall.ID,
			})
		}

		allToolCalls = append(allToolCalls, response.ToolCalls...)
	}

	return RunResult{}, fmt.Errorf("maximum tool rounds (%d) exceeded", maxRounds)
}

// executeTool validates the call against the tool's schema and invokes it.
// Failures are reported back to the model as tool output rather than
// aborting the run.
func (r *Runner) executeTool(ctx context.Context, conn toolconn.Conn, tools []toolconn.Tool, call ToolCall, logger zerolog.Logger) (string, bool) {
	start := time.Now()

	if r.metrics != nil {
		r.metrics.ToolCallsTotal.WithLabelValues(call.Name).Inc()
	}

	fail := func(msg string) (string, bool) {
		if r.metrics != nil {
			r.metrics.ToolCallErrorsTotal.WithLabelValues(call.Name).Inc()
		}
		logger.Warn().
			Str("tool", call.Name).
			Dur("duration", time.Since(start)).
			Msg(msg)
		return msg, true
	}

	if conn == nil {
		return fail(fmt.Sprintf("tool %s is not available", call.Name))
	}

	var def *toolconn.Tool
	for i := range tools {
		if tools[i].Name == call.Name {
			def = &tools[i]
			break
		}
	}
	if def == nil {
		return fail(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	if err := validateArguments(def, call.Arguments); err != nil {
		return fail(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}

	output, isError, err := conn.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return fail(fmt.Sprintf("tool %s failed: %v", call.Name, err))
	}

	if isError && r.metrics != nil {
		r.metrics.ToolCallErrorsTotal.WithLabelValues(call.Name).Inc()
	}

	logger.Debug().
		Str("tool", call.Name).
		Bool("is_error", isError).
		Dur("duration", time.Since(start)).
		Msg("Tool call completed")

	return output, isError
}

// validateArguments checks tool call arguments against the tool's JSON schema
func validateArguments(def *toolconn.Tool, args map[string]any) error {
	if len(def.InputSchema) == 0 {
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}

	schemaLoader := gojsonschema.NewBytesLoader(def.InputSchema)
	docLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var sb strings.Builder
		for i, desc := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(desc.String())
		}
		return fmt.Errorf("%s", sb.String())
	}

	return nil
}

// validateParams validates run parameters
func (r *Runner) validateParams(params RunParams) error {
	if params.Model.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if params.Model.Temperature < 0 || params.Model.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if params.Model.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if len(params.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	return nil
}
