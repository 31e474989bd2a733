// Package assistant runs the two-pass tool-calling conversation loop.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lepakdriver/lepakdriver/internal/conversation"
	"github.com/lepakdriver/lepakdriver/internal/events"
	"github.com/lepakdriver/lepakdriver/internal/llm"
	"github.com/lepakdriver/lepakdriver/internal/metrics"
	"github.com/lepakdriver/lepakdriver/internal/telemetry"
	"github.com/lepakdriver/lepakdriver/internal/tools"
)

const tracerName = "github.com/lepakdriver/lepakdriver/internal/assistant"

// User-facing replies that do not come from the model.
const (
	FallbackReply = "Alamak! Something went wrong lah! Can try again? 😰"
	EmptyReply    = "Your message is empty lah! Ask me about bus arrivals or parking! 🚌🅿️"
)

// Defaults for model calls.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

var (
	// ErrEmptyReply is returned when the model answered with no text.
	ErrEmptyReply = errors.New("model returned an empty reply")

	errPanic = errors.New("panic while handling message")
)

// Config holds configuration for the assistant.
type Config struct {
	// Model answers chat completions (required).
	Model llm.Model

	// Tools is the fixed tool registry (required).
	Tools *tools.Registry

	// Conversations loads and persists history (required).
	Conversations *conversation.Service

	// Events receives a TurnCompleted per persisted turn (optional).
	Events events.Publisher

	// Metrics records turn and model outcomes (optional).
	Metrics *metrics.Collector

	// Logger for assistant operations.
	Logger zerolog.Logger

	// SystemPrompt is sent first on every call (default: DefaultSystemPrompt).
	SystemPrompt string

	// Temperature for model calls (default: DefaultTemperature).
	Temperature float32

	// MaxTokens per model call (default: DefaultMaxTokens).
	MaxTokens int

	// Markup for replies (default: plain).
	Markup Markup
}

// Message is an incoming user message.
type Message struct {
	UserID   string
	Username string
	Text     string
}

// Reply is what the transport sends back.
type Reply struct {
	Text string

	// Asset is a file a tool produced for delivery alongside Text.
	Asset *tools.Asset

	// Failed is set when Text is the fallback apology.
	Failed bool
}

// Assistant orchestrates model calls, tool dispatch and history.
type Assistant struct {
	model         llm.Model
	tools         *tools.Registry
	conversations *conversation.Service
	events        events.Publisher
	metrics       *metrics.Collector
	logger        zerolog.Logger
	tracer        trace.Tracer
	systemPrompt  string
	temperature   float32
	maxTokens     int
	markup        Markup
	users         *keyedMutex
}

// New creates an assistant.
func New(cfg Config) *Assistant {
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Markup == "" {
		cfg.Markup = MarkupPlain
	}

	return &Assistant{
		model:         cfg.Model,
		tools:         cfg.Tools,
		conversations: cfg.Conversations,
		events:        cfg.Events,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		tracer:        telemetry.Tracer(tracerName),
		systemPrompt:  cfg.SystemPrompt,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		markup:        cfg.Markup,
		users:         newKeyedMutex(),
	}
}

// turn accumulates what happened while answering one message.
type turn struct {
	reply      string
	asset      *tools.Asset
	toolLogs   []conversation.ToolCallLog
	modelCalls int
}

// Handle answers msg. It never returns an error: any failure is logged and
// turned into FallbackReply, and the failed exchange is not persisted.
// Messages from the same user are handled one at a time.
func (a *Assistant) Handle(ctx context.Context, msg Message) Reply {
	start := time.Now()
	text := strings.TrimSpace(msg.Text)

	logger := a.logger.With().Str("user_id", msg.UserID).Str("username", msg.Username).Logger()
	logger.Info().Str("text", text).Msg("incoming message")

	if text == "" {
		a.metrics.RecordTurn("empty", time.Since(start))
		return Reply{Text: EmptyReply}
	}

	unlock := a.users.Lock(msg.UserID)
	defer unlock()

	ctx, span := a.tracer.Start(ctx, "assistant.Handle",
		trace.WithAttributes(attribute.Int("message.length", len(text))),
	)
	defer span.End()

	t, err := a.run(ctx, msg.UserID, text, start, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		logger.Error().Err(err).Str("text", text).Dur("duration", time.Since(start)).Msg("failed to process message")
		a.metrics.RecordTurn("error", time.Since(start))
		return Reply{Text: FallbackReply, Failed: true}
	}

	span.SetAttributes(
		attribute.Int("model.calls", t.modelCalls),
		attribute.Int("tool.calls", len(t.toolLogs)),
	)
	a.metrics.RecordTurn("ok", time.Since(start))
	logger.Info().
		Str("reply", t.reply).
		Int("model_calls", t.modelCalls).
		Int("tool_calls", len(t.toolLogs)).
		Dur("duration", time.Since(start)).
		Msg("reply sent")

	return Reply{Text: Render(a.markup, t.reply), Asset: t.asset}
}

// run is the single catch boundary: errors and panics from anything below
// come back as an error.
func (a *Assistant) run(ctx context.Context, userID, text string, start time.Time, logger zerolog.Logger) (t *turn, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("panic while handling message")
			t = nil
			err = fmt.Errorf("%w: %v", errPanic, rec)
		}
	}()

	t, err = a.converse(ctx, userID, text, logger)
	if err != nil {
		return nil, err
	}

	a.persist(ctx, userID, text, t, start, logger)
	return t, nil
}

// converse runs the model passes and tool calls for one message.
func (a *Assistant) converse(ctx context.Context, userID, text string, logger zerolog.Logger) (*turn, error) {
	history, err := a.conversations.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	messages := buildMessages(a.systemPrompt, history, text)
	logger.Debug().Int("history_turns", len(history)).Msg("sending to model")

	t := &turn{}

	first, err := a.complete(ctx, "first", llm.Request{
		Messages:    messages,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		Tools:       a.tools.Specs(),
		ToolChoice:  llm.ToolChoiceAuto,
	})
	t.modelCalls++
	if err != nil {
		return nil, err
	}

	if !first.HasToolCalls() {
		if strings.TrimSpace(first.Content) == "" {
			return nil, ErrEmptyReply
		}
		t.reply = first.Content
		return t, nil
	}

	followUp := make([]llm.Message, 0, len(messages)+1+len(first.ToolCalls))
	followUp = append(followUp, messages...)
	followUp = append(followUp, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})

	for _, call := range first.ToolCalls {
		out := a.dispatch(ctx, call, logger)
		followUp = append(followUp, llm.ToolResultMessage(call.ID, out.Text))
		t.toolLogs = append(t.toolLogs, conversation.NewToolCallLog(call.Name, call.Arguments, out.Err))
		if out.Asset != nil && t.asset == nil {
			t.asset = out.Asset
		}
	}

	second, err := a.complete(ctx, "second", llm.Request{
		Messages:    followUp,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	t.modelCalls++
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(second.Content) == "" {
		return nil, ErrEmptyReply
	}

	t.reply = second.Content
	return t, nil
}

func (a *Assistant) complete(ctx context.Context, pass string, req llm.Request) (*llm.Completion, error) {
	ctx, span := a.tracer.Start(ctx, "assistant.model_call",
		trace.WithAttributes(
			attribute.String("model.pass", pass),
			attribute.String("model.name", a.model.Name()),
			attribute.Int("model.messages", len(req.Messages)),
			attribute.Int("model.tools", len(req.Tools)),
		),
	)
	defer span.End()

	resp, err := a.model.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		a.metrics.RecordModelCall(pass, "error", 0)
		return nil, fmt.Errorf("%s model call: %w", pass, err)
	}
	if resp == nil {
		span.SetStatus(codes.Error, "empty completion")
		a.metrics.RecordModelCall(pass, "error", 0)
		return nil, fmt.Errorf("%s model call: %w", pass, llm.ErrEmptyCompletion)
	}

	span.SetAttributes(
		attribute.Int("model.tool_calls", len(resp.ToolCalls)),
		attribute.Int("model.total_tokens", resp.TotalTokens),
	)
	a.metrics.RecordModelCall(pass, "ok", resp.TotalTokens)
	a.logger.Info().
		Str("pass", pass).
		Int("tool_calls", len(resp.ToolCalls)).
		Int("total_tokens", resp.TotalTokens).
		Msg("model call succeeded")
	return resp, nil
}

func (a *Assistant) dispatch(ctx context.Context, call llm.ToolCall, logger zerolog.Logger) tools.Outcome {
	ctx, span := a.tracer.Start(ctx, "assistant.tool",
		trace.WithAttributes(attribute.String("tool.name", call.Name)),
	)
	defer span.End()

	logger.Info().Str("tool", call.Name).Str("args", call.Arguments).Msg("tool call")

	out := a.tools.Dispatch(ctx, call)
	telemetry.RecordError(span, out.Err)
	return out
}

// persist appends the turn to history and publishes the event. Failures here
// are logged; the user still gets the reply.
func (a *Assistant) persist(ctx context.Context, userID, text string, t *turn, start time.Time, logger zerolog.Logger) {
	if _, err := a.conversations.Append(ctx, userID, conversation.Turn{
		User:      text,
		Assistant: t.reply,
		ToolCalls: t.toolLogs,
	}); err != nil {
		logger.Error().Err(err).Msg("failed to save conversation")
		return
	}

	event := events.TurnCompleted{
		UserID:     userID,
		Date:       a.conversations.Today(userID).Date,
		ModelCalls: t.modelCalls,
		DurationMS: time.Since(start).Milliseconds(),
	}
	for _, l := range t.toolLogs {
		event.Tools = append(event.Tools, l.Function)
		if l.Error != "" {
			event.ToolErrors++
		}
	}
	if err := a.events.PublishTurn(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("failed to publish turn event")
	}
}

// buildMessages flattens history into user/assistant pairs between the system
// prompt and the new message. Tool-call logs are not replayed.
func buildMessages(systemPrompt string, history []conversation.Turn, text string) []llm.Message {
	messages := make([]llm.Message, 0, 2+2*len(history))
	messages = append(messages, llm.SystemMessage(systemPrompt))
	for _, h := range history {
		messages = append(messages,
			llm.UserMessage(h.User),
			llm.AssistantMessage(h.Assistant),
		)
	}
	return append(messages, llm.UserMessage(text))
}

// ClearHistory deletes today's conversation for userID.
func (a *Assistant) ClearHistory(ctx context.Context, userID string) (bool, error) {
	unlock := a.users.Lock(userID)
	defer unlock()
	return a.conversations.Clear(ctx, userID)
}

// Format renders a fixed text, such as HelpText, with the configured markup.
func (a *Assistant) Format(text string) string {
	return Render(a.markup, text)
}

// ToolNames lists the tools the model may call.
func (a *Assistant) ToolNames() []string {
	return a.tools.Names()
}
