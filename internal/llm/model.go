// Package llm defines the language model boundary used by the assistant.
// The model is a black box: given messages and an optional tool schema it
// returns either content or a list of tool invocations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyCompletion is returned when the model produced no choices.
var ErrEmptyCompletion = errors.New("model returned no choices")

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoice controls whether the model may call tools. A request without
// tools sends no choice at all.
type ToolChoice string

// ToolChoiceAuto lets the model decide.
const ToolChoiceAuto ToolChoice = "auto"

// ToolCall is a model-requested invocation of a named tool.
type ToolCall struct {
	// ID correlates the call with its result message.
	ID string

	Name string

	// Arguments is the raw JSON argument object as produced by the model.
	Arguments string
}

// Message is one entry in the conversation sent to the model.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID is set on tool result messages.
	ToolCallID string
}

// ToolSpec advertises a tool to the model.
type ToolSpec struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object.
	Parameters json.RawMessage
}

// Request is a single model call.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int

	// Tools is empty on calls that must produce text.
	Tools      []ToolSpec
	ToolChoice ToolChoice
}

// Completion is the model's answer.
type Completion struct {
	Content   string
	ToolCalls []ToolCall

	// TotalTokens is the usage reported by the model (0 if unknown).
	TotalTokens int
}

// HasToolCalls reports whether the model requested any tools.
func (c *Completion) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}

// Model is a chat completion capability.
type Model interface {
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Name returns the model identifier for logging.
	Name() string
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds a tool result correlated to callID.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}
