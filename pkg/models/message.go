// Package models defines the wire data model shared by every component of
// the agent runtime: messages, tool calls/results, sessions, and the
// activity event union.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Metadata carries the small set of boolean flags the turn loop and
// conversation manager need to reason about a message without inspecting its
// content.
type Metadata struct {
	// Ephemeral marks a message for removal at the end of the turn that
	// produced it (see tokens.CleanupEphemeral).
	Ephemeral bool `json:"ephemeral,omitempty"`
	// Partial marks an assistant message preserved mid-interruption: it may
	// have empty or truncated content and/or tool_calls that never executed.
	Partial bool `json:"partial,omitempty"`
	// IsInterjection marks a user message appended via addUserInterjection
	// after a cancel-for-interjection interrupt.
	IsInterjection bool `json:"is_interjection,omitempty"`
	// IsCommandResponse marks a message produced by a slash-command handler
	// rather than the LLM (out of scope here but the flag is part of the
	// wire contract tools may set).
	IsCommandResponse bool `json:"is_command_response,omitempty"`
}

// Message is the fundamental unit of a Conversation. Messages are treated as
// immutable once appended to a Conversation; any "edit" is a new Message.
type Message struct {
	ID         string       `json:"id"`
	Role       Role         `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	ToolName   string       `json:"name,omitempty"`
	Metadata   Metadata     `json:"metadata,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ErrorType categorizes a failed tool result for the model and for UI
// remediation hints (§7 of the specification).
type ErrorType string

const (
	ErrValidation         ErrorType = "validation_error"
	ErrPermission         ErrorType = "permission_error"
	ErrSecurity           ErrorType = "security_error"
	ErrTimeout            ErrorType = "timeout_error"
	ErrCommandFailed      ErrorType = "command_failed"
	ErrInterrupted        ErrorType = "interrupted"
	ErrExecution          ErrorType = "execution_error"
	ErrPlugin             ErrorType = "plugin_error"
	ErrFile               ErrorType = "file_error"
	ErrRequiredToolsUnmet ErrorType = "required_tools_not_met"
	ErrLLMTransport       ErrorType = "llm_transport_error"
	ErrLLMHTTP            ErrorType = "llm_http_error"
	ErrLLMParse           ErrorType = "llm_parse_error"
	ErrGeneral            ErrorType = "general"
)

// ToolResult is the outcome of executing a single ToolCall.
type ToolResult struct {
	ToolCallID string    `json:"tool_call_id"`
	Success    bool      `json:"success"`
	Content    string    `json:"content,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorType  ErrorType `json:"error_type,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	// InternalOnly suppresses display of this result to the end user even
	// though it is appended to the conversation for the model's benefit.
	InternalOnly bool `json:"_internal_only,omitempty"`
	// Ephemeral requests that the message wrapping this result be scrubbed
	// at end of turn (independent of content deduplication).
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// Session identifies one persisted conversation thread. The runtime treats
// persistence as an opaque outbound collaborator (§6.3); this struct is only
// the shape passed across that boundary.
type Session struct {
	ID            string    `json:"id"`
	ActivePlugins []string  `json:"active_plugins,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
