// Package wire defines the data model exchanged with the session server:
// normalized session messages, the agent permission state, token usage, and
// the seq'd update envelopes used for delta synchronization.
//
// Decoding and schema validation of raw server JSON happen upstream; the sync
// core consumes these types as already-valid inputs.
package wire

import "encoding/json"

// Role identifies who produced a normalized message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleEvent Role = "event"
)

// ContentType discriminates the role-dependent message payload.
type ContentType string

const (
	// ContentText is plain text from the user or the agent.
	ContentText ContentType = "text"
	// ContentToolCall is an agent tool invocation.
	ContentToolCall ContentType = "tool-call"
	// ContentToolResult is the outcome of a previous tool invocation.
	ContentToolResult ContentType = "tool-result"
	// ContentSidechain marks the root of a nested sub-conversation spawned
	// by a delegation tool call.
	ContentSidechain ContentType = "sidechain"
	// ContentEvent is a structured session event.
	ContentEvent ContentType = "event"
)

// Content is the tagged-union payload of a normalized message. Type selects
// which of the remaining fields is populated.
type Content struct {
	Type ContentType `json:"type"`

	Text       string             `json:"text,omitempty"`
	ToolCall   *ToolCallContent   `json:"toolCall,omitempty"`
	ToolResult *ToolResultContent `json:"toolResult,omitempty"`
	Sidechain  *SidechainContent  `json:"sidechain,omitempty"`
	Event      *EventContent      `json:"event,omitempty"`
}

// ToolCallContent describes an agent tool invocation.
type ToolCallContent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Input       map[string]any `json:"input,omitempty"`
	Description string         `json:"description,omitempty"`
}

// ToolResultContent carries the outcome of a tool invocation. ToolUseID
// matches the ID of the originating ToolCallContent.
type ToolResultContent struct {
	ToolUseID   string            `json:"tool_use_id"`
	Content     any               `json:"content,omitempty"`
	IsError     bool              `json:"is_error,omitempty"`
	Permissions *PermissionUpdate `json:"permissions,omitempty"`
}

// SidechainContent marks the root of a sidechain: the delegation prompt sent
// to the nested agent.
type SidechainContent struct {
	UUID   string `json:"uuid"`
	Prompt string `json:"prompt"`
}

// EventKind identifies the variant of an event-role message.
type EventKind string

const (
	EventReady        EventKind = "ready"
	EventSwitchMode   EventKind = "switch"
	EventLimitReached EventKind = "limit-reached"
	EventMessage      EventKind = "message"
)

// EventContent is the payload of an event-role message.
type EventContent struct {
	Kind EventKind `json:"kind"`
	Mode string    `json:"mode,omitempty"`
	Text string    `json:"text,omitempty"`
	// EndsAt is when a usage limit resets, ms since epoch.
	EndsAt int64 `json:"endsAt,omitempty"`
}

// TokenUsage is the token accounting attached to agent messages.
type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// ContextSize is the effective context occupancy this usage report implies.
func (u TokenUsage) ContextSize() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// MessageMeta carries optional display metadata attached upstream.
type MessageMeta struct {
	SidechainUUID string `json:"sidechainUuid,omitempty"`
	Model         string `json:"model,omitempty"`
}

// NormalizedMessage is a single decoded, validated session message. It is
// immutable once produced; all timestamps are ms since epoch.
type NormalizedMessage struct {
	// ID is the stable server-assigned message id.
	ID string `json:"id"`
	// LocalID is the client idempotency key for optimistic sends; empty when
	// the message did not originate from this client.
	LocalID string `json:"localId,omitempty"`
	// CreatedAt is the message creation time, ms since epoch.
	CreatedAt int64 `json:"createdAt"`
	Role      Role  `json:"role"`
	// IsSidechain marks messages that belong to a nested sub-conversation.
	IsSidechain bool         `json:"isSidechain,omitempty"`
	Content     Content      `json:"content"`
	Usage       *TokenUsage  `json:"usage,omitempty"`
	Meta        *MessageMeta `json:"meta,omitempty"`
}

// Todo is a single entry of the agent's TodoWrite plan.
type Todo struct {
	ID       string `json:"id,omitempty"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
}

// UpdateEvent is the seq'd "update" envelope the server pushes to keep
// clients in sync, and the element type of delta-sync responses.
type UpdateEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Seq       int64           `json:"seq"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

// UpdatesSinceRequest is the payload of the "request-updates-since" acked
// request: the highest sequence number already seen per entity category.
type UpdatesSinceRequest struct {
	Sessions  int64 `json:"sessions"`
	Machines  int64 `json:"machines"`
	Artifacts int64 `json:"artifacts"`
}

// UpdateCounts reports how many updates the server found per category.
type UpdateCounts struct {
	Sessions  int `json:"sessions"`
	Machines  int `json:"machines"`
	Artifacts int `json:"artifacts"`
}

// UpdatesSinceResponse is the server's answer to an UpdatesSinceRequest.
type UpdatesSinceResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Updates []UpdateEvent `json:"updates,omitempty"`
	Counts  *UpdateCounts `json:"counts,omitempty"`
}
