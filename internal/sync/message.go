package sync

import (
	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

// Kind discriminates what a reduced message carries. Exactly one of the
// text/tool/event payloads is populated per message.
type Kind string

const (
	KindText  Kind = "text"
	KindTool  Kind = "tool"
	KindEvent Kind = "event"
)

// ToolRunState is the lifecycle state of a tool call.
type ToolRunState string

const (
	ToolRunning   ToolRunState = "running"
	ToolCompleted ToolRunState = "completed"
	ToolError     ToolRunState = "error"
)

// EventBodyKind identifies reduced event messages.
type EventBodyKind string

const (
	EventBodyContextReset EventBodyKind = "context-reset"
	EventBodyCompaction   EventBodyKind = "compaction"
	EventBodySwitchMode   EventBodyKind = "switch-mode"
	EventBodyLimitReached EventBodyKind = "limit-reached"
	EventBodyMessage      EventBodyKind = "message"
)

// toolCall is the tool payload of an internal message.
type toolCall struct {
	name        string
	state       ToolRunState
	input       map[string]any
	createdAt   int64
	startedAt   int64
	completedAt int64
	description string
	result      any
	permission  *wire.StoredPermission
}

// eventBody is the event payload of an internal message.
type eventBody struct {
	kind   EventBodyKind
	mode   string
	text   string
	endsAt int64
}

// message is the reducer's canonical internal record. Messages are never
// mutated in place: every change goes through clone so that an unchanged
// message keeps its pointer identity across Reduce calls. createdAt is frozen
// at first creation and never altered by any later phase.
type message struct {
	id        string // reducer-assigned, unique within one State lifetime
	realID    string // original wire id; empty until the real event arrives
	localID   string
	createdAt int64
	role      wire.Role
	kind      Kind

	text  string
	tool  *toolCall
	event *eventBody

	meta        *wire.MessageMeta
	sidechainID string // realID of the owning delegation call; empty on the main thread
}

// clone returns a structurally new message (and tool payload) so that
// reference-equality change detection downstream stays reliable.
func (m *message) clone() *message {
	cp := *m
	if m.tool != nil {
		tc := *m.tool
		cp.tool = &tc
	}
	if m.event != nil {
		ev := *m.event
		cp.event = &ev
	}
	return &cp
}

// ToolView is the public projection of a tool call.
type ToolView struct {
	Name        string
	State       ToolRunState
	Input       map[string]any
	CreatedAt   int64
	StartedAt   int64
	CompletedAt int64
	Description string
	Result      any
	Permission  *wire.StoredPermission
}

// EventView is the public projection of a reduced event.
type EventView struct {
	Kind   EventBodyKind
	Mode   string
	Text   string
	EndsAt int64
}

// Message is the UI-ready projection of a reduced message. Only messages
// created or changed during a Reduce call are projected and returned;
// everything else keeps its previous identity.
type Message struct {
	ID          string
	RealID      string
	LocalID     string
	CreatedAt   int64
	Role        wire.Role
	Kind        Kind
	Text        string
	Tool        *ToolView
	Event       *EventView
	Meta        *wire.MessageMeta
	SidechainID string
	// Children holds the ordered sidechain conversation owned by this tool
	// call, if any.
	Children []Message
}

func (m *message) view() Message {
	out := Message{
		ID:          m.id,
		RealID:      m.realID,
		LocalID:     m.localID,
		CreatedAt:   m.createdAt,
		Role:        m.role,
		Kind:        m.kind,
		Text:        m.text,
		Meta:        m.meta,
		SidechainID: m.sidechainID,
	}
	if m.tool != nil {
		out.Tool = &ToolView{
			Name:        m.tool.name,
			State:       m.tool.state,
			Input:       m.tool.input,
			CreatedAt:   m.tool.createdAt,
			StartedAt:   m.tool.startedAt,
			CompletedAt: m.tool.completedAt,
			Description: m.tool.description,
			Result:      m.tool.result,
			Permission:  m.tool.permission,
		}
	}
	if m.event != nil {
		out.Event = &EventView{
			Kind:   m.event.kind,
			Mode:   m.event.mode,
			Text:   m.event.text,
			EndsAt: m.event.endsAt,
		}
	}
	return out
}
