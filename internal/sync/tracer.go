package sync

import (
	"github.com/Enflame-Media/happy-sub000/internal/lru"
	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

// taskToolName is the delegation tool whose calls spawn sidechains.
const taskToolName = "Task"

// tracer classifies incoming messages as belonging to the main conversation
// or to a sidechain, assigning sidechain messages the realID of their owning
// delegation call. Its bookkeeping of open delegation calls persists across
// Reduce calls for the lifetime of the State.
type tracer struct {
	// openTasks maps an open delegation call id to its prompt (the "prompt"
	// or "description" input), used to bind sidechain roots to their parent.
	openTasks *lru.Cache[string, string]
	// rootParent maps a sidechain root uuid to its parent delegation call id.
	rootParent *lru.Cache[string, string]
	// lastParent is the most recently bound parent, the fallback for
	// sidechain messages that carry no uuid linkage.
	lastParent string
}

func newTracer(capacity int) *tracer {
	return &tracer{
		openTasks:  lru.New[string, string](capacity),
		rootParent: lru.New[string, string](capacity),
	}
}

// annotated pairs a batch message with its resolved sidechain owner.
type annotated struct {
	msg         wire.NormalizedMessage
	sidechainID string // empty for main-thread messages
}

// annotate resolves the sidechain owner for every message in the batch, in
// order. It updates the tracer's open-call bookkeeping but never touches
// reducer state.
func (t *tracer) annotate(batch []wire.NormalizedMessage) []annotated {
	out := make([]annotated, 0, len(batch))
	for _, msg := range batch {
		out = append(out, annotated{msg: msg, sidechainID: t.resolve(msg)})
	}
	return out
}

func (t *tracer) resolve(msg wire.NormalizedMessage) string {
	switch msg.Content.Type {
	case wire.ContentToolCall:
		tc := msg.Content.ToolCall
		if tc == nil {
			return ""
		}
		if !msg.IsSidechain && tc.Name == taskToolName {
			t.openTasks.Set(tc.ID, taskPrompt(tc.Input))
			return ""
		}
	case wire.ContentToolResult:
		tr := msg.Content.ToolResult
		if tr == nil {
			return ""
		}
		if !msg.IsSidechain {
			// A result for an open delegation call closes its sidechain.
			t.openTasks.Delete(tr.ToolUseID)
			return ""
		}
	case wire.ContentSidechain:
		sc := msg.Content.Sidechain
		if sc == nil {
			return ""
		}
		parent := t.matchPrompt(sc.Prompt)
		if parent == "" {
			parent = t.lastParent
		}
		if parent != "" {
			t.rootParent.Set(sc.UUID, parent)
			t.lastParent = parent
		}
		return parent
	}

	if !msg.IsSidechain {
		return ""
	}
	if msg.Meta != nil && msg.Meta.SidechainUUID != "" {
		if parent, ok := t.rootParent.Get(msg.Meta.SidechainUUID); ok {
			t.lastParent = parent
			return parent
		}
	}
	return t.lastParent
}

// matchPrompt finds the most recently opened delegation call whose prompt
// matches, preferring recency when several are open.
func (t *tracer) matchPrompt(prompt string) string {
	if prompt == "" {
		return ""
	}
	var match string
	t.openTasks.Range(func(id, p string) bool {
		if p == prompt {
			match = id // keep scanning; later entries are more recent
		}
		return true
	})
	return match
}

// taskPrompt extracts the delegation prompt from a Task call's input.
func taskPrompt(input map[string]any) string {
	for _, key := range []string{"prompt", "description"} {
		if v, ok := input[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
