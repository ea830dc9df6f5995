package sync

import (
	"testing"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

func sidechainRoot(id, uuid, prompt string, at int64) wire.NormalizedMessage {
	return wire.NormalizedMessage{
		ID:          id,
		CreatedAt:   at,
		Role:        wire.RoleAgent,
		IsSidechain: true,
		Content: wire.Content{
			Type:      wire.ContentSidechain,
			Sidechain: &wire.SidechainContent{UUID: uuid, Prompt: prompt},
		},
	}
}

func TestTracer_RootBindsByPrompt(t *testing.T) {
	tr := newTracer(16)

	got := tr.annotate([]wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "find bugs"}, 1000),
		sidechainRoot("m2", "sc-uuid", "find bugs", 1100),
	})

	if got[0].sidechainID != "" {
		t.Errorf("Task call annotated as sidechain: %q", got[0].sidechainID)
	}
	if got[1].sidechainID != "task1" {
		t.Errorf("root bound to %q, want task1", got[1].sidechainID)
	}
}

func TestTracer_PromptMatchPrefersMostRecent(t *testing.T) {
	tr := newTracer(16)

	got := tr.annotate([]wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "same"}, 1000),
		toolCallMsg("m2", "task2", "Task", map[string]any{"prompt": "same"}, 1001),
		sidechainRoot("m3", "sc-uuid", "same", 1100),
	})

	if got[2].sidechainID != "task2" {
		t.Errorf("root bound to %q, want the more recent task2", got[2].sidechainID)
	}
}

func TestTracer_UUIDLinkageAcrossBatches(t *testing.T) {
	tr := newTracer(16)
	tr.annotate([]wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "p"}, 1000),
		sidechainRoot("m2", "sc-uuid", "p", 1100),
	})

	// A later batch carries only the uuid; the recorded root binding resolves
	// it.
	got := tr.annotate([]wire.NormalizedMessage{
		sidechain(agentText("m3", "working", 1200), "sc-uuid"),
	})
	if got[0].sidechainID != "task1" {
		t.Errorf("uuid-linked message bound to %q, want task1", got[0].sidechainID)
	}
}

func TestTracer_NoUUIDFallsBackToLastParent(t *testing.T) {
	tr := newTracer(16)
	tr.annotate([]wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "p"}, 1000),
		sidechainRoot("m2", "sc-uuid", "p", 1100),
	})

	got := tr.annotate([]wire.NormalizedMessage{
		sidechain(agentText("m3", "no linkage", 1200), ""),
	})
	if got[0].sidechainID != "task1" {
		t.Errorf("fallback bound to %q, want task1", got[0].sidechainID)
	}
}

func TestTracer_MainResultClosesTask(t *testing.T) {
	tr := newTracer(16)
	tr.annotate([]wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "p"}, 1000),
		toolResultMsg("m2", "task1", "done", false, 2000),
	})

	// The task is closed; a new root with the same prompt no longer matches.
	got := tr.annotate([]wire.NormalizedMessage{
		sidechainRoot("m3", "sc2", "p", 3000),
	})
	if got[0].sidechainID == "task1" {
		t.Error("closed task still matched by prompt")
	}
}

func TestTracer_MainThreadMessagesUnannotated(t *testing.T) {
	tr := newTracer(16)
	got := tr.annotate([]wire.NormalizedMessage{
		userMsg("m1", "", "hi", 1000),
		agentText("m2", "hello", 1100),
		toolCallMsg("m3", "t1", "Bash", nil, 1200),
	})
	for i, a := range got {
		if a.sidechainID != "" {
			t.Errorf("message %d annotated as sidechain %q", i, a.sidechainID)
		}
	}
}
