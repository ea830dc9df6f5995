package sync

import (
	"testing"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

func TestReduce_SidechainConversationUnderParent(t *testing.T) {
	s := newTestState()

	res := s.Reduce([]wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "audit the config"}, 1000),
		sidechainRoot("m2", "sc-uuid", "audit the config", 1100),
		sidechain(toolCallMsg("m3", "t2", "Read", map[string]any{"path": "cfg.yaml"}, 1200), "sc-uuid"),
		sidechain(agentText("m4", "looks fine", 1300), "sc-uuid"),
	}, nil)

	parent, ok := findTool(res.Messages, "task1")
	if !ok {
		t.Fatal("delegation call message missing")
	}
	if len(parent.Children) != 3 {
		t.Fatalf("got %d children, want 3", len(parent.Children))
	}
	root := parent.Children[0]
	if root.Role != wire.RoleUser || root.Text != "audit the config" {
		t.Errorf("root child = %+v, want synthetic user message with the prompt", root)
	}
	if parent.Children[1].Kind != KindTool || parent.Children[1].RealID != "t2" {
		t.Errorf("second child = %+v, want the t2 tool call", parent.Children[1])
	}
	if parent.Children[2].Text != "looks fine" {
		t.Errorf("third child = %+v, want the agent text", parent.Children[2])
	}
	for i, c := range parent.Children {
		if c.SidechainID != "task1" {
			t.Errorf("child %d owner = %q, want task1", i, c.SidechainID)
		}
	}
}

func TestReduce_SidechainToolDoesNotCollideWithMainTool(t *testing.T) {
	s := newTestState()

	// The same tool id executes on the main thread and inside a sidechain.
	s.Reduce([]wire.NormalizedMessage{
		toolCallMsg("m1", "t1", "Bash", map[string]any{"command": "main"}, 1000),
		toolCallMsg("m2", "task1", "Task", map[string]any{"prompt": "p"}, 1100),
		sidechainRoot("m3", "sc-uuid", "p", 1200),
		sidechain(toolCallMsg("m4", "t1", "Bash", map[string]any{"command": "side"}, 1300), "sc-uuid"),
	}, nil)

	main, _ := s.toolMessage(s.toolIndex, "t1")
	side, _ := s.toolMessage(s.sidechainToolIndex, "t1")
	if main == nil || side == nil {
		t.Fatal("one of the two t1 copies is missing")
	}
	if main.id == side.id {
		t.Fatal("main and sidechain copies share an internal id")
	}
	if main.tool.input["command"] != "main" || side.tool.input["command"] != "side" {
		t.Errorf("inputs crossed: main=%v side=%v", main.tool.input, side.tool.input)
	}
}

func TestReduce_SidechainResultSettlesBothCopies(t *testing.T) {
	s := newTestState()

	// An approved permission arrives first and synthesizes the main-thread
	// copy of t2.
	s.Reduce(nil, &wire.AgentState{
		CompletedRequests: map[string]wire.CompletedPermissionRequest{
			"t2": {Tool: "Bash", Status: wire.PermissionApproved, Decision: "user", CreatedAt: 500},
		},
	})

	// The sidechain then executes the tool; its copy inherits the permission.
	s.Reduce([]wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "p"}, 1000),
		sidechainRoot("m2", "sc-uuid", "p", 1100),
		sidechain(toolCallMsg("m3", "t2", "Bash", nil, 1200), "sc-uuid"),
	}, nil)

	side, _ := s.toolMessage(s.sidechainToolIndex, "t2")
	if side == nil || side.tool.permission == nil || side.tool.permission.Decision != "user" {
		t.Fatalf("sidechain copy did not inherit the permission: %+v", side)
	}

	// One result settles both views.
	s.Reduce([]wire.NormalizedMessage{
		sidechain(toolResultMsg("m4", "t2", "done", false, 2000), "sc-uuid"),
	}, nil)

	main, _ := s.toolMessage(s.toolIndex, "t2")
	side, _ = s.toolMessage(s.sidechainToolIndex, "t2")
	for name, m := range map[string]*message{"main": main, "sidechain": side} {
		if m == nil {
			t.Fatalf("%s copy missing", name)
		}
		if m.tool.state != ToolCompleted {
			t.Errorf("%s copy state = %q, want completed", name, m.tool.state)
		}
		if m.tool.result != "done" {
			t.Errorf("%s copy result = %v, want done", name, m.tool.result)
		}
	}
}

func TestReduce_SidechainReplayIsIdempotent(t *testing.T) {
	s := newTestState()
	batch := []wire.NormalizedMessage{
		toolCallMsg("m1", "task1", "Task", map[string]any{"prompt": "p"}, 1000),
		sidechainRoot("m2", "sc-uuid", "p", 1100),
		sidechain(toolCallMsg("m3", "t2", "Bash", nil, 1200), "sc-uuid"),
		sidechain(toolResultMsg("m4", "t2", "ok", false, 1300), "sc-uuid"),
	}
	s.Reduce(batch, nil)

	res := s.Reduce(batch, nil)
	if len(res.Messages) != 0 {
		t.Errorf("replay produced %d changed messages, want 0", len(res.Messages))
	}

	children, _ := s.sidechains.Peek("task1")
	if len(children) != 2 {
		t.Errorf("sidechain has %d entries, want 2 (root + tool)", len(children))
	}
}
