package sync

import (
	"sort"
	"strings"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

// todoToolName is the tool whose input carries the agent's plan snapshot.
const todoToolName = "TodoWrite"

// Messages reclassified as structured events before any other processing.
const (
	contextResetText = "Context was reset"
	compactionText   = "Compaction completed"
)

// Result is the outcome of one Reduce call.
type Result struct {
	// Messages holds only the messages newly created or changed by this
	// call, in the order they were first touched. Unchanged messages are not
	// re-allocated and keep their previous identity.
	Messages []Message
	// Todos is the new todo snapshot when it changed this call, nil
	// otherwise. TodosChanged distinguishes "cleared" from "unchanged".
	Todos        []wire.Todo
	TodosChanged bool
	// Usage is the new usage aggregate when it changed this call.
	Usage *Usage
	// HasReadyEvent reports that a ready event was consumed from the batch.
	HasReadyEvent bool
}

// reduction tracks per-call bookkeeping: which messages were touched, which
// batch entries were consumed by earlier phases, and which completed
// permissions were deferred to tool-call processing.
type reduction struct {
	s        *State
	batch    []annotated
	consumed []bool
	changed  map[string]struct{}
	order    []string
	result   Result
}

// Reduce folds a batch of normalized messages and an optional permission
// snapshot into the state. Calling with an empty batch and nil snapshot is a
// no-op; calling twice with identical input yields an empty Messages slice
// the second time.
func (s *State) Reduce(batch []wire.NormalizedMessage, agent *wire.AgentState) Result {
	r := &reduction{
		s:       s,
		batch:   s.tracer.annotate(batch),
		changed: make(map[string]struct{}),
	}
	r.consumed = make([]bool, len(r.batch))

	r.applyPermissionSnapshot(agent) // phase 0
	r.convertEvents()                // phase 0.5
	r.applyUserAndText()             // phase 1
	r.applyToolCalls()               // phase 2
	r.applyToolResults()             // phase 3
	r.applySidechains()              // phase 4
	r.applyEvents()                  // phase 5

	return r.assemble()
}

// touch marks a message changed and (re)stores it.
func (r *reduction) touch(m *message) {
	r.s.store(m)
	if _, ok := r.changed[m.id]; !ok {
		r.changed[m.id] = struct{}{}
		r.order = append(r.order, m.id)
	}
}

// mutate clones m, applies fn to the clone, and records the change.
func (r *reduction) mutate(m *message, fn func(*message)) *message {
	cp := m.clone()
	fn(cp)
	r.touch(cp)
	return cp
}

// seenWireID reports whether a wire id was already consumed, recording it
// otherwise. Dedup is permanent for the lifetime of the cache entry.
func (r *reduction) seenWireID(wireID, internalID string) bool {
	if wireID == "" {
		return false
	}
	if r.s.wireIndex.Has(wireID) {
		return true
	}
	r.s.wireIndex.Set(wireID, internalID)
	return false
}

// =========================================================================
// Phase 0 — permission snapshot
// =========================================================================

func (r *reduction) applyPermissionSnapshot(agent *wire.AgentState) {
	if agent == nil {
		return
	}

	incoming := r.incomingToolCallIDs()

	for _, id := range sortedKeys(agent.Requests) {
		// A request that is both pending and completed in the same snapshot
		// defers entirely to the completed entry.
		if _, done := agent.CompletedRequests[id]; done {
			continue
		}
		r.applyPendingRequest(id, agent.Requests[id])
	}

	for _, id := range sortedKeys(agent.CompletedRequests) {
		_, pending := agent.Requests[id]
		r.applyCompletedRequest(id, agent.CompletedRequests[id], incoming, pending)
	}
}

func (r *reduction) applyPendingRequest(id string, req wire.PermissionRequest) {
	if m, ok := r.s.toolMessage(r.s.toolIndex, id); ok {
		if m.tool.permission != nil {
			return // marker already present
		}
		r.mutate(m, func(cp *message) {
			cp.tool.permission = &wire.StoredPermission{
				ID:        id,
				Tool:      req.Tool,
				Arguments: req.Arguments,
				CreatedAt: req.CreatedAt,
				Status:    wire.PermissionPending,
			}
		})
		return
	}

	// No message yet: synthesize a running tool whose input and createdAt
	// come from the request.
	m := &message{
		id:        r.s.newID(),
		realID:    id,
		createdAt: req.CreatedAt,
		role:      wire.RoleAgent,
		kind:      KindTool,
		tool: &toolCall{
			name:      req.Tool,
			state:     ToolRunning,
			input:     req.Arguments,
			createdAt: req.CreatedAt,
			permission: &wire.StoredPermission{
				ID:        id,
				Tool:      req.Tool,
				Arguments: req.Arguments,
				CreatedAt: req.CreatedAt,
				Status:    wire.PermissionPending,
			},
		},
	}
	r.s.toolIndex.Set(id, m.id)
	r.touch(m)
}

func (r *reduction) applyCompletedRequest(id string, req wire.CompletedPermissionRequest, incoming map[string]bool, pending bool) {
	stored := &wire.StoredPermission{
		ID:           id,
		Tool:         req.Tool,
		Arguments:    req.Arguments,
		CreatedAt:    req.CreatedAt,
		CompletedAt:  req.CompletedAt,
		Status:       req.Status,
		Reason:       req.Reason,
		Mode:         req.Mode,
		AllowedTools: req.AllowedTools,
		Decision:     req.Decision,
	}
	r.s.permissions.Set(id, stored)

	// The tool call for this id is in the current batch: let phase 2 consume
	// the stored permission instead of writing the message twice in one call.
	if incoming[id] {
		return
	}

	if m, ok := r.s.toolMessage(r.s.toolIndex, id); ok {
		// Tool-result data outranks the snapshot: a permission carrying a
		// server confirmation date means the real result already landed. A
		// matching status means this snapshot entry was already applied.
		if m.tool.permission != nil &&
			(m.tool.permission.Date != 0 || m.tool.permission.Status == req.Status) {
			return
		}
		r.mutate(m, func(cp *message) {
			cp.tool.permission = stored.Clone()
			switch req.Status {
			case wire.PermissionApproved:
				if cp.tool.state != ToolCompleted && cp.tool.state != ToolError {
					cp.tool.state = ToolRunning
				}
			case wire.PermissionDenied, wire.PermissionCanceled:
				if cp.tool.state != ToolCompleted && cp.tool.state != ToolError {
					cp.tool.state = ToolError
					cp.tool.result = deniedResult(req.Reason)
					cp.tool.completedAt = req.CompletedAt
				}
			}
		})
		return
	}

	// An id that is also pending in the same snapshot means the real tool call
	// has not arrived yet; the cached permission above is enough, and phase 2
	// will materialize the message when the call lands.
	if pending {
		return
	}

	m := &message{
		id:        r.s.newID(),
		realID:    id,
		createdAt: req.CreatedAt,
		role:      wire.RoleAgent,
		kind:      KindTool,
		tool: &toolCall{
			name:       req.Tool,
			state:      ToolRunning,
			input:      req.Arguments,
			createdAt:  req.CreatedAt,
			permission: stored.Clone(),
		},
	}
	if req.Status == wire.PermissionDenied || req.Status == wire.PermissionCanceled {
		m.tool.state = ToolError
		m.tool.result = deniedResult(req.Reason)
		m.tool.completedAt = req.CompletedAt
	}
	r.s.toolIndex.Set(id, m.id)
	r.touch(m)
}

// incomingToolCallIDs collects the tool-call ids present in this batch.
func (r *reduction) incomingToolCallIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, a := range r.batch {
		if a.msg.Content.Type == wire.ContentToolCall && a.msg.Content.ToolCall != nil {
			ids[a.msg.Content.ToolCall.ID] = true
		}
	}
	return ids
}

func deniedResult(reason string) any {
	if reason == "" {
		reason = "Permission denied"
	}
	return map[string]any{"error": reason}
}

// =========================================================================
// Phase 0.5 — message-to-event conversion
// =========================================================================

func (r *reduction) convertEvents() {
	for i, a := range r.batch {
		// Malformed frames (a tagged union missing its payload) are dropped
		// here once, before any phase dereferences them.
		if !r.consumed[i] && !wellFormed(a.msg.Content) {
			r.consumed[i] = true
			r.s.logger.Debug("malformed message dropped", "id", a.msg.ID, "type", a.msg.Content.Type)
			continue
		}
		if r.consumed[i] || a.sidechainID != "" {
			continue
		}
		msg := a.msg

		// A ready event is consumed entirely: it flips the result flag and
		// produces no message.
		if msg.Content.Type == wire.ContentEvent && msg.Content.Event.Kind == wire.EventReady {
			r.consumed[i] = true
			r.result.HasReadyEvent = true
			continue
		}

		text := conversionText(msg)
		switch {
		case text == contextResetText:
			r.consumed[i] = true
			if r.seenWireID(msg.ID, "") {
				continue
			}
			// Everything resets at the event's own timestamp, never
			// wall-clock time.
			r.setTodos(nil, msg.CreatedAt)
			r.resetUsage(msg.CreatedAt, false)
			r.emitEvent(msg, EventBodyContextReset, text)

		case strings.HasPrefix(text, compactionText):
			r.consumed[i] = true
			if r.seenWireID(msg.ID, "") {
				continue
			}
			// Compaction zeroes the context but preserves todos, recording a
			// single zero-value point to visualize the drop.
			r.resetUsage(msg.CreatedAt, true)
			r.emitEvent(msg, EventBodyCompaction, text)
		}
	}
}

// wellFormed reports whether a content union carries the payload its type
// tag promises.
func wellFormed(c wire.Content) bool {
	switch c.Type {
	case wire.ContentToolCall:
		return c.ToolCall != nil
	case wire.ContentToolResult:
		return c.ToolResult != nil
	case wire.ContentSidechain:
		return c.Sidechain != nil
	case wire.ContentEvent:
		return c.Event != nil
	}
	return true
}

// conversionText extracts the text that drives event reclassification.
func conversionText(msg wire.NormalizedMessage) string {
	switch msg.Content.Type {
	case wire.ContentText:
		return msg.Content.Text
	case wire.ContentEvent:
		if msg.Content.Event.Kind == wire.EventMessage {
			return msg.Content.Event.Text
		}
	}
	return ""
}

func (r *reduction) emitEvent(msg wire.NormalizedMessage, kind EventBodyKind, text string) {
	m := &message{
		id:        r.s.newID(),
		realID:    msg.ID,
		createdAt: msg.CreatedAt,
		role:      wire.RoleEvent,
		kind:      KindEvent,
		event:     &eventBody{kind: kind, text: text},
		meta:      msg.Meta,
	}
	r.s.wireIndex.Set(msg.ID, m.id)
	r.touch(m)
}

// =========================================================================
// Phase 1 — user messages and plain agent text
// =========================================================================

func (r *reduction) applyUserAndText() {
	for i, a := range r.batch {
		if r.consumed[i] || a.sidechainID != "" {
			continue
		}
		msg := a.msg

		switch msg.Role {
		case wire.RoleUser:
			r.consumed[i] = true
			r.applyUserMessage(msg)

		case wire.RoleAgent:
			// Usage on the parent message counts regardless of content type;
			// the timestamp check keeps replays idempotent.
			if msg.Usage != nil {
				r.applyUsage(*msg.Usage, msg.CreatedAt)
			}
			if msg.Content.Type == wire.ContentText {
				r.consumed[i] = true
				r.applyAgentText(msg)
			}
			// Tool calls and results are handled by later phases.
		}
	}
}

func (r *reduction) applyUserMessage(msg wire.NormalizedMessage) {
	// First-seen wins: dedup by local id first, then by wire id; both
	// identifiers are recorded permanently.
	if msg.LocalID != "" && r.s.localIndex.Has(msg.LocalID) {
		r.s.wireIndex.Set(msg.ID, "")
		return
	}
	if r.seenWireID(msg.ID, "") {
		return
	}

	m := &message{
		id:        r.s.newID(),
		realID:    msg.ID,
		localID:   msg.LocalID,
		createdAt: msg.CreatedAt,
		role:      wire.RoleUser,
		kind:      KindText,
		text:      msg.Content.Text,
		meta:      msg.Meta,
	}
	r.s.wireIndex.Set(msg.ID, m.id)
	if msg.LocalID != "" {
		r.s.localIndex.Set(msg.LocalID, m.id)
	}
	r.touch(m)
}

func (r *reduction) applyAgentText(msg wire.NormalizedMessage) {
	if r.seenWireID(msg.ID, "") {
		return
	}
	m := &message{
		id:        r.s.newID(),
		realID:    msg.ID,
		createdAt: msg.CreatedAt,
		role:      wire.RoleAgent,
		kind:      KindText,
		text:      msg.Content.Text,
		meta:      msg.Meta,
	}
	r.s.wireIndex.Set(msg.ID, m.id)
	r.touch(m)
}

// =========================================================================
// Phase 2 — tool calls
// =========================================================================

func (r *reduction) applyToolCalls() {
	for i, a := range r.batch {
		if r.consumed[i] || a.sidechainID != "" {
			continue
		}
		msg := a.msg
		if msg.Content.Type != wire.ContentToolCall {
			continue
		}
		r.consumed[i] = true
		if r.seenWireID(msg.ID, "") {
			continue
		}
		tc := msg.Content.ToolCall

		if m, ok := r.s.toolMessage(r.s.toolIndex, tc.ID); ok {
			r.mutate(m, func(cp *message) {
				cp.tool.description = tc.Description
				cp.tool.startedAt = msg.CreatedAt
				if len(cp.tool.input) == 0 {
					cp.tool.input = tc.Input
				}
				// A tool left in a synthesized completed state by an approved
				// permission goes back to running: the real execution has now
				// started.
				if cp.tool.state == ToolCompleted && cp.tool.result == nil &&
					cp.tool.permission != nil && cp.tool.permission.Status == wire.PermissionApproved {
					cp.tool.state = ToolRunning
					cp.tool.completedAt = 0
					cp.tool.result = nil
				}
			})
		} else {
			r.createToolMessage(msg, tc)
		}

		if tc.Name == todoToolName {
			r.applyTodoWrite(tc, msg.CreatedAt)
		}
	}
}

func (r *reduction) createToolMessage(msg wire.NormalizedMessage, tc *wire.ToolCallContent) {
	stored, hasStored := r.s.permissions.Get(tc.ID)

	// A stored permission's arguments and request time outrank the call's own
	// input and wire arrival time: the permission request is the tool's
	// logical beginning.
	createdAt := msg.CreatedAt
	input := tc.Input
	if hasStored {
		if stored.CreatedAt != 0 {
			createdAt = stored.CreatedAt
		}
		if len(stored.Arguments) > 0 {
			input = stored.Arguments
		}
	}

	m := &message{
		id:        r.s.newID(),
		realID:    tc.ID,
		createdAt: createdAt,
		role:      wire.RoleAgent,
		kind:      KindTool,
		meta:      msg.Meta,
		tool: &toolCall{
			name:        tc.Name,
			state:       ToolRunning,
			input:       input,
			createdAt:   createdAt,
			startedAt:   msg.CreatedAt,
			description: tc.Description,
		},
	}
	if hasStored {
		m.tool.permission = stored.Clone()
		if stored.Status != wire.PermissionApproved && stored.Status != wire.PermissionPending {
			m.tool.state = ToolError
			m.tool.result = deniedResult(stored.Reason)
			m.tool.completedAt = stored.CompletedAt
		}
	}
	r.s.toolIndex.Set(tc.ID, m.id)
	r.touch(m)
}

func (r *reduction) applyTodoWrite(tc *wire.ToolCallContent, createdAt int64) {
	todos, ok := parseTodos(tc.Input)
	if !ok {
		return
	}
	if createdAt > r.s.todosUpdatedAt {
		r.setTodos(todos, createdAt)
	}
}

func (r *reduction) setTodos(todos []wire.Todo, at int64) {
	r.s.todos = todos
	r.s.todosUpdatedAt = at
	r.result.Todos = todos
	r.result.TodosChanged = true
}

// parseTodos extracts the todo list from a TodoWrite input payload.
func parseTodos(input map[string]any) ([]wire.Todo, bool) {
	raw, ok := input["todos"]
	if !ok {
		return nil, false
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	todos := make([]wire.Todo, 0, len(items))
	for _, it := range items {
		fields, ok := it.(map[string]any)
		if !ok {
			continue
		}
		todo := wire.Todo{}
		if v, ok := fields["id"].(string); ok {
			todo.ID = v
		}
		if v, ok := fields["content"].(string); ok {
			todo.Content = v
		}
		if v, ok := fields["status"].(string); ok {
			todo.Status = v
		}
		if v, ok := fields["priority"].(string); ok {
			todo.Priority = v
		}
		todos = append(todos, todo)
	}
	return todos, true
}

// =========================================================================
// Phase 3 — tool results
// =========================================================================

func (r *reduction) applyToolResults() {
	for i, a := range r.batch {
		if r.consumed[i] || a.sidechainID != "" {
			continue
		}
		msg := a.msg
		if msg.Content.Type != wire.ContentToolResult {
			continue
		}
		r.consumed[i] = true
		if r.seenWireID(msg.ID, "") {
			continue
		}
		tr := msg.Content.ToolResult

		m, ok := r.s.toolMessage(r.s.toolIndex, tr.ToolUseID)
		if !ok || m.tool.state != ToolRunning {
			// Orphan results and results for already-settled tools are
			// expected under at-least-once delivery; drop silently.
			continue
		}
		r.mutate(m, func(cp *message) {
			applyResult(cp.tool, tr, msg.CreatedAt)
		})
	}
}

// applyResult settles a running tool with a result and merges any server
// permission data it carries.
func applyResult(tool *toolCall, tr *wire.ToolResultContent, at int64) {
	if tr.IsError {
		tool.state = ToolError
	} else {
		tool.state = ToolCompleted
	}
	tool.result = tr.Content
	tool.completedAt = at

	if tr.Permissions == nil {
		return
	}
	perm := tool.permission.Clone()
	if perm == nil {
		perm = &wire.StoredPermission{ID: tr.ToolUseID, Tool: tool.name}
	}
	if tr.Permissions.Status != "" {
		perm.Status = tr.Permissions.Status
	}
	if tr.Permissions.Mode != "" {
		perm.Mode = tr.Permissions.Mode
	}
	if len(tr.Permissions.AllowedTools) > 0 {
		perm.AllowedTools = tr.Permissions.AllowedTools
	}
	// Decision provenance from the snapshot must survive a less-detailed
	// server result.
	if tr.Permissions.Decision != "" {
		perm.Decision = tr.Permissions.Decision
	}
	perm.Date = tr.Permissions.Date
	if perm.Date == 0 {
		perm.Date = at
	}
	tool.permission = perm
}

// =========================================================================
// Phase 4 — sidechains
// =========================================================================

func (r *reduction) applySidechains() {
	parents := make(map[string]bool)

	for i, a := range r.batch {
		if r.consumed[i] || a.sidechainID == "" {
			continue
		}
		r.consumed[i] = true
		if r.applySidechainMessage(a.msg, a.sidechainID) {
			parents[a.sidechainID] = true
		}
	}

	// The owning delegation call re-renders with its larger child list.
	for parent := range parents {
		if m, ok := r.s.toolMessage(r.s.toolIndex, parent); ok {
			r.mutate(m, func(*message) {})
		}
	}
}

func (r *reduction) applySidechainMessage(msg wire.NormalizedMessage, parent string) bool {
	switch msg.Content.Type {
	case wire.ContentSidechain:
		if r.seenWireID(msg.ID, "") {
			return false
		}
		// The root becomes a synthetic user message carrying the delegation
		// prompt.
		m := &message{
			id:          r.s.newID(),
			realID:      msg.ID,
			createdAt:   msg.CreatedAt,
			role:        wire.RoleUser,
			kind:        KindText,
			text:        msg.Content.Sidechain.Prompt,
			sidechainID: parent,
		}
		r.s.wireIndex.Set(msg.ID, m.id)
		r.appendSidechain(parent, m)
		return true

	case wire.ContentText:
		if r.seenWireID(msg.ID, "") {
			return false
		}
		m := &message{
			id:          r.s.newID(),
			realID:      msg.ID,
			createdAt:   msg.CreatedAt,
			role:        msg.Role,
			kind:        KindText,
			text:        msg.Content.Text,
			meta:        msg.Meta,
			sidechainID: parent,
		}
		r.s.wireIndex.Set(msg.ID, m.id)
		r.appendSidechain(parent, m)
		return true

	case wire.ContentToolCall:
		if r.seenWireID(msg.ID, "") {
			return false
		}
		return r.applySidechainToolCall(msg, parent)

	case wire.ContentToolResult:
		if r.seenWireID(msg.ID, "") {
			return false
		}
		return r.applySidechainToolResult(msg)
	}
	return false
}

func (r *reduction) applySidechainToolCall(msg wire.NormalizedMessage, parent string) bool {
	tc := msg.Content.ToolCall

	if m, ok := r.s.toolMessage(r.s.sidechainToolIndex, tc.ID); ok {
		r.mutate(m, func(cp *message) {
			cp.tool.description = tc.Description
			cp.tool.startedAt = msg.CreatedAt
		})
		return true
	}

	m := &message{
		id:          r.s.newID(),
		realID:      tc.ID,
		createdAt:   msg.CreatedAt,
		role:        wire.RoleAgent,
		kind:        KindTool,
		meta:        msg.Meta,
		sidechainID: parent,
		tool: &toolCall{
			name:        tc.Name,
			state:       ToolRunning,
			input:       tc.Input,
			createdAt:   msg.CreatedAt,
			startedAt:   msg.CreatedAt,
			description: tc.Description,
		},
	}

	// A permission granted once is visible in both views: copy it from the
	// main index, and nudge the idle main-index tool into running since its
	// sidechain execution has evidently begun.
	if main, ok := r.s.toolMessage(r.s.toolIndex, tc.ID); ok && main.tool.permission != nil {
		m.tool.permission = main.tool.permission.Clone()
		if main.tool.state == ToolCompleted && main.tool.result == nil {
			r.mutate(main, func(cp *message) {
				cp.tool.state = ToolRunning
				cp.tool.completedAt = 0
			})
		}
	}

	r.s.sidechainToolIndex.Set(tc.ID, m.id)
	r.appendSidechain(parent, m)
	return true
}

// applySidechainToolResult settles both the sidechain-local copy and the
// main-index copy of the same tool, keeping the two views independently
// consistent.
func (r *reduction) applySidechainToolResult(msg wire.NormalizedMessage) bool {
	tr := msg.Content.ToolResult
	touched := false

	if m, ok := r.s.toolMessage(r.s.sidechainToolIndex, tr.ToolUseID); ok && m.tool.state == ToolRunning {
		r.mutate(m, func(cp *message) {
			applyResult(cp.tool, tr, msg.CreatedAt)
		})
		touched = true
	}
	if m, ok := r.s.toolMessage(r.s.toolIndex, tr.ToolUseID); ok && m.tool.state == ToolRunning {
		r.mutate(m, func(cp *message) {
			applyResult(cp.tool, tr, msg.CreatedAt)
		})
		touched = true
	}
	return touched
}

// appendSidechain stores m and appends it to its parent's ordered child list.
func (r *reduction) appendSidechain(parent string, m *message) {
	children, _ := r.s.sidechains.Get(parent)
	r.s.sidechains.Set(parent, append(children, m.id))
	r.touch(m)
}

// =========================================================================
// Phase 5 — remaining events
// =========================================================================

func (r *reduction) applyEvents() {
	for i, a := range r.batch {
		if r.consumed[i] || a.sidechainID != "" {
			continue
		}
		msg := a.msg
		if msg.Role != wire.RoleEvent || msg.Content.Type != wire.ContentEvent {
			continue
		}
		r.consumed[i] = true
		if r.seenWireID(msg.ID, "") {
			continue
		}
		ev := msg.Content.Event

		kind := EventBodyMessage
		switch ev.Kind {
		case wire.EventSwitchMode:
			kind = EventBodySwitchMode
		case wire.EventLimitReached:
			kind = EventBodyLimitReached
		}

		m := &message{
			id:        r.s.newID(),
			realID:    msg.ID,
			createdAt: msg.CreatedAt,
			role:      wire.RoleEvent,
			kind:      KindEvent,
			meta:      msg.Meta,
			event: &eventBody{
				kind:   kind,
				mode:   ev.Mode,
				text:   ev.Text,
				endsAt: ev.EndsAt,
			},
		}
		r.s.wireIndex.Set(msg.ID, m.id)
		r.touch(m)
	}
}

// =========================================================================
// Result assembly
// =========================================================================

func (r *reduction) assemble() Result {
	res := r.result
	for _, id := range r.order {
		m, ok := r.s.messages.Peek(id)
		if !ok {
			continue // evicted within this very call; nothing to report
		}
		view := m.view()
		if m.kind == KindTool && m.sidechainID == "" {
			view.Children = r.sidechainViews(m.realID)
		}
		res.Messages = append(res.Messages, view)
	}
	return res
}

func (r *reduction) sidechainViews(parent string) []Message {
	ids, ok := r.s.sidechains.Peek(parent)
	if !ok {
		return nil
	}
	views := make([]Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.s.messages.Peek(id); ok {
			views = append(views, m.view())
		}
	}
	return views
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
