// Package sync implements the real-time message synchronization engine: a
// deterministic fold from batches of normalized wire messages plus the agent
// permission snapshot into an ordered, deduplicated, UI-ready message
// history. The fold is idempotent under at-least-once delivery, converges
// regardless of arrival order between a tool's permission request, its
// execution and its result, and keeps memory bounded over arbitrarily
// long-lived sessions through LRU-bounded lookup indexes.
package sync

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Enflame-Media/happy-sub000/internal/lru"
	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

// Default index capacities. The indexes are systems of record with eviction:
// evicting an index pointer only makes a message unreachable by that index,
// it never deletes it from the store.
const (
	defaultIndexCapacity = 2048
	defaultStoreCapacity = 8192
	defaultSidechainCap  = 256
)

// Usage is the latest token-usage aggregate for the session.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	// ContextSize = input + cache creation + cache read tokens.
	ContextSize int
	// UpdatedAt is the timestamp (ms) of the usage report that produced this
	// aggregate; older reports are dropped.
	UpdatedAt int64
}

// UsagePoint is one entry of the bounded usage history ring.
type UsagePoint struct {
	Timestamp   int64
	ContextSize int
}

const (
	// usageHistoryMax caps the history ring; oldest points drop first.
	usageHistoryMax = 50
	// usageHistoryMinDelta is the minimum absolute context-size change that
	// warrants a new history point, bounding growth to meaningful deltas.
	usageHistoryMinDelta = 1000
)

// Options tunes a State. The zero value selects defaults.
type Options struct {
	// IndexCapacity bounds each lookup index (tool, sidechain-tool,
	// permission, local-id, wire-id).
	IndexCapacity int
	// StoreCapacity bounds the message store itself.
	StoreCapacity int
	// SidechainCapacity bounds the number of tracked sidechain parents.
	SidechainCapacity int
	Logger            *slog.Logger
}

// State is the reducer's session-scoped state. One State exists per active
// session, owned exclusively by that session's sync coordinator; concurrent
// Reduce calls on the same State must be serialized by the caller.
type State struct {
	// messages is the canonical store: internal id -> message.
	messages *lru.Cache[string, *message]

	// toolIndex maps a tool-call id to the internal id of its message on the
	// main thread. sidechainToolIndex is deliberately separate so a tool
	// executing both in the main thread and inside a sidechain does not
	// collide.
	toolIndex          *lru.Cache[string, string]
	sidechainToolIndex *lru.Cache[string, string]

	// permissions caches completed permission requests by tool id for later
	// tool-call synthesis.
	permissions *lru.Cache[string, *wire.StoredPermission]

	// localIndex and wireIndex make message dedup permanent for the lifetime
	// of the cache entry: each local id and wire id is consumed at most once.
	localIndex *lru.Cache[string, string]
	wireIndex  *lru.Cache[string, string]

	// sidechains holds, per owning delegation call realID, the ordered
	// internal ids of that sidechain's messages.
	sidechains *lru.Cache[string, []string]

	tracer *tracer

	todos          []wire.Todo
	todosUpdatedAt int64

	usage        *Usage
	usageHistory []UsagePoint

	logger *slog.Logger
}

// NewState creates an empty reducer state.
func NewState(opts Options) *State {
	idxCap := opts.IndexCapacity
	if idxCap <= 0 {
		idxCap = defaultIndexCapacity
	}
	storeCap := opts.StoreCapacity
	if storeCap <= 0 {
		storeCap = defaultStoreCapacity
	}
	scCap := opts.SidechainCapacity
	if scCap <= 0 {
		scCap = defaultSidechainCap
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &State{
		messages:           lru.New[string, *message](storeCap),
		toolIndex:          lru.New[string, string](idxCap),
		sidechainToolIndex: lru.New[string, string](idxCap),
		permissions:        lru.New[string, *wire.StoredPermission](idxCap),
		localIndex:         lru.New[string, string](idxCap),
		wireIndex:          lru.New[string, string](idxCap),
		sidechains:         lru.New[string, []string](scCap),
		tracer:             newTracer(idxCap),
		logger:             logger,
	}
}

// newID returns a reducer-internal message id. Uniqueness within one State's
// lifetime is the only requirement.
func (s *State) newID() string {
	return uuid.NewString()
}

// Todos returns the latest todo snapshot.
func (s *State) Todos() []wire.Todo {
	return s.todos
}

// Usage returns the latest usage aggregate, or nil before the first report.
func (s *State) Usage() *Usage {
	return s.usage
}

// UsageHistory returns the bounded context-size history, oldest first.
func (s *State) UsageHistory() []UsagePoint {
	return s.usageHistory
}

// lookupByRealID finds the main-thread message whose realID equals realID:
// first through the bounded wire index, then by a scan of the store for
// messages whose index pointer was evicted.
func (s *State) lookupByRealID(realID string) (*message, bool) {
	if internal, ok := s.wireIndex.Get(realID); ok {
		if m, ok := s.messages.Peek(internal); ok && m.sidechainID == "" {
			return m, true
		}
	}
	var found *message
	s.messages.Range(func(_ string, m *message) bool {
		if m.realID == realID && m.sidechainID == "" {
			found = m
			return false
		}
		return true
	})
	return found, found != nil
}

// store inserts or replaces a message in the canonical store.
func (s *State) store(m *message) {
	s.messages.Set(m.id, m)
}

// toolMessage resolves a tool id through the given index into the store. For
// the main tool index, an evicted index pointer falls back to a store scan:
// the store outlives its index pointers, and a recovered message re-seeds the
// index.
func (s *State) toolMessage(index *lru.Cache[string, string], toolID string) (*message, bool) {
	if internal, ok := index.Get(toolID); ok {
		return s.messages.Get(internal)
	}
	if index != s.toolIndex {
		return nil, false
	}
	m, ok := s.lookupByRealID(toolID)
	if !ok || m.kind != KindTool {
		return nil, false
	}
	index.Set(toolID, m.id)
	return m, true
}
