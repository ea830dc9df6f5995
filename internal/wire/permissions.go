package wire

// PermissionStatus is the lifecycle state of a tool permission request.
// Transitions are monotonic in practice (pending reaches exactly one of the
// terminal states) but consumers must tolerate replays of earlier states.
type PermissionStatus string

const (
	PermissionPending  PermissionStatus = "pending"
	PermissionApproved PermissionStatus = "approved"
	PermissionDenied   PermissionStatus = "denied"
	PermissionCanceled PermissionStatus = "canceled"
)

// PermissionRequest is a pending entry of the agent permission state: a tool
// invocation awaiting a user or policy decision. The request id shares the
// tool-call id namespace, which is what lets the reducer merge the request
// with the eventual tool call without a secondary join.
type PermissionRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// CompletedPermissionRequest is a resolved entry of the agent permission
// state.
type CompletedPermissionRequest struct {
	Tool         string           `json:"tool"`
	Arguments    map[string]any   `json:"arguments,omitempty"`
	CreatedAt    int64            `json:"createdAt"`
	CompletedAt  int64            `json:"completedAt"`
	Status       PermissionStatus `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	Mode         string           `json:"mode,omitempty"`
	AllowedTools []string         `json:"allowedTools,omitempty"`
	Decision     string           `json:"decision,omitempty"`
}

// AgentState is the server-authoritative permission snapshot delivered
// alongside message batches. The same id may appear in both maps; the
// completed entry wins.
type AgentState struct {
	Requests          map[string]PermissionRequest          `json:"requests,omitempty"`
	CompletedRequests map[string]CompletedPermissionRequest `json:"completedRequests,omitempty"`
}

// PermissionUpdate is the permission data a server-confirmed tool result may
// carry. Date is the server confirmation timestamp (ms since epoch); it is
// only ever set by tool results, which is how snapshot-derived permission
// records are told apart from result-confirmed ones.
type PermissionUpdate struct {
	Status       PermissionStatus `json:"status,omitempty"`
	Mode         string           `json:"mode,omitempty"`
	AllowedTools []string         `json:"allowedTools,omitempty"`
	Decision     string           `json:"decision,omitempty"`
	Date         int64            `json:"date,omitempty"`
}

// StoredPermission is the reducer's canonical permission record for one tool
// id, merged from snapshot entries and tool-result permission data.
type StoredPermission struct {
	ID           string           `json:"id"`
	Tool         string           `json:"tool"`
	Arguments    map[string]any   `json:"arguments,omitempty"`
	CreatedAt    int64            `json:"createdAt"`
	CompletedAt  int64            `json:"completedAt,omitempty"`
	Status       PermissionStatus `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	Mode         string           `json:"mode,omitempty"`
	AllowedTools []string         `json:"allowedTools,omitempty"`
	Decision     string           `json:"decision,omitempty"`
	// Date is non-zero only once a server-confirmed tool result has been
	// merged in; snapshot data never sets it.
	Date int64 `json:"date,omitempty"`
}

// Clone returns a copy safe to mutate independently of the original.
func (p *StoredPermission) Clone() *StoredPermission {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Arguments != nil {
		cp.Arguments = make(map[string]any, len(p.Arguments))
		for k, v := range p.Arguments {
			cp.Arguments[k] = v
		}
	}
	if p.AllowedTools != nil {
		cp.AllowedTools = append([]string(nil), p.AllowedTools...)
	}
	return &cp
}
