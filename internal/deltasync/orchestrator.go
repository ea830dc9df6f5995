package deltasync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

// Outcome is the terminal state of one reconnection sync attempt.
type Outcome string

const (
	// OutcomeDelta means the incremental catch-up was applied and trusted.
	OutcomeDelta Outcome = "delta"
	// OutcomeFull means a full resync was triggered instead of (or on top
	// of) the incremental catch-up.
	OutcomeFull Outcome = "full"
)

// FallbackReason explains why a sync attempt ended in OutcomeFull.
type FallbackReason string

const (
	ReasonFreshConnection FallbackReason = "fresh_connection"
	ReasonTimeout         FallbackReason = "timeout"
	ReasonNetworkError    FallbackReason = "network_error"
	ReasonErrorResponse   FallbackReason = "error_response"
	ReasonSessionsLimit   FallbackReason = "sessions_limit"
	ReasonMachinesLimit   FallbackReason = "machines_limit"
	ReasonArtifactsLimit  FallbackReason = "artifacts_limit"
)

// Per-category caps on how many pending updates a delta response may report
// before the incremental payload is considered too large to trust and a full
// resync is preferred.
const (
	SessionsLimit  = 100
	MachinesLimit  = 50
	ArtifactsLimit = 100
)

// RequestTimeout bounds the acked request-updates-since round trip.
const RequestTimeout = 10 * time.Second

// Auxiliary sync channels that have no delta mechanism and are refreshed from
// scratch after every successful delta outcome.
var auxiliaryChannels = []string{"friends", "friend-requests", "feed", "git-status"}

// RequestFunc issues the acked "request-updates-since" round trip. The
// context carries the request timeout.
type RequestFunc func(ctx context.Context, req wire.UpdatesSinceRequest) (*wire.UpdatesSinceResponse, error)

// UpdateHandler applies a single server update. It must tolerate update types
// it does not recognize without returning an error.
type UpdateHandler func(ctx context.Context, update wire.UpdateEvent) error

// Result summarizes one sync attempt.
type Result struct {
	Outcome        Outcome
	FallbackReason FallbackReason // empty for OutcomeDelta
	// UpdatesProcessed counts updates replayed through the handler. Partial
	// replay is preserved even when a later phase forces a full resync.
	UpdatesProcessed int
}

// Orchestrator decides between incremental and full resynchronization on
// reconnect. It never touches storage itself: replay and invalidation both go
// through externally supplied callbacks.
type Orchestrator struct {
	request      RequestFunc
	handleUpdate UpdateHandler
	fullResync   func()
	refreshAux   func(channel string)
	timeout      time.Duration
	logger       *slog.Logger
}

// Config carries the orchestrator's collaborators. Request, HandleUpdate and
// FullResync are required; RefreshAux and Logger are optional.
type Config struct {
	Request      RequestFunc
	HandleUpdate UpdateHandler
	FullResync   func()
	RefreshAux   func(channel string)
	// Timeout overrides RequestTimeout; zero keeps the default.
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates an orchestrator. It panics if a required collaborator is
// missing: that is a programmer contract violation, not a runtime condition.
func New(cfg Config) *Orchestrator {
	if cfg.Request == nil || cfg.HandleUpdate == nil || cfg.FullResync == nil {
		panic("deltasync: Request, HandleUpdate and FullResync are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = RequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		request:      cfg.Request,
		handleUpdate: cfg.HandleUpdate,
		fullResync:   cfg.FullResync,
		refreshAux:   cfg.RefreshAux,
		timeout:      timeout,
		logger:       logger,
	}
}

// Run performs one reconnection sync attempt against the last-known sequence
// numbers in seqs. Transport failures never surface as errors; they downgrade
// the attempt to a full resync with an observable fallback reason.
func (o *Orchestrator) Run(ctx context.Context, seqs SeqMap) Result {
	req := wire.UpdatesSinceRequest{
		Sessions:  LastKnownSeq(seqs, EntitySessions),
		Machines:  LastKnownSeq(seqs, EntityMachines),
		Artifacts: LastKnownSeq(seqs, EntityArtifacts),
	}

	// Nothing seen yet: a delta request would return everything anyway, so
	// skip the round trip entirely.
	if req.Sessions == 0 && req.Machines == 0 && req.Artifacts == 0 {
		return o.full(ReasonFreshConnection, 0)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.request(reqCtx, req)
	if err != nil {
		reason := ReasonNetworkError
		if isTimeout(err) {
			reason = ReasonTimeout
		}
		o.logger.Warn("delta sync request failed", "reason", reason, "error", err)
		return o.full(reason, 0)
	}
	if !resp.Success {
		o.logger.Warn("delta sync rejected by server", "error", resp.Error)
		return o.full(ReasonErrorResponse, 0)
	}

	// Replay in the order returned; that order encodes the server's causal
	// sequencing. Replay is preserved even if the counts below force a full
	// resync on top of it.
	processed := 0
	for _, update := range resp.Updates {
		if err := o.handleUpdate(ctx, update); err != nil {
			o.logger.Warn("update handler failed, continuing",
				"type", update.Type, "seq", update.Seq, "error", err)
		}
		processed++
	}

	if resp.Counts != nil {
		switch {
		case resp.Counts.Sessions >= SessionsLimit:
			return o.full(ReasonSessionsLimit, processed)
		case resp.Counts.Machines >= MachinesLimit:
			return o.full(ReasonMachinesLimit, processed)
		case resp.Counts.Artifacts >= ArtifactsLimit:
			return o.full(ReasonArtifactsLimit, processed)
		}
	}

	// Delta succeeded; the auxiliary channels have no incremental mechanism
	// and are refreshed from scratch.
	if o.refreshAux != nil {
		for _, ch := range auxiliaryChannels {
			o.refreshAux(ch)
		}
	}

	o.logger.Debug("delta sync applied", "updates", processed)
	return Result{Outcome: OutcomeDelta, UpdatesProcessed: processed}
}

func (o *Orchestrator) full(reason FallbackReason, processed int) Result {
	o.logger.Info("falling back to full resync", "reason", reason, "updates_processed", processed)
	o.fullResync()
	return Result{Outcome: OutcomeFull, FallbackReason: reason, UpdatesProcessed: processed}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
