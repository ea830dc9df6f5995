package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Enflame-Media/happy-sub000/internal/config"
	"github.com/Enflame-Media/happy-sub000/internal/cursor"
	"github.com/Enflame-Media/happy-sub000/internal/deltasync"
	"github.com/Enflame-Media/happy-sub000/internal/logging"
	"github.com/Enflame-Media/happy-sub000/internal/socket"
	msgsync "github.com/Enflame-Media/happy-sub000/internal/sync"
	"github.com/Enflame-Media/happy-sub000/internal/syncstate"
	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session, keeping the local view in sync",
	Long: `Watch connects to the session server and follows one session: pushed
message batches are folded through the reducer, and every reconnect performs
an incremental catch-up (falling back to a full resync when the gap is too
large or the server cannot be reached).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// newMessagePayload is the data of a "new-message" update.
type newMessagePayload struct {
	SessionID  string                 `json:"sid"`
	Message    wire.NormalizedMessage `json:"message"`
	AgentState *wire.AgentState       `json:"agentState,omitempty"`
}

// watcher wires the transport, the reducer coordinator and the delta sync
// orchestrator together for one session.
type watcher struct {
	sessionID string
	store     *syncstate.Store
	coord     *msgsync.Coordinator
	client    *socket.Client
	orch      *deltasync.Orchestrator
	logger    *slog.Logger
	storeLog  *slog.Logger

	// mu guards the position fields below: live pushes arrive on the socket
	// read pump while reconnect catch-up runs on its own goroutine.
	mu          sync.Mutex
	seqs        deltasync.SeqMap
	sessionSeqs map[string]int64 // session id -> last message seq
	feedCursor  string
}

func runWatch(ctx context.Context, sessionID string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.WithSession(logging.Sync(), sessionID)

	store, err := syncstate.NewStore(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open sync state: %w", err)
	}

	// Warm start: a valid persisted record seeds the incremental catch-up.
	seqs := deltasync.SeqMap{}
	sessionSeqs := map[string]int64{}
	feedCursor := ""
	if rec, ok := store.Load(time.Now()); ok {
		seqs[deltasync.EntitySessions] = rec.EntitySeq.Sessions
		seqs[deltasync.EntityMachines] = rec.EntitySeq.Machines
		seqs[deltasync.EntityArtifacts] = rec.EntitySeq.Artifacts
		for sid, seq := range rec.SessionLastSeq {
			sessionSeqs[sid] = seq
		}
		feedCursor = rec.FeedCursor
		logger.Info("resuming from persisted sync state",
			"sessions_seq", rec.EntitySeq.Sessions,
			"machines_seq", rec.EntitySeq.Machines,
			"artifacts_seq", rec.EntitySeq.Artifacts)
	}

	state := msgsync.NewState(msgsync.Options{
		IndexCapacity:     cfg.Sync.IndexCapacity,
		StoreCapacity:     cfg.Sync.StoreCapacity,
		SidechainCapacity: cfg.Sync.SidechainCapacity,
		Logger:            logger,
	})

	w := &watcher{
		sessionID:   sessionID,
		store:       store,
		logger:      logger,
		storeLog:    logging.Store(),
		seqs:        seqs,
		sessionSeqs: sessionSeqs,
		feedCursor:  feedCursor,
	}

	w.coord = msgsync.NewCoordinator(ctx, state, w.report)
	defer w.coord.Close()

	client, err := socket.New(socket.Config{
		URL:    cfg.Server.URL,
		Token:  cfg.Server.Token,
		Logger: logging.Socket(),
		Callbacks: socket.Callbacks{
			OnUpdate:    func(u wire.UpdateEvent) { w.applyUpdate(ctx, u) },
			OnEphemeral: w.applyEphemeral,
			OnConnected: func() { go w.catchUp(ctx) },
		},
	})
	if err != nil {
		return fmt.Errorf("create socket client: %w", err)
	}
	w.client = client
	defer client.Close()

	w.orch = deltasync.New(deltasync.Config{
		Request:      client.UpdatesSince,
		HandleUpdate: w.handleUpdate,
		FullResync:   w.fullResync,
		RefreshAux:   w.refreshAux,
		Logger:       logging.Delta(),
	})

	// Live reload of the console log level while watching.
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	if cw, err := config.NewWatcher(cfgPath, logging.ConfigLogger(), func(c *config.Config) {
		logging.SetLevel(c.Log.Level)
	}); err == nil {
		defer cw.Close()
	} else {
		logger.Debug("config watch unavailable", "err", err)
	}

	err = client.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("watch stopped")
		return w.saveState()
	}
	return err
}

// catchUp runs one reconnect sync attempt and persists the resulting
// position.
func (w *watcher) catchUp(ctx context.Context) {
	w.mu.Lock()
	snapshot := deltasync.SeqMap{}
	for k, v := range w.seqs {
		snapshot[k] = v
	}
	w.mu.Unlock()

	res := w.orch.Run(ctx, snapshot)
	w.logger.Info("reconnect sync finished",
		"outcome", res.Outcome,
		"reason", res.FallbackReason,
		"updates", res.UpdatesProcessed)

	if err := w.saveState(); err != nil {
		w.storeLog.Warn("persist sync state failed", "err", err)
	}
}

// applyUpdate processes one live pushed update.
func (w *watcher) applyUpdate(ctx context.Context, update wire.UpdateEvent) {
	if err := w.handleUpdate(ctx, update); err != nil {
		w.logger.Warn("update dropped", "type", update.Type, "err", err)
	}
}

// handleUpdate tracks the update's sequence number and routes new messages
// for the watched session into the reducer. Unknown update types are
// tolerated; they still advance their category's sequence.
func (w *watcher) handleUpdate(_ context.Context, update wire.UpdateEvent) error {
	if et, ok := deltasync.EntityTypeFromUpdate(update.Type); ok {
		w.mu.Lock()
		deltasync.TrackSeq(w.seqs, et, update.Seq)
		w.mu.Unlock()
	}

	if update.Type != "new-message" {
		return nil
	}
	var payload newMessagePayload
	if err := json.Unmarshal(update.Data, &payload); err != nil {
		return fmt.Errorf("decode message update: %w", err)
	}
	if payload.SessionID != "" {
		w.mu.Lock()
		if update.Seq > w.sessionSeqs[payload.SessionID] {
			w.sessionSeqs[payload.SessionID] = update.Seq
		}
		w.mu.Unlock()
	}
	if payload.SessionID != w.sessionID {
		return nil
	}
	w.coord.Submit([]wire.NormalizedMessage{payload.Message}, payload.AgentState)
	return nil
}

// fullResync discards the persisted position so the next attempt starts from
// scratch, then asks the server for the current session snapshot.
func (w *watcher) fullResync() {
	w.mu.Lock()
	w.seqs = deltasync.SeqMap{}
	w.sessionSeqs = map[string]int64{}
	w.feedCursor = ""
	w.mu.Unlock()
	if err := w.store.Clear(); err != nil {
		w.storeLog.Warn("clear sync state failed", "err", err)
	}
	w.client.Send("request-session-snapshot", map[string]string{"sid": w.sessionID})
}

// applyEphemeral tracks the feed pagination cursor carried by ephemeral feed
// events; everything else is presence noise with no local state.
func (w *watcher) applyEphemeral(data json.RawMessage) {
	var ev struct {
		Channel string `json:"channel"`
		Cursor  string `json:"cursor"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.Channel != "feed" {
		return
	}
	if !cursor.IsValid(ev.Cursor) {
		return
	}
	w.mu.Lock()
	if cursor.Compare(ev.Cursor, w.feedCursor) > 0 {
		w.feedCursor = ev.Cursor
	}
	w.mu.Unlock()
}

func (w *watcher) refreshAux(channel string) {
	payload := map[string]string{"channel": channel}
	if channel == "feed" {
		w.mu.Lock()
		cur := w.feedCursor
		w.mu.Unlock()
		// An invalid or absent cursor means "first page".
		if cursor.IsValid(cur) {
			payload["cursor"] = cur
		}
	}
	w.client.Send("refresh-channel", payload)
}

// report logs one reduce outcome: the changed messages and any aggregate
// movement.
func (w *watcher) report(res msgsync.Result) {
	for _, m := range res.Messages {
		attrs := []any{"kind", m.Kind, "role", m.Role, "real_id", m.RealID}
		if m.Tool != nil {
			attrs = append(attrs, "tool", m.Tool.Name, "state", m.Tool.State)
		}
		w.logger.Info("message changed", attrs...)
	}
	if res.TodosChanged {
		w.logger.Info("todos changed", "count", len(res.Todos))
	}
	if res.Usage != nil {
		w.logger.Info("usage changed", "context_size", res.Usage.ContextSize)
	}
	if res.HasReadyEvent {
		w.logger.Info("agent ready")
	}
}

// saveState persists the current sequence position.
func (w *watcher) saveState() error {
	w.mu.Lock()
	sessionSeqs := make(map[string]int64, len(w.sessionSeqs))
	for sid, seq := range w.sessionSeqs {
		sessionSeqs[sid] = seq
	}
	rec := syncstate.Record{
		SessionLastSeq: sessionSeqs,
		FeedCursor:     w.feedCursor,
		EntitySeq: syncstate.EntitySeq{
			Sessions:  w.seqs[deltasync.EntitySessions],
			Machines:  w.seqs[deltasync.EntityMachines],
			Artifacts: w.seqs[deltasync.EntityArtifacts],
		},
	}
	w.mu.Unlock()
	return w.store.Save(rec, time.Now())
}
