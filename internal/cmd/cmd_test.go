package cmd

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Enflame-Media/happy-sub000/internal/deltasync"
	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"watch": false, "status": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestHandleUpdate_TracksPerSessionSeq(t *testing.T) {
	w := &watcher{
		sessionID:   "watched",
		seqs:        deltasync.SeqMap{},
		sessionSeqs: map[string]int64{},
	}

	push := func(sid string, seq int64) {
		t.Helper()
		data, _ := json.Marshal(newMessagePayload{SessionID: sid})
		err := w.handleUpdate(context.Background(), wire.UpdateEvent{Type: "new-message", Seq: seq, Data: data})
		if err != nil {
			t.Fatalf("handleUpdate: %v", err)
		}
	}

	push("s1", 5)
	push("s2", 9)
	push("s1", 3) // older than the recorded position, ignored

	if w.sessionSeqs["s1"] != 5 || w.sessionSeqs["s2"] != 9 {
		t.Errorf("sessionSeqs = %v, want s1=5 s2=9", w.sessionSeqs)
	}
	if got := deltasync.LastKnownSeq(w.seqs, deltasync.EntitySessions); got != 9 {
		t.Errorf("sessions entity seq = %d, want 9", got)
	}
}

func TestWatchRequiresSessionArg(t *testing.T) {
	rootCmd.SetArgs([]string{"watch"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("watch with no session id should fail")
	}
}
