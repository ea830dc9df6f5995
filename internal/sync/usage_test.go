package sync

import (
	"fmt"
	"testing"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

func usageMsg(id string, at int64, input int) wire.NormalizedMessage {
	m := agentText(id, "text "+id, at)
	m.Usage = &wire.TokenUsage{InputTokens: input}
	return m
}

func TestUsage_Aggregate(t *testing.T) {
	s := newTestState()
	m := usageMsg("m1", 1000, 4000)
	m.Usage.CacheCreationInputTokens = 500
	m.Usage.CacheReadInputTokens = 250
	m.Usage.OutputTokens = 90
	res := s.Reduce([]wire.NormalizedMessage{m}, nil)

	if res.Usage == nil {
		t.Fatal("result carries no usage")
	}
	if got, want := res.Usage.ContextSize, 4750; got != want {
		t.Errorf("contextSize = %d, want %d", got, want)
	}
	if res.Usage.OutputTokens != 90 || res.Usage.UpdatedAt != 1000 {
		t.Errorf("aggregate = %+v", res.Usage)
	}
}

func TestUsage_OlderReportDropped(t *testing.T) {
	s := newTestState()
	s.Reduce([]wire.NormalizedMessage{usageMsg("m1", 2000, 6000)}, nil)

	res := s.Reduce([]wire.NormalizedMessage{usageMsg("m2", 1000, 1)}, nil)
	if res.Usage != nil {
		t.Errorf("out-of-order report changed usage: %+v", res.Usage)
	}
	if s.Usage().ContextSize != 6000 || s.Usage().UpdatedAt != 2000 {
		t.Errorf("aggregate regressed: %+v", s.Usage())
	}
}

func TestUsage_HistorySkipsSmallDeltas(t *testing.T) {
	s := newTestState()
	s.Reduce([]wire.NormalizedMessage{usageMsg("m1", 1000, 5000)}, nil)
	s.Reduce([]wire.NormalizedMessage{usageMsg("m2", 2000, 5400)}, nil)

	if got := len(s.UsageHistory()); got != 1 {
		t.Fatalf("history has %d points after a sub-threshold change, want 1", got)
	}

	s.Reduce([]wire.NormalizedMessage{usageMsg("m3", 3000, 7000)}, nil)
	hist := s.UsageHistory()
	if len(hist) != 2 || hist[1].ContextSize != 7000 {
		t.Errorf("history = %+v, want a second point at 7000", hist)
	}
}

func TestUsage_HistoryRingBounded(t *testing.T) {
	s := newTestState()
	for i := 0; i < usageHistoryMax+10; i++ {
		msg := usageMsg(fmt.Sprintf("m%d", i), int64(1000+i), (i+1)*usageHistoryMinDelta)
		s.Reduce([]wire.NormalizedMessage{msg}, nil)
	}

	hist := s.UsageHistory()
	if len(hist) != usageHistoryMax {
		t.Fatalf("history has %d points, want %d", len(hist), usageHistoryMax)
	}
	// Oldest points dropped first.
	if hist[0].Timestamp != int64(1000+10) {
		t.Errorf("oldest surviving point at %d, want %d", hist[0].Timestamp, 1000+10)
	}
	if last := hist[len(hist)-1]; last.ContextSize != (usageHistoryMax+10)*usageHistoryMinDelta {
		t.Errorf("newest point = %+v", last)
	}
}
