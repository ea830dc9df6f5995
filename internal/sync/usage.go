package sync

import "github.com/Enflame-Media/happy-sub000/internal/wire"

// applyUsage folds one token-usage report into the aggregate. Reports older
// than (or as old as) the current aggregate are dropped, which keeps replays
// of the same message idempotent.
func (r *reduction) applyUsage(u wire.TokenUsage, at int64) {
	cur := r.s.usage
	if cur != nil && at <= cur.UpdatedAt {
		return
	}

	next := &Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
		ContextSize:              u.ContextSize(),
		UpdatedAt:                at,
	}
	r.s.usage = next
	r.result.Usage = next
	r.recordUsagePoint(next.ContextSize, at)
}

// recordUsagePoint appends a history point if this is the first point ever or
// the context size moved by at least the minimum delta.
func (r *reduction) recordUsagePoint(contextSize int, at int64) {
	hist := r.s.usageHistory
	if len(hist) > 0 {
		delta := contextSize - hist[len(hist)-1].ContextSize
		if delta < 0 {
			delta = -delta
		}
		if delta < usageHistoryMinDelta {
			return
		}
	}
	hist = append(hist, UsagePoint{Timestamp: at, ContextSize: contextSize})
	if len(hist) > usageHistoryMax {
		hist = hist[len(hist)-usageHistoryMax:]
	}
	r.s.usageHistory = hist
}

// resetUsage zeroes the usage aggregate at the given event timestamp. A
// context reset clears the history outright; a compaction keeps it and
// records one zero-value point to visualize the drop.
func (r *reduction) resetUsage(at int64, keepHistory bool) {
	next := &Usage{UpdatedAt: at}
	r.s.usage = next
	r.result.Usage = next
	if keepHistory {
		hist := append(r.s.usageHistory, UsagePoint{Timestamp: at})
		if len(hist) > usageHistoryMax {
			hist = hist[len(hist)-usageHistoryMax:]
		}
		r.s.usageHistory = hist
	} else {
		r.s.usageHistory = nil
	}
}
