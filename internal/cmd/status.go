package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Enflame-Media/happy-sub000/internal/syncstate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted sync position",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := syncstate.NewStore(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("open sync state: %w", err)
		}

		rec, ok := store.Load(time.Now())
		if !ok {
			fmt.Println("no usable sync state; next connection will perform a full resync")
			return nil
		}

		fmt.Printf("state file:    %s\n", cfg.StatePath)
		fmt.Printf("written:       %s\n", time.UnixMilli(rec.Timestamp).Format(time.RFC3339))
		fmt.Printf("sessions seq:  %d\n", rec.EntitySeq.Sessions)
		fmt.Printf("machines seq:  %d\n", rec.EntitySeq.Machines)
		fmt.Printf("artifacts seq: %d\n", rec.EntitySeq.Artifacts)
		if rec.ProfileETag != "" {
			fmt.Printf("profile etag:  %s\n", rec.ProfileETag)
		}
		if rec.FeedCursor != "" {
			fmt.Printf("feed cursor:   %s\n", rec.FeedCursor)
		}
		for _, sid := range sortedSeqKeys(rec.SessionLastSeq) {
			fmt.Printf("session %s: last message seq %d\n", sid, rec.SessionLastSeq[sid])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func sortedSeqKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
