package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fixline/engine/internal/logstore"
)

// replayCmd dumps a session's persisted message log in append order, for
// operators inspecting resend behavior offline.
func replayCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Print a session's persisted message log in append order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]

			store, err := logstore.Open(dsn)
			if err != nil {
				return fmt.Errorf("open log store %s: %w", dsn, err)
			}
			defer store.Close()

			count := 0
			err = store.Replay(sessionID, func(entry logstore.LogEntry) bool {
				fmt.Printf("%s  seq=%-6d %-8s %-3s %s\n",
					entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
					entry.SeqNum, entry.Direction, entry.MsgType, entry.Raw)
				count++
				return true
			})
			if err != nil {
				return fmt.Errorf("replay %s: %w", sessionID, err)
			}
			if count == 0 {
				fmt.Printf("no log entries for session %s\n", sessionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "store", "fixengine.db", "path to the SQLite log store")
	return cmd
}
