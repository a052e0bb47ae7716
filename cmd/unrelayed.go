package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/statemachine"
)

func UnrelayedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unrelayed",
		Short: "List the messages that have not been relayed yet",
		RunE: func(c *cobra.Command, _ []string) error {
			_, database, _, err := openDatabase(c)
			if err != nil {
				return err
			}
			defer database.Close()

			messages, err := statemachine.Unrelayed(db.NewMessageRepository(database))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MESSAGE\tSOURCE\tDESTINATION\tNONCE\tSTATE\tSENT")
			for _, msg := range messages {
				sent := time.Unix(int64(msg.SentTimestamp), 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
					msg.MessageHash.Hex(), msg.SourceChainID, msg.DestChainID, msg.Nonce, msg.State, sent)
			}
			return w.Flush()
		},
	}
}
