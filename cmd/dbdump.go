package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func DBDumpCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "db-dump",
		Short: "Print the raw store entries under a key prefix",
		RunE: func(c *cobra.Command, _ []string) error {
			_, database, _, err := openDatabase(c)
			if err != nil {
				return err
			}
			defer database.Close()

			out := c.OutOrStdout()
			return database.Iterate([]byte(prefix), func(key, value []byte) (bool, error) {
				_, err := fmt.Fprintf(out, "%s\t%s\n", key, value)
				return err == nil, err
			})
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "key prefix, e.g. message: or inflight:")
	return cmd
}
