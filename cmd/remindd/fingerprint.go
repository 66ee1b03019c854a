package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"remindd/pkg/fingerprint"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <items...>",
	Short: "Print the tag hash of the given items",
	Long: `Print the 15 digit tag hash of the items, in order. Reminder tags use the
labelled chat id and user id, e.g. "remindd fingerprint chat=-100123 user=42".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items := make([]any, len(args))
		for i, a := range args {
			items[i] = a
		}
		fp, err := fingerprint.Of(items...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), fp)
		return nil
	},
}
