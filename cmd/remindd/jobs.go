package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"remindd/internal/app"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Print the stored job document",
	Long:  "Read the job document from the configured store and print it. The daemon does not need to run.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		doc, err := app.ReadDocument(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return nil
	},
}
