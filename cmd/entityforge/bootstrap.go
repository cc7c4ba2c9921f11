package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the shared entity_registry and entity_definitions tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.svc.Bootstrap(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "bootstrap done")
		return nil
	},
}
