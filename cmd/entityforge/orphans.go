package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var orphansDryRun bool

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Drop entity tables that have no definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		tables, err := a.svc.Orphans(ctx, orphansDryRun)
		if err != nil {
			return err
		}
		verb := "dropped"
		if orphansDryRun {
			verb = "would drop"
		}
		out := cmd.OutOrStdout()
		if len(tables) == 0 {
			fmt.Fprintln(out, "no orphan tables")
			return nil
		}
		for _, t := range tables {
			fmt.Fprintf(out, "%s %s\n", verb, t)
		}
		return nil
	},
}

func init() {
	orphansCmd.Flags().BoolVar(&orphansDryRun, "dry-run", false, "only list orphan tables")
}
