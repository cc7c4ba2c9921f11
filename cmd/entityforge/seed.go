package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed [dir]",
	Short: "Import *.dsl definitions: create new, update changed, skip unchanged",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.SeedsDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return fmt.Errorf("seeds directory is required")
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.LoadSeeds(ctx, dir)
		if res != nil {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created:   %s\n", strings.Join(res.Created, ", "))
			fmt.Fprintf(out, "updated:   %s\n", strings.Join(res.Updated, ", "))
			fmt.Fprintf(out, "unchanged: %s\n", strings.Join(res.Unchanged, ", "))
		}
		return err
	},
}
