package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var applyAll bool

var applyCmd = &cobra.Command{
	Use:   "apply [--all | <definition-uuid>]",
	Short: "Reconcile schema of one definition or of all of them",
	Args: func(cmd *cobra.Command, args []string) error {
		if applyAll && len(args) > 0 {
			return errors.New("either --all or a definition uuid, not both")
		}
		if !applyAll && len(args) != 1 {
			return errors.New("definition uuid is required (or --all)")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if applyAll {
			success, failures, err := a.svc.ApplyAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "applied: %d, failed: %d\n", success, len(failures))
			for _, f := range failures {
				fmt.Fprintf(out, "  %s (%s): %v\n", f.EntityType, f.UUID, f.Err)
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d definitions failed", len(failures))
			}
			return nil
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid definition uuid %q: %w", args[0], err)
		}
		res, err := a.svc.ApplySchema(ctx, id)
		if err != nil {
			return err
		}
		p := res.Plan
		fmt.Fprintf(out, "%s: run %s, %d statements applied, %d tolerated\n",
			p.Entity, res.RunID, res.Report.Applied, len(res.Report.Tolerated))
		if p.CreatedTable {
			fmt.Fprintf(out, "  created table %s\n", p.Table)
		}
		for _, c := range p.AddedColumns {
			fmt.Fprintf(out, "  + %s\n", c)
		}
		for _, c := range p.DroppedColumns {
			fmt.Fprintf(out, "  - %s\n", c)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyAll, "all", false, "reconcile every definition and drop orphan tables")
}
