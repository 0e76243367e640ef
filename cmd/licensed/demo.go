package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"licensed/internal/clock"
	"licensed/internal/lifecycle"
	"licensed/internal/seed"
	"licensed/internal/store"

	"github.com/spf13/cobra"
)

const demoKey = "OPT-TRIAL-041"

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Activate a machine on the built-in trial license against an in-memory store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.OutOrStdout(), clock.System())
		},
	}
}

func runDemo(out io.Writer, clk clock.Clock) error {
	st := store.NewMemory()
	if _, err := seed.Apply(st, seed.Builtin(clk.Now())); err != nil {
		return err
	}
	engine := lifecycle.New(st, clk)

	list, err := engine.ListLicenses()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Available licenses:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPRODUCT\tTIER\tSLOTS\tSTATUS\tDAYS LEFT")
	for _, l := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%d\n", l.Key, l.ProductName, l.Tier, len(l.Activations), l.ActivationLimit, l.Status, l.RemainingDays)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	before, err := engine.Status(demoKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Trial status before activation: %s\n", before.Status)

	_, err = engine.Activate(demoKey, "DEV-RIG-01", "cli-demo")
	fmt.Fprintf(out, "Activation succeeded? %v\n", err == nil)
	if err != nil {
		fmt.Fprintf(out, "Activation error: %v\n", err)
	}

	after, err := engine.Status(demoKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Trial status after activation: %s\n", after.Status)
	fmt.Fprintf(out, "Remaining days: %d\n", after.RemainingDays)
	return nil
}
