package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmplay/executor"
	"github.com/mensylisir/xmplay/inventory"
	"github.com/mensylisir/xmplay/playbook"
)

var pingCmd = &cobra.Command{
	Use:   "ping [pattern]",
	Short: "Probe connectivity to the hosts matching a pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := "all"
		if len(args) == 1 {
			pattern = args[0]
		}

		inv, err := inventory.Load(flagInventory)
		if err != nil {
			return err
		}

		gather := false
		plan, err := playbook.Compile(&playbook.Playbook{Plays: []*playbook.Play{{
			Name:        "ping",
			Hosts:       pattern,
			GatherFacts: &gather,
			Tasks:       []*playbook.Task{{Name: "ping", Module: "ping"}},
		}}}, playbook.CompileOptions{})
		if err != nil {
			return err
		}

		eng := executor.New(inv, executor.Options{RunID: uuid.NewString()[:8]})
		result, err := eng.Run(cmd.Context(), plan)
		if err != nil {
			return err
		}

		for _, r := range result.Recaps[0].Results() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", r.Host, r.Outcome)
		}
		if result.Failed() {
			return &ExitError{Code: result.ExitCode(), Msg: "some hosts did not respond"}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
