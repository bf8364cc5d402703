package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmplay/executor"
	"github.com/mensylisir/xmplay/inventory"
	"github.com/mensylisir/xmplay/logger"
	"github.com/mensylisir/xmplay/playbook"
)

var (
	flagTags      []string
	flagSkipTags  []string
	flagLimit     string
	flagForks     int
	flagCheck     bool
	flagIgnoreErr bool
)

var runCmd = &cobra.Command{
	Use:   "run <playbook>",
	Short: "Compile a playbook and apply it to the targeted hosts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := uuid.NewString()[:8]
		log := logger.Log.ForRun(runID)

		inv, err := inventory.Load(flagInventory)
		if err != nil {
			return err
		}
		pb, err := playbook.Load(args[0])
		if err != nil {
			return err
		}
		plan, err := playbook.Compile(pb, playbook.CompileOptions{
			Tags:     flagTags,
			SkipTags: flagSkipTags,
			Forks:    flagForks,
		})
		if err != nil {
			return err
		}

		log.Infof("run starting: playbook=%s inventory=%s plays=%d", args[0], flagInventory, len(plan.Plays))
		if flagCheck {
			log.Info("check mode: no changes will be made")
		}

		eng := executor.New(inv, executor.Options{
			Check:        flagCheck,
			Limit:        flagLimit,
			IgnoreErrors: flagIgnoreErr,
			RunID:        runID,
		})
		result, err := eng.Run(cmd.Context(), plan)
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), result.Render())
		if result.Failed() {
			return &ExitError{Code: result.ExitCode(), Msg: "run finished with failed or unreachable hosts"}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&flagTags, "tags", nil, "only run tasks tagged with any of these")
	runCmd.Flags().StringSliceVar(&flagSkipTags, "skip-tags", nil, "skip tasks tagged with any of these")
	runCmd.Flags().StringVar(&flagLimit, "limit", "", "narrow play host patterns to this pattern")
	runCmd.Flags().IntVar(&flagForks, "forks", 0, "max hosts run in parallel (default 5)")
	runCmd.Flags().BoolVar(&flagCheck, "check", false, "report changes without applying them")
	runCmd.Flags().BoolVar(&flagIgnoreErr, "ignore-errors", false, "continue each host past task failures")
	rootCmd.AddCommand(runCmd)
}
