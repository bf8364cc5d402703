// Package cmd is the thin CLI surface over the engine.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mensylisir/xmplay/logger"
)

var (
	flagInventory string
	flagVerbose   bool
	flagLogDir    string
)

// ExitError carries the process exit status a failed run asks for.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string { return e.Msg }

var rootCmd = &cobra.Command{
	Use:           "xmplay",
	Short:         "xmplay applies declarative playbooks to inventory hosts over SSH",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(flagLogDir, flagVerbose); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagInventory, "inventory", "i", "inventory.yaml", "inventory file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "", "write rotated logs under this directory instead of the console")
}

// ExecuteContext runs the CLI.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
