// Command htnground verifies, recognizes, repairs and plans HTN problems
// described in YAML files.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "htnground",
		Short: "htnground",
		Long:  `A CLI tool to ground HTN plans against a domain of methods and actions.`,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("metrics", false, "print engine metrics after the run")
	rootCmd.PersistentFlags().Duration("timeout", 0, "abort the run after this long (0 disables)")

	rootCmd.AddCommand(
		newRunCmd("verify", "Verify a complete plan"),
		newRunCmd("recognize", "Complete a plan prefix into a decomposition"),
		newRunCmd("repair", "Repair a partially observed plan"),
		newRunCmd("plan", "Find a plan for the goal tasks"),
		newBatchCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
