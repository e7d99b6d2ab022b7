package cmd

import (
	"github.com/golemfactory/golem/core"
	"github.com/golemfactory/golem/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a golem node",
	Long:  `This will run a reputation node on the current host, gossiping with the neighbours listed in its config or found through discovery.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		return core.Bootstrap(state.NodeConfigPath, logPath, verbose)
	},
	SilenceUsage: true,
	GroupID:      "golem",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().String("log", "", "Also write logs to this file")
}
