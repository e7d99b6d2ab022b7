package cmd

import (
	"os"

	"github.com/golemfactory/golem/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "golem",
	Short: "Golem reputation node",
	Long: `Golem computes how much a node can be trusted as a provider and as a requestor.
Each node keeps first-hand interaction counters and gossips them with its neighbours until every node agrees on a global rank.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Golem",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "golem",
		Title: "Golem Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&state.NodeConfigPath, "config", "c", state.NodeConfigPath, "node config")
}
