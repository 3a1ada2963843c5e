package cmd

import (
	"github.com/encodeous/meshlink/core"
	"github.com/encodeous/meshlink/state"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run meshlink",
	Long:  `This will run meshlink on the current host, accepting links on the configured address and dialling the configured peers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		debugAddr, _ := cmd.Flags().GetString("debug-addr")
		return core.Bootstrap(state.NodeConfigPath, logPath, debugAddr, verbose)
	},
	GroupID: "mesh",
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().StringP("log", "l", "", "Also write logs to this file")
	runCmd.Flags().String("debug-addr", "", "Serve pprof, expvar and metrics on this address, e.g. 127.0.0.1:6060")
}
