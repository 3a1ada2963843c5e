package cmd

import (
	"os"

	"github.com/encodeous/meshlink/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshlink",
	Short: "meshlink ad-hoc mesh routing",
	Long: `meshlink connects devices into a self-organising mesh.
Every node gossips its links, computes shortest paths and relays datagrams hop by hop to nodes it cannot reach directly.`,
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
		Title: "Initialize meshlink",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "mesh",
		Title: "Mesh Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&state.NodeConfigPath, "node-config", "n", state.NodeConfigPath, "node-specific config")
}
