package cmd

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/encodeous/meshlink/state"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a node configuration with a fresh id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := state.NameValidator(name); err != nil {
			return err
		}
		platformStr, _ := cmd.Flags().GetString("platform")
		platform, err := state.ParsePlatform(platformStr)
		if err != nil {
			return err
		}
		cfg := state.NewLocalCfg(name, platform)

		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Listen, err = netip.ParseAddrPort(listen)
			if err != nil {
				return fmt.Errorf("invalid listen address: %w", err)
			}
		}
		peers, _ := cmd.Flags().GetStringSlice("peer")
		for _, p := range peers {
			addr, err := netip.ParseAddrPort(p)
			if err != nil {
				return fmt.Errorf("invalid peer %q: %w", p, err)
			}
			cfg.Peers = append(cfg.Peers, addr)
		}
		cfg.IPCPath, _ = cmd.Flags().GetString("ipc")
		if err := state.NodeConfigValidator(&cfg); err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(state.NodeConfigPath); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to overwrite it", state.NodeConfigPath)
		}
		if err := state.WriteNodeConfig(state.NodeConfigPath, &cfg); err != nil {
			return err
		}
		fmt.Printf("created node %s (%s) at %s\n", cfg.Id, cfg.Id.Address(), state.NodeConfigPath)
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("platform", state.PlatformLinux.String(), "platform tag stored in the node id")
	initCmd.Flags().String("listen", "", "address to accept links on")
	initCmd.Flags().StringSliceP("peer", "p", nil, "peer address to dial, may be repeated")
	initCmd.Flags().String("ipc", "", "path of the ipc socket")
	initCmd.Flags().BoolP("force", "f", false, "overwrite an existing config")
}
