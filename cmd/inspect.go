package cmd

import (
	"fmt"
	"net/netip"

	"github.com/encodeous/meshlink/core"
	"github.com/encodeous/meshlink/state"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Aliases: []string{"i"},
	Short:   "Inspects the routing state of a running node",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := core.IPCRequest(ipcPath(cmd), "inspect")
		if err != nil {
			return err
		}
		fmt.Println(protojson.MarshalOptions{Multiline: true, Indent: "  "}.Format(res))
		return nil
	},
	GroupID: "mesh",
}

var sendCmd = &cobra.Command{
	Use:   "send <uuid|address> <text>",
	Short: "Sends a datagram to another node through a running node",
	Long:  `The destination is either the node id or its mesh address, addresses are resolved by the running node.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := state.ParseUUID(args[0]); err != nil {
			if _, err := netip.ParseAddr(args[0]); err != nil {
				return fmt.Errorf("%s is neither a node id nor a mesh address", args[0])
			}
		}
		res, err := core.IPCRequest(ipcPath(cmd), "send "+args[0]+" "+args[1])
		if err != nil {
			return err
		}
		fmt.Println(protojson.Format(res))
		return nil
	},
	GroupID: "mesh",
}

// ipcPath prefers the flag, then the node config, then the default socket
func ipcPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("socket"); p != "" {
		return p
	}
	if cfg, err := state.ReadNodeConfig(state.NodeConfigPath); err == nil {
		return cfg.GetIPCPath()
	}
	return state.DefaultIPCPath
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(sendCmd)
	inspectCmd.Flags().StringP("socket", "s", "", "ipc socket of the node")
	sendCmd.Flags().StringP("socket", "s", "", "ipc socket of the node")
}
