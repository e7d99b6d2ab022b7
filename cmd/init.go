package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/golemfactory/golem/state"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [id]",
	Short: "Create a node configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := state.NameValidator(id); err != nil {
			return err
		}
		cfg := state.DefaultLocalCfg(state.NodeId(id))

		port, _ := cmd.Flags().GetUint16("port")
		cfg.Bind = netip.AddrPortFrom(cfg.Bind.Addr(), port)
		cfg.StorePath, _ = cmd.Flags().GetString("store")
		neighbours, _ := cmd.Flags().GetStringToString("neighbour")
		for nid, ep := range neighbours {
			if err := state.BindValidator(ep); err != nil {
				return fmt.Errorf("neighbour %s: %w", nid, err)
			}
			cfg.Neighbours = append(cfg.Neighbours, state.NeighbourCfg{Id: state.NodeId(nid), Endpoint: netip.MustParseAddrPort(ep)})
		}
		if err := state.NodeConfigValidator(&cfg); err != nil {
			return err
		}

		out, err := yaml.Marshal(&cfg)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !force {
			flags |= os.O_EXCL
		}
		f, err := os.OpenFile(state.NodeConfigPath, flags, 0600)
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists, use --force to overwrite it", state.NodeConfigPath)
		}
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(out)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", state.NodeConfigPath)
		return nil
	},
	SilenceUsage: true,
	GroupID:      "init",
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Uint16P("port", "p", state.DefaultPort, "UDP port to gossip on")
	initCmd.Flags().String("store", "", "sqlite database path, ranks are kept in memory if empty")
	initCmd.Flags().StringToStringP("neighbour", "n", nil, "neighbour id=host:port, may be repeated")
	initCmd.Flags().BoolP("force", "f", false, "overwrite an existing config")
}
