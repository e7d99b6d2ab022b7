package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"time"

	"github.com/golemfactory/golem/state"
	"github.com/spf13/cobra"
)

var client = &http.Client{Timeout: 10 * time.Second}

// inspectUrl points at the inspect endpoint of the node described by the config
func inspectUrl(path string) (string, error) {
	cfg, err := state.ReadNodeConfig(state.NodeConfigPath)
	if err != nil {
		return "", err
	}
	bind := cfg.InspectBind
	if !bind.IsValid() {
		return "", errors.New("the node has no inspect_bind configured")
	}
	if bind.Addr().IsUnspecified() {
		bind = netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), bind.Port())
	}
	return (&url.URL{Scheme: "http", Host: bind.String(), Path: path}).String(), nil
}

// printResponse pretty prints a JSON reply and turns error statuses into errors
func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var v any
	if err = json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("unexpected reply (%s): %s", resp.Status, body)
	}
	if resp.StatusCode != http.StatusOK {
		if m, ok := v.(map[string]any); ok && m["error"] != nil {
			return fmt.Errorf("%s: %v", resp.Status, m["error"])
		}
		return errors.New(resp.Status)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var inspectCmd = &cobra.Command{
	Use:     "inspect [node]",
	Aliases: []string{"i"},
	Short:   "Shows how much a running node trusts another node, or the state of its ranking engine",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/ranking"
		if len(args) == 1 {
			if err := state.NameValidator(args[0]); err != nil {
				return err
			}
			path = "/trust/" + args[0]
		}
		u, err := inspectUrl(path)
		if err != nil {
			return err
		}
		resp, err := client.Get(u)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
	SilenceUsage: true,
	GroupID:      "golem",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
