package cmd

import (
	"net/url"
	"strconv"

	"github.com/golemfactory/golem/state"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [node] [category] [increase|decrease] [amount]",
	Short: "Records an interaction with a node on a running golem node",
	Long: `Records an interaction with a node on a running golem node.
Categories are computed, wrong_computed, requested, payment and resource. The amount defaults to 1.`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := state.NameValidator(args[0]); err != nil {
			return err
		}
		cat, err := state.ParseCategory(args[1])
		if err != nil {
			return err
		}
		sign, err := state.ParseSign(args[2])
		if err != nil {
			return err
		}
		amount := 1.0
		if len(args) == 4 {
			amount, err = strconv.ParseFloat(args[3], 64)
			if err != nil {
				return err
			}
		}
		if err = state.ValidateAmount(amount); err != nil {
			return err
		}
		u, err := inspectUrl("/trust/" + args[0] + "/" + cat.String() + "/" + sign.String())
		if err != nil {
			return err
		}
		u += "?" + url.Values{"amount": {strconv.FormatFloat(amount, 'g', -1, 64)}}.Encode()
		resp, err := client.Post(u, "", nil)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
	SilenceUsage: true,
	GroupID:      "golem",
}

func init() {
	rootCmd.AddCommand(recordCmd)
}
