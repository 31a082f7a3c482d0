package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return show(fmt.Sprintf("%s/v1/node/status", url))
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Print the peers of the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return show(fmt.Sprintf("%s/v1/node/peers", url))
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print the transactions waiting in the mempool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return show(fmt.Sprintf("%s/v1/tx/pending", url))
	},
}

var blockCmd = &cobra.Command{
	Use:   "block height",
	Short: "Print the block at the specified height",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return show(fmt.Sprintf("%s/v1/blocks/list/%s/%s", url, args[0], args[0]))
	},
}

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine the next block, paying the reward to the wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, addr, err := loadWallet()
		if err != nil {
			return err
		}

		req := struct {
			RewardAddress string `json:"rewardAddress"`
		}{
			RewardAddress: string(addr),
		}

		var block any
		if err := call("POST", fmt.Sprintf("%s/v1/mining/mine", adminURL), req, &block); err != nil {
			return err
		}
		return printJSON(block)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect host:port",
	Short: "Ask the node to dial a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := struct {
			Address string `json:"address"`
		}{
			Address: args[0],
		}

		var resp any
		if err := call("POST", fmt.Sprintf("%s/v1/node/connect", adminURL), req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, peersCmd, pendingCmd, blockCmd, mineCmd, connectCmd)
}

func show(endpoint string) error {
	var v any
	if err := call("GET", endpoint, nil, &v); err != nil {
		return err
	}
	return printJSON(v)
}
