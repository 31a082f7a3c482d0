package cmd

import (
	"fmt"

	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/nameservice"
	"github.com/spf13/cobra"
)

var (
	to     string
	amount string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign a transaction and submit it to the node",
	RunE:  sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Wallet name or address receiving the coins.")
	sendCmd.Flags().StringVarP(&amount, "amount", "v", "", "Number of coins to send, like 1.5.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagRequired("amount")
}

func sendRun(cmd *cobra.Command, args []string) error {
	privateKey, from, err := loadWallet()
	if err != nil {
		return err
	}

	ns, err := nameservice.New(walletPath)
	if err != nil {
		return err
	}

	toAddr, err := ns.Resolve(to)
	if err != nil {
		return err
	}

	value, err := database.ParseAmount(amount)
	if err != nil {
		return err
	}

	tx, err := database.NewTransaction(from, toAddr, value)
	if err != nil {
		return err
	}

	signed, err := tx.Sign(privateKey)
	if err != nil {
		return err
	}

	var resp struct {
		Status string `json:"status"`
		Hash   string `json:"hash"`
	}
	if err := call("POST", fmt.Sprintf("%s/v1/tx/submit", url), signed, &resp); err != nil {
		return err
	}

	fmt.Println(resp.Status, resp.Hash)
	return nil
}
