package cmd

import (
	"fmt"

	"github.com/mathcoin/node/foundation/nameservice"
	"github.com/spf13/cobra"
)

type balance struct {
	Address      string `json:"address"`
	Confirmed    string `json:"confirmed"`
	PendingSpend string `json:"pendingSpend"`
	Available    string `json:"available"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance [name|address]",
	Short: "Print the balance of the wallet or the specified address",
	Args:  cobra.MaximumNArgs(1),
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) error {
	var addr string
	switch len(args) {
	case 1:
		ns, err := nameservice.New(walletPath)
		if err != nil {
			return err
		}
		a, err := ns.Resolve(args[0])
		if err != nil {
			return err
		}
		addr = string(a)
	default:
		_, a, err := loadWallet()
		if err != nil {
			return err
		}
		addr = string(a)
	}

	var bal balance
	if err := call("GET", fmt.Sprintf("%s/v1/balances/%s", url, addr), nil, &bal); err != nil {
		return err
	}

	fmt.Println("For Address:", bal.Address)
	fmt.Println("Confirmed:  ", bal.Confirmed)
	fmt.Println("Pending:    ", bal.PendingSpend)
	fmt.Println("Available:  ", bal.Available)
	return nil
}
