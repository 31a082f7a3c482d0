package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the address of the wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, addr, err := loadWallet()
		if err != nil {
			return err
		}

		fmt.Println(addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
