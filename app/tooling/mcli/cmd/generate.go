package cmd

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new wallet key pair",
	RunE:  generateRun,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func generateRun(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(privateKeyPath()); err == nil {
		return fmt.Errorf("wallet %s already exists", privateKeyPath())
	}

	if err := os.MkdirAll(walletPath, 0755); err != nil {
		return err
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	if err := crypto.SaveECDSA(privateKeyPath(), privateKey); err != nil {
		return err
	}

	_, addr, err := loadWallet()
	if err != nil {
		return err
	}

	fmt.Println(addr)
	return nil
}
