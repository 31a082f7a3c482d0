// Package cmd contains the mcli commands.
package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	jsoniter "github.com/json-iterator/go"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	walletName string
	walletPath string
	url        string
	adminURL   string
)

const keyExtension = ".ecdsa"

var rootCmd = &cobra.Command{
	Use:   "mcli",
	Short: "Wallet and operator tool for a MathCoin node",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&walletName, "wallet", "w", "private.ecdsa", "Name of the private key file.")
	rootCmd.PersistentFlags().StringVarP(&walletPath, "wallet-path", "p", "zblock/wallets/", "Path to the directory with private keys.")
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node public api.")
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin-url", "http://localhost:9080", "Url of the node private api.")
}

func privateKeyPath() string {
	name := walletName
	if !strings.HasSuffix(name, keyExtension) {
		name += keyExtension
	}
	return filepath.Join(walletPath, name)
}

func loadWallet() (*ecdsa.PrivateKey, database.Address, error) {
	privateKey, err := crypto.LoadECDSA(privateKeyPath())
	if err != nil {
		return nil, "", fmt.Errorf("load wallet: %w", err)
	}

	addr, err := signature.DeriveAddress(signature.PublicKeyBytes(&privateKey.PublicKey))
	if err != nil {
		return nil, "", err
	}

	return privateKey, database.Address(addr), nil
}

// =============================================================================

var client = http.Client{Timeout: 10 * time.Minute}

// call performs the request and decodes a successful response into resp.
// Error responses carry the node's error message.
func call(method string, endpoint string, body any, resp any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, endpoint, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var er struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		if err := json.NewDecoder(res.Body).Decode(&er); err != nil {
			return fmt.Errorf("node returned %s", res.Status)
		}
		if len(er.Fields) > 0 {
			return fmt.Errorf("%s: %v", er.Error, er.Fields)
		}
		return fmt.Errorf("%s", er.Error)
	}

	if resp == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}

	return json.NewDecoder(res.Body).Decode(resp)
}

// printJSON writes the value indented to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
