// Package nameservice reads a folder of wallet keys and maps the derived
// addresses to the wallet file names.
package nameservice

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/signature"
)

const keyExtension = ".ecdsa"

// NameService maintains a two way map of wallet names and addresses.
type NameService struct {
	names     map[database.Address]string
	addresses map[string]database.Address
}

// New constructs a name service from the wallet keys found under root. A
// missing folder yields an empty name service.
func New(root string) (*NameService, error) {
	ns := NameService{
		names:     make(map[database.Address]string),
		addresses: make(map[string]database.Address),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			if fileName == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != keyExtension {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("load %s: %w", fileName, err)
		}

		addr, err := signature.DeriveAddress(signature.PublicKeyBytes(&privateKey.PublicKey))
		if err != nil {
			return err
		}

		name := strings.TrimSuffix(path.Base(fileName), keyExtension)
		ns.names[database.Address(addr)] = name
		ns.addresses[name] = database.Address(addr)

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified address, or the address itself
// when it has no name.
func (ns *NameService) Lookup(addr database.Address) string {
	name, exists := ns.names[addr]
	if !exists {
		return string(addr)
	}
	return name
}

// Resolve converts a wallet name or a hex address into an address.
func (ns *NameService) Resolve(nameOrAddress string) (database.Address, error) {
	if addr, exists := ns.addresses[nameOrAddress]; exists {
		return addr, nil
	}
	return database.ToAddress(nameOrAddress)
}

// Copy returns a copy of the map of addresses and names.
func (ns *NameService) Copy() map[database.Address]string {
	cpy := make(map[database.Address]string, len(ns.names))
	for addr, name := range ns.names {
		cpy[addr] = name
	}
	return cpy
}
