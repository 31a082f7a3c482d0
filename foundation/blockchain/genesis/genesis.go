// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

// CoinUnits is the number of base units in one coin.
const CoinUnits = 100_000_000

// Genesis represents the genesis file.
type Genesis struct {
	Date         time.Time `json:"date"`          // Timestamp stamped into the genesis block so every node shares it.
	Network      string    `json:"network"`       // Name of the network, logged and reported in status.
	Difficulty   int       `json:"difficulty"`    // Number of leading zero characters a block hash needs.
	MiningReward uint64    `json:"mining_reward"` // Base units awarded by a block's coinbase transaction.
}

// Default returns the genesis values used when no genesis file exists.
func Default() Genesis {
	return Genesis{
		Date:         time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Network:      "mathcoin",
		Difficulty:   4,
		MiningReward: 50 * CoinUnits,
	}
}

// =============================================================================

// Load opens and consumes the genesis file. If the file does not exist the
// default genesis is returned.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	if genesis.Difficulty < 0 {
		return Genesis{}, errors.New("difficulty can't be negative")
	}

	return genesis, nil
}
