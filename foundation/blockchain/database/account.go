package database

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mathcoin/node/foundation/blockchain/genesis"
)

// Address represents an account address that transactions move value
// between. Addresses are derived from the sender's public key.
type Address string

// ToAddress converts a hex-encoded string to an address and validates the
// hex-encoded string is formatted correctly.
func ToAddress(hex string) (Address, error) {
	a := Address(hex)
	if !a.IsAddress() {
		return "", fmt.Errorf("invalid address format %q", hex)
	}

	return a, nil
}

// IsAddress verifies whether the underlying data represents a valid
// hex-encoded address.
func (a Address) IsAddress() bool {
	const addressLength = 20

	if has0xPrefix(a) {
		a = a[2:]
	}

	return len(a) == 2*addressLength && isHex(a)
}

// has0xPrefix validates the address starts with a 0x.
func has0xPrefix(a Address) bool {
	return len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X')
}

// isHex validates whether each byte is valid hexadecimal string.
func isHex(a Address) bool {
	if len(a)%2 != 0 {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// =============================================================================

// Amount is a quantity of coins expressed in base units.
type Amount uint64

// MaxAmount is the largest amount a transaction may carry. Balances are
// signed, so an amount must fit in an int64.
const MaxAmount = Amount(math.MaxInt64)

// Coins converts a whole number of coins into an Amount.
func Coins(n uint64) Amount {
	return Amount(n * genesis.CoinUnits)
}

// ParseAmount converts a decimal number of coins like "1.5" into an Amount.
// At most eight fractional digits are accepted.
func ParseAmount(coins string) (Amount, error) {
	whole, frac, _ := strings.Cut(coins, ".")
	if whole == "" && frac == "" {
		return 0, errors.New("empty amount")
	}
	if len(frac) > 8 {
		return 0, fmt.Errorf("amount %q has more than 8 decimal places", coins)
	}

	var w, f uint64
	var err error
	if whole != "" {
		if w, err = strconv.ParseUint(whole, 10, 64); err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", coins, err)
		}
	}
	if frac != "" {
		if f, err = strconv.ParseUint(frac+strings.Repeat("0", 8-len(frac)), 10, 64); err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", coins, err)
		}
	}

	if w > math.MaxUint64/genesis.CoinUnits {
		return 0, fmt.Errorf("amount %q overflows", coins)
	}

	return Amount(w*genesis.CoinUnits + f), nil
}

// String renders the amount as a decimal number of coins.
func (a Amount) String() string {
	return fmt.Sprintf("%d.%08d", uint64(a)/genesis.CoinUnits, uint64(a)%genesis.CoinUnits)
}

// hashString is the representation of the amount used when hashing.
func (a Amount) hashString() string {
	return strconv.FormatUint(uint64(a), 10)
}
