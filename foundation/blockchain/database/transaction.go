package database

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mathcoin/node/foundation/blockchain/signature"
)

// coinbaseFrom is what a missing sender contributes to a transaction hash.
const coinbaseFrom = "null"

// =============================================================================

// Transaction is the transfer of value between two addresses. A transaction
// without a from address is a coinbase transaction minting new coins.
type Transaction struct {
	FromAddress     *Address      `json:"fromAddress"`     // Sender, nil for a coinbase transaction.
	ToAddress       Address       `json:"toAddress"`       // Account receiving the amount.
	Amount          Amount        `json:"amount"`          // Value moved, in base units.
	Timestamp       int64         `json:"timestamp"`       // Unix milliseconds when the transaction was created.
	Signature       hexutil.Bytes `json:"signature"`       // Sender's signature over Hash.
	SenderPublicKey hexutil.Bytes `json:"senderPublicKey"` // Uncompressed public key of the sender.
}

// NewTransaction constructs an unsigned transaction.
func NewTransaction(from Address, to Address, amount Amount) (Transaction, error) {
	if !from.IsAddress() {
		return Transaction{}, fmt.Errorf("from address is not properly formatted")
	}

	if !to.IsAddress() {
		return Transaction{}, fmt.Errorf("to address is not properly formatted")
	}

	tx := Transaction{
		FromAddress: &from,
		ToAddress:   to,
		Amount:      amount,
		Timestamp:   time.Now().UnixMilli(),
	}

	return tx, nil
}

// NewCoinbase constructs a reward transaction paying the amount to the
// specified address.
func NewCoinbase(to Address, amount Amount, timestamp int64) Transaction {
	return Transaction{
		ToAddress: to,
		Amount:    amount,
		Timestamp: timestamp,
	}
}

// IsCoinbase reports whether the transaction has no sender.
func (tx Transaction) IsCoinbase() bool {
	return tx.FromAddress == nil
}

// From returns the sender or an empty address for a coinbase transaction.
func (tx Transaction) From() Address {
	if tx.FromAddress == nil {
		return ""
	}
	return *tx.FromAddress
}

// Hash returns the identity of the transaction. Only the from, to, amount and
// timestamp fields contribute so the signature is over a stable value.
func (tx Transaction) Hash() string {
	var b strings.Builder

	switch tx.FromAddress {
	case nil:
		b.WriteString(coinbaseFrom)
	default:
		b.WriteString(string(*tx.FromAddress))
	}
	b.WriteString(string(tx.ToAddress))
	b.WriteString(tx.Amount.hashString())
	b.WriteString(strconv.FormatInt(tx.Timestamp, 10))

	return signature.Hash256([]byte(b.String()))
}

// Sign uses the specified private key to sign the transaction. The key must
// belong to the from address.
func (tx Transaction) Sign(privateKey *ecdsa.PrivateKey) (Transaction, error) {
	if tx.IsCoinbase() {
		return Transaction{}, invalid(ErrMalformedTransaction, "coinbase transactions are not signed")
	}

	pub := signature.PublicKeyBytes(&privateKey.PublicKey)

	addr, err := signature.DeriveAddress(pub)
	if err != nil {
		return Transaction{}, err
	}
	if Address(addr) != *tx.FromAddress {
		return Transaction{}, fmt.Errorf("private key belongs to %s, not %s", addr, *tx.FromAddress)
	}

	sig, err := signature.Sign(tx.Hash(), privateKey)
	if err != nil {
		return Transaction{}, err
	}

	tx.Signature = sig
	tx.SenderPublicKey = pub

	return tx, nil
}

// Validate checks the transaction on its own. Coinbase transactions are
// exempt from signature checks; every other transaction must carry a
// signature that verifies against the declared public key, and that key
// must derive the from address.
func (tx Transaction) Validate() error {
	if tx.ToAddress == "" {
		return invalid(ErrMalformedTransaction, "missing to address")
	}

	if tx.Amount > MaxAmount {
		return invalid(ErrMalformedTransaction, "amount %d exceeds %d", uint64(tx.Amount), uint64(MaxAmount))
	}

	if tx.IsCoinbase() {
		return nil
	}

	if !tx.FromAddress.IsAddress() || !tx.ToAddress.IsAddress() {
		return invalid(ErrMalformedTransaction, "address is not properly formatted")
	}

	if len(tx.Signature) == 0 {
		return invalid(ErrInvalidSignature, "transaction is not signed")
	}

	if !signature.Verify(tx.Hash(), tx.Signature, tx.SenderPublicKey) {
		return invalid(ErrInvalidSignature, "signature does not verify for tx %s", tx.Hash())
	}

	addr, err := signature.DeriveAddress(tx.SenderPublicKey)
	if err != nil {
		return invalid(ErrInvalidSignature, "%s", err)
	}
	if Address(addr) != *tx.FromAddress {
		return invalid(ErrInvalidSignature, "public key belongs to %s, not %s", addr, *tx.FromAddress)
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (tx Transaction) String() string {
	from := coinbaseFrom
	if tx.FromAddress != nil {
		from = string(*tx.FromAddress)
	}

	return fmt.Sprintf("%s->%s:%s", from, tx.ToAddress, tx.Amount)
}
