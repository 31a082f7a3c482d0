package database

import (
	"context"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mathcoin/node/foundation/blockchain/genesis"
	"github.com/mathcoin/node/foundation/blockchain/signature"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GenesisPreviousHash is the previous hash recorded in the genesis block.
const GenesisPreviousHash = "0"

// GenesisAddress receives the zero value coinbase of the genesis block.
const GenesisAddress Address = "genesis"

// Mathematical constants feeding the per block seed. These are variables so
// the arithmetic happens in float64 at runtime, not in exact constant math.
var (
	mathPi  = 3.141592653589793
	mathPhi = 1.618033988749895
	mathE   = 2.718281828459045
)

const (
	defaultMathSeed = "0123456789"
	defaultSeedNum  = 123456789
)

// =============================================================================

// BlockHeader is the lightweight projection of a block exchanged during
// headers-first synchronization.
type BlockHeader struct {
	Index        uint64 `json:"index"`
	Timestamp    int64  `json:"timestamp"`
	PreviousHash string `json:"previousHash"`
	Nonce        uint64 `json:"nonce"`
	MathSeed     string `json:"mathSeed"`
	CoinValue    Amount `json:"coinValue"`
	Hash         string `json:"hash"`
	TxCount      int    `json:"txCount"`
}

// ValidateNext checks the header can follow a block with the specified index
// and hash. Without the transactions the hash can't be recomputed, so the
// header is held to its linkage and its proof of work.
func (h BlockHeader) ValidateNext(prevIndex uint64, prevHash string, difficulty int) error {
	if h.Index != prevIndex+1 {
		return invalid(ErrIndexOutOfOrder, "got %d, exp %d", h.Index, prevIndex+1)
	}

	if h.PreviousHash != prevHash {
		return invalid(ErrBrokenLinkage, "header %d: got %s, exp %s", h.Index, h.PreviousHash, prevHash)
	}

	if !IsHashSolved(difficulty, h.Hash) {
		return invalid(ErrInsufficientWork, "header %d: hash %s", h.Index, h.Hash)
	}

	if h.MathSeed != MathSeed(h.Index) {
		return invalid(ErrMalformedBlock, "header %d: unexpected math seed", h.Index)
	}

	return nil
}

// =============================================================================

// Block represents a group of transactions batched together.
type Block struct {
	Index        uint64        `json:"index"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previousHash"`
	Nonce        uint64        `json:"nonce"`
	MathSeed     string        `json:"mathSeed"`
	CoinValue    Amount        `json:"coinValue"`
	Hash         string        `json:"hash"`
}

// NewBlock constructs a block ready to be mined. The math seed and coin value
// are derived from the index and the hash is computed for nonce zero.
func NewBlock(index uint64, previousHash string, trans []Transaction, timestamp int64) Block {
	seed := MathSeed(index)

	b := Block{
		Index:        index,
		Timestamp:    timestamp,
		Transactions: trans,
		PreviousHash: previousHash,
		MathSeed:     seed,
		CoinValue:    CoinValue(seed),
	}
	b.Hash = b.ComputeHash()

	return b
}

// Genesis constructs the genesis block described by the genesis document.
// Every node derives the same block so chains can be compared from index 0.
func Genesis(gen genesis.Genesis) Block {
	ts := gen.Date.UnixMilli()
	tx := NewCoinbase(GenesisAddress, 0, ts)

	return NewBlock(0, GenesisPreviousHash, []Transaction{tx}, ts)
}

// ComputeHash recomputes the hash from the block's fields.
func (b Block) ComputeHash() string {
	trans, err := json.Marshal(b.Transactions)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(b.Index, 10))
	sb.WriteString(b.PreviousHash)
	sb.WriteString(strconv.FormatInt(b.Timestamp, 10))
	sb.Write(trans)
	sb.WriteString(b.MathSeed)
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))

	return signature.Hash256([]byte(sb.String()))
}

// Header returns the header projection of the block.
func (b Block) Header() BlockHeader {
	return BlockHeader{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		PreviousHash: b.PreviousHash,
		Nonce:        b.Nonce,
		MathSeed:     b.MathSeed,
		CoinValue:    b.CoinValue,
		Hash:         b.Hash,
		TxCount:      len(b.Transactions),
	}
}

// =============================================================================

// POW performs the work to find a nonce that solves the proof of work puzzle
// for the block. The nonce is incremented from its current value until the
// hash carries difficulty leading zeros. The search can be cancelled
// through the context.
func POW(ctx context.Context, b Block, difficulty int, ev func(v string, args ...any)) (Block, error) {
	ev("database: POW: MINING: started: blk[%d]", b.Index)
	defer ev("database: POW: MINING: completed: blk[%d]", b.Index)

	for _, tx := range b.Transactions {
		ev("database: POW: MINING: tx[%s]", tx)
	}

	b.Hash = b.ComputeHash()

	var attempts uint64
	for !IsHashSolved(difficulty, b.Hash) {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: POW: MINING: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			ev("database: POW: MINING: CANCELLED")
			return Block{}, ctx.Err()
		}

		b.Nonce++
		b.Hash = b.ComputeHash()
	}

	ev("database: POW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.PreviousHash, b.Hash, attempts)

	return b, nil
}

// IsHashSolved checks the hash to make sure it complies with the POW rules.
// The hash text must start with difficulty '0' characters. This is a string
// prefix test, not a numeric target comparison.
func IsHashSolved(difficulty int, hash string) bool {
	if difficulty < 0 || len(hash) < difficulty {
		return false
	}

	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}

	return true
}

// =============================================================================

// MathSeed derives the auxiliary seed for a block index: the decimal digits
// of (pi + phi) * (index + 1) + e from the tenth digit on. A whole number
// yields the fixed default seed.
func MathSeed(index uint64) string {
	soma := mathPi + mathPhi
	modified := soma*float64(index+1) + mathE

	str := strconv.FormatFloat(modified, 'f', -1, 64)
	_, frac, ok := strings.Cut(str, ".")
	if !ok {
		return defaultMathSeed
	}

	if len(frac) <= 9 {
		return ""
	}

	return frac[9:]
}

// CoinValue derives the auxiliary coin value for a math seed.
func CoinValue(seed string) Amount {
	digits := seed
	if len(digits) > 10 {
		digits = digits[:10]
	}

	seedNum, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || seedNum == 0 {
		seedNum = defaultSeedNum
	}

	base := float64(seedNum%1000) / 100
	return Amount(math.Round(base * mathPhi * genesis.CoinUnits))
}
