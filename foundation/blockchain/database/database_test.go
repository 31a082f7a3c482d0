package database_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/database/storage"
	"github.com/mathcoin/node/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	kennedy  = database.Address("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	pavel    = database.Address("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	ceasar   = database.Address("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
)

func noop(v string, args ...any) {}

func testGenesis() genesis.Genesis {
	return genesis.Genesis{
		Date:         time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Network:      "test",
		Difficulty:   1,
		MiningReward: uint64(database.Coins(50)),
	}
}

func newDatabase(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.New(testGenesis(), storage.NewMemory(), noop)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the database: %s", failed, err)
	}

	return db
}

// mineNext mines the next block over the specified transactions.
func mineNext(t *testing.T, db *database.Database, trans ...database.Transaction) database.Block {
	t.Helper()

	latest := db.LatestBlock()
	block := database.NewBlock(latest.Index+1, latest.Hash, trans, latest.Timestamp+1000)

	block, err := database.POW(context.Background(), block, db.Genesis().Difficulty, noop)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %s", failed, err)
	}

	return block
}

func transfer(t *testing.T, to database.Address, amount database.Amount, ts int64) database.Transaction {
	t.Helper()

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the private key: %s", failed, err)
	}

	tx, err := database.NewTransaction(kennedy, to, amount)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %s", failed, err)
	}
	tx.Timestamp = ts

	signed, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %s", failed, err)
	}

	return signed
}

func reward(to database.Address, ts int64) database.Transaction {
	return database.NewCoinbase(to, database.Coins(50), ts)
}

// =============================================================================

func Test_Genesis(t *testing.T) {
	t.Log("Given the need to start a fresh chain.")
	{
		db := newDatabase(t)

		if h := db.Height(); h != 0 {
			t.Fatalf("\t%s\tShould have exactly one block, got height %d.", failed, h)
		}
		t.Logf("\t%s\tShould have exactly one block.", success)

		block := db.LatestBlock()
		if block.Index != 0 || block.PreviousHash != "0" {
			t.Fatalf("\t%s\tShould have index 0 and previous hash \"0\": %d %q", failed, block.Index, block.PreviousHash)
		}
		t.Logf("\t%s\tShould have index 0 and previous hash \"0\".", success)

		if len(block.Transactions) != 1 || !block.Transactions[0].IsCoinbase() || block.Transactions[0].Amount != 0 {
			t.Fatalf("\t%s\tShould hold one coinbase transaction of amount 0.", failed)
		}
		t.Logf("\t%s\tShould hold one coinbase transaction of amount 0.", success)

		other := newDatabase(t)
		if other.LatestBlock().Hash != block.Hash {
			t.Fatalf("\t%s\tShould derive the same genesis block on every node.", failed)
		}
		t.Logf("\t%s\tShould derive the same genesis block on every node.", success)
	}
}

func Test_AppendBlock(t *testing.T) {
	t.Log("Given the need to extend the chain.")
	{
		db := newDatabase(t)

		b1 := mineNext(t, db, reward(kennedy, 1))
		if err := db.AppendBlock(b1); err != nil {
			t.Fatalf("\t%s\tShould be able to append the reward block: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to append the reward block.", success)

		b2 := mineNext(t, db, transfer(t, pavel, database.Coins(20), 2), reward(ceasar, 2))
		if err := db.AppendBlock(b2); err != nil {
			t.Fatalf("\t%s\tShould be able to append a transfer block: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to append a transfer block.", success)

		balances := map[database.Address]int64{
			kennedy: int64(database.Coins(30)),
			pavel:   int64(database.Coins(20)),
			ceasar:  int64(database.Coins(50)),
		}
		for addr, exp := range balances {
			if got := db.BalanceOf(addr); got != exp {
				t.Logf("\t%s\tgot: %d", failed, got)
				t.Logf("\t%s\texp: %d", failed, exp)
				t.Fatalf("\t%s\tShould get the right balance for %s.", failed, addr)
			}
		}
		t.Logf("\t%s\tShould get the right balances.", success)

		if db.BalanceOf(kennedy) != db.BalanceOf(kennedy) {
			t.Fatalf("\t%s\tShould get the same balance twice over an unchanged chain.", failed)
		}
		t.Logf("\t%s\tShould get the same balance twice over an unchanged chain.", success)

		var sum int64
		for _, bal := range db.Balances() {
			sum += bal
		}
		if sum != db.MintedSupply() {
			t.Logf("\t%s\tgot: %d", failed, sum)
			t.Logf("\t%s\texp: %d", failed, db.MintedSupply())
			t.Fatalf("\t%s\tShould have balances summing to the minted supply.", failed)
		}
		t.Logf("\t%s\tShould have balances summing to the minted supply.", success)

		if !db.IsChainValid() {
			t.Fatalf("\t%s\tShould have a valid chain.", failed)
		}
		t.Logf("\t%s\tShould have a valid chain.", success)

		headers := db.Headers(1, 10)
		if len(headers) != 2 || headers[1].Hash != b2.Hash || headers[1].TxCount != 2 {
			t.Fatalf("\t%s\tShould get back headers bounded by the latest block.", failed)
		}
		t.Logf("\t%s\tShould get back headers bounded by the latest block.", success)

		blocks := db.Range(1, 500)
		if len(blocks) != 2 || blocks[0].Hash != b1.Hash {
			t.Fatalf("\t%s\tShould get back a range bounded by the latest block.", failed)
		}
		t.Logf("\t%s\tShould get back a range bounded by the latest block.", success)
	}
}

func Test_AppendBlockRejects(t *testing.T) {
	db := newDatabase(t)
	if err := db.AppendBlock(mineNext(t, db, reward(kennedy, 1))); err != nil {
		t.Fatalf("\t%s\tShould be able to append the reward block: %s", failed, err)
	}

	spent := transfer(t, pavel, database.Coins(1), 5)
	if err := db.AppendBlock(mineNext(t, db, spent)); err != nil {
		t.Fatalf("\t%s\tShould be able to append the transfer block: %s", failed, err)
	}

	tt := []struct {
		name  string
		block func(t *testing.T) database.Block
		kind  error
	}{
		{
			name: "index",
			block: func(t *testing.T) database.Block {
				b := mineNext(t, db)
				b.Index++
				b.Hash = b.ComputeHash()
				return b
			},
			kind: database.ErrIndexOutOfOrder,
		},
		{
			name: "linkage",
			block: func(t *testing.T) database.Block {
				latest := db.LatestBlock()
				b := database.NewBlock(latest.Index+1, strings.Repeat("f", 64), nil, latest.Timestamp)
				b, _ = database.POW(context.Background(), b, 1, noop)
				return b
			},
			kind: database.ErrBrokenLinkage,
		},
		{
			name: "hash",
			block: func(t *testing.T) database.Block {
				b := mineNext(t, db)
				b.Nonce++
				return b
			},
			kind: database.ErrHashMismatch,
		},
		{
			name: "work",
			block: func(t *testing.T) database.Block {
				latest := db.LatestBlock()
				b := database.NewBlock(latest.Index+1, latest.Hash, nil, latest.Timestamp)
				for database.IsHashSolved(1, b.Hash) {
					b.Nonce++
					b.Hash = b.ComputeHash()
				}
				return b
			},
			kind: database.ErrInsufficientWork,
		},
		{
			name: "seed",
			block: func(t *testing.T) database.Block {
				latest := db.LatestBlock()
				b := database.NewBlock(latest.Index+1, latest.Hash, nil, latest.Timestamp)
				b.CoinValue++
				b, _ = database.POW(context.Background(), b, 1, noop)
				return b
			},
			kind: database.ErrMalformedBlock,
		},
		{
			name: "twocoinbase",
			block: func(t *testing.T) database.Block {
				return mineNext(t, db, reward(kennedy, 7), reward(pavel, 7))
			},
			kind: database.ErrInvalidCoinbase,
		},
		{
			name: "mint",
			block: func(t *testing.T) database.Block {
				return mineNext(t, db, database.NewCoinbase(kennedy, database.Coins(51), 7))
			},
			kind: database.ErrInvalidCoinbase,
		},
		{
			name: "signature",
			block: func(t *testing.T) database.Block {
				tx := transfer(t, pavel, database.Coins(1), 9)
				tx.Amount = database.Coins(2)
				return mineNext(t, db, tx)
			},
			kind: database.ErrInvalidSignature,
		},
		{
			name: "replay",
			block: func(t *testing.T) database.Block {
				return mineNext(t, db, spent)
			},
			kind: database.ErrDuplicateTransaction,
		},
	}

	t.Log("Given the need to reject invalid blocks without mutating the chain.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				height := db.Height()

				err := db.AppendBlock(tst.block(t))
				if !errors.Is(err, tst.kind) {
					t.Logf("\t%s\tTest %d:\tgot: %v", failed, testID, err)
					t.Logf("\t%s\tTest %d:\texp: %v", failed, testID, tst.kind)
					t.Fatalf("\t%s\tTest %d:\tShould get back the right validation failure.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get back the right validation failure.", success, testID)

				if !database.IsValidationError(err) {
					t.Fatalf("\t%s\tTest %d:\tShould get back a validation error.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get back a validation error.", success, testID)

				if db.Height() != height {
					t.Fatalf("\t%s\tTest %d:\tShould not mutate the chain.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould not mutate the chain.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_ValidateSpend(t *testing.T) {
	t.Log("Given the need to admit transactions against the confirmed balance.")
	{
		db := newDatabase(t)
		if err := db.AppendBlock(mineNext(t, db, reward(kennedy, 1))); err != nil {
			t.Fatalf("\t%s\tShould be able to append the reward block: %s", failed, err)
		}

		tx := transfer(t, pavel, database.Coins(30), 2)
		if err := db.ValidateSpend(tx, 0); err != nil {
			t.Fatalf("\t%s\tShould admit a spend covered by the balance: %s", failed, err)
		}
		t.Logf("\t%s\tShould admit a spend covered by the balance.", success)

		if err := db.ValidateSpend(tx, database.Coins(30)); !errors.Is(err, database.ErrInsufficientFunds) {
			t.Fatalf("\t%s\tShould reject a spend once pending spends exhaust the balance: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a spend once pending spends exhaust the balance.", success)

		huge := transfer(t, pavel, database.Amount(1<<63), 4)
		if err := db.ValidateSpend(huge, 0); !errors.Is(err, database.ErrMalformedTransaction) {
			t.Fatalf("\t%s\tShould reject an amount that does not fit a balance: %v", failed, err)
		}
		if err := db.AppendBlock(mineNext(t, db, huge)); !errors.Is(err, database.ErrMalformedTransaction) {
			t.Fatalf("\t%s\tShould reject a block carrying an oversized amount: %v", failed, err)
		}
		if got := db.BalanceOf(kennedy); got != int64(database.Coins(50)) {
			t.Fatalf("\t%s\tShould leave the balance untouched, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould reject an amount that does not fit a balance.", success)

		if err := db.ValidateSpend(transfer(t, pavel, database.MaxAmount, 5), 0); !errors.Is(err, database.ErrInsufficientFunds) {
			t.Fatalf("\t%s\tShould reject the largest amount from a small balance: %v", failed, err)
		}
		if err := db.ValidateSpend(tx, database.Amount(^uint64(0))); !errors.Is(err, database.ErrInsufficientFunds) {
			t.Fatalf("\t%s\tShould reject a spend when the pending spend overflows: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject spends near the amount limits.", success)

		if err := db.ValidateSpend(reward(kennedy, 3), 0); !errors.Is(err, database.ErrInvalidCoinbase) {
			t.Fatalf("\t%s\tShould reject a submitted coinbase transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a submitted coinbase transaction.", success)
	}
}

func Test_Reload(t *testing.T) {
	type table struct {
		name    string
		storage func(t *testing.T, dir string) database.Storage
	}

	tt := []table{
		{
			name: "disk",
			storage: func(t *testing.T, dir string) database.Storage {
				d, err := storage.NewDisk(dir)
				if err != nil {
					t.Fatalf("\t%s\tShould be able to open disk storage: %s", failed, err)
				}
				return d
			},
		},
		{
			name: "badger",
			storage: func(t *testing.T, dir string) database.Storage {
				b, err := storage.NewBadger(dir)
				if err != nil {
					t.Fatalf("\t%s\tShould be able to open badger storage: %s", failed, err)
				}
				return b
			},
		},
	}

	t.Log("Given the need to reload a persisted chain.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				dir := t.TempDir()

				db, err := database.New(testGenesis(), tst.storage(t, dir), noop)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to construct the database: %s", failed, testID, err)
				}

				for i := int64(1); i <= 3; i++ {
					if err := db.AppendBlock(mineNext(t, db, reward(kennedy, i))); err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to append block %d: %s", failed, testID, i, err)
					}
				}
				latest := db.LatestBlock()
				db.Close()

				db, err = database.New(testGenesis(), tst.storage(t, dir), noop)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to reload the database: %s", failed, testID, err)
				}
				defer db.Close()
				t.Logf("\t%s\tTest %d:\tShould be able to reload the database.", success, testID)

				if db.LatestBlock().Hash != latest.Hash {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, db.LatestBlock().Hash)
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, latest.Hash)
					t.Fatalf("\t%s\tTest %d:\tShould reload the same latest block.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould reload the same latest block.", success, testID)

				if got := db.BalanceOf(kennedy); got != int64(database.Coins(150)) {
					t.Fatalf("\t%s\tTest %d:\tShould replay balances after reload, got %d.", failed, testID, got)
				}
				t.Logf("\t%s\tTest %d:\tShould replay balances after reload.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}
