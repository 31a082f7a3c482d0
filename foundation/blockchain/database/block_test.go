package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mathcoin/node/foundation/blockchain/database"
)

func Test_POW(t *testing.T) {
	t.Log("Given the need to mine a block.")
	{
		const difficulty = 3

		block := database.NewBlock(1, strings.Repeat("0", 64), []database.Transaction{reward(kennedy, 1)}, 1000)

		mined, err := database.POW(context.Background(), block, difficulty, noop)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to mine the block: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to mine the block.", success)

		if !strings.HasPrefix(mined.Hash, "000") {
			t.Fatalf("\t%s\tShould have %d leading zeros: %s", failed, difficulty, mined.Hash)
		}
		t.Logf("\t%s\tShould have %d leading zeros.", success, difficulty)

		if mined.ComputeHash() != mined.Hash {
			t.Fatalf("\t%s\tShould store the hash of the winning nonce.", failed)
		}
		t.Logf("\t%s\tShould store the hash of the winning nonce.", success)
	}
}

func Test_POWNotOverSatisfied(t *testing.T) {
	t.Log("Given the need to stop the search at the requested difficulty.")
	{
		const difficulty = 2
		const seeds = 20

		var extra int
		for i := 0; i < seeds; i++ {
			block := database.NewBlock(uint64(i+1), strings.Repeat("0", 64), nil, int64(i))

			mined, err := database.POW(context.Background(), block, difficulty, noop)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to mine block %d: %s", failed, i, err)
			}

			if database.IsHashSolved(difficulty+1, mined.Hash) {
				extra++
			}
		}

		if extra == seeds {
			t.Fatalf("\t%s\tShould not always satisfy a higher difficulty.", failed)
		}
		t.Logf("\t%s\tShould not always satisfy a higher difficulty: %d/%d.", success, extra, seeds)

		if database.IsHashSolved(3, "00a"+strings.Repeat("f", 61)) {
			t.Fatalf("\t%s\tShould not accept d-1 leading zeros.", failed)
		}
		t.Logf("\t%s\tShould not accept d-1 leading zeros.", success)
	}
}

func Test_POWCancel(t *testing.T) {
	t.Log("Given the need to cancel mining.")
	{
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		block := database.NewBlock(1, strings.Repeat("0", 64), nil, 1)

		_, err := database.POW(ctx, block, 64, noop)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("\t%s\tShould get back a cancellation error: %v", failed, err)
		}
		t.Logf("\t%s\tShould get back a cancellation error.", success)
	}
}

func Test_HashDeterminism(t *testing.T) {
	t.Log("Given the need to recompute a block hash from its stored fields.")
	{
		block := database.NewBlock(2, strings.Repeat("a", 64), []database.Transaction{
			transfer(t, pavel, database.Coins(3), 10),
			reward(kennedy, 10),
		}, 12345)

		if block.ComputeHash() != block.ComputeHash() {
			t.Fatalf("\t%s\tShould get the same hash twice.", failed)
		}
		t.Logf("\t%s\tShould get the same hash twice.", success)

		data, err := json.Marshal(block)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal the block: %s", failed, err)
		}

		var decoded database.Block
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("\t%s\tShould be able to unmarshal the block: %s", failed, err)
		}

		if decoded.ComputeHash() != block.Hash {
			t.Logf("\t%s\tgot: %s", failed, decoded.ComputeHash())
			t.Logf("\t%s\texp: %s", failed, block.Hash)
			t.Fatalf("\t%s\tShould get the same hash after a round trip.", failed)
		}
		t.Logf("\t%s\tShould get the same hash after a round trip.", success)

		if !decoded.Transactions[1].IsCoinbase() {
			t.Fatalf("\t%s\tShould keep the coinbase transaction without a sender.", failed)
		}
		t.Logf("\t%s\tShould keep the coinbase transaction without a sender.", success)
	}
}

func Test_MathSeed(t *testing.T) {
	tt := []struct {
		index uint64
		seed  string
		value database.Amount
	}{
		{index: 0, seed: "798733", value: 1186018914},
		{index: 1, seed: "13842", value: 1362384619},
		{index: 2, seed: "47811", value: 1312225565},
		{index: 9, seed: "85593", value: 959494155},
		{index: 100, seed: "76753", value: 1218379594},
	}

	t.Log("Given the need to derive block metadata from the index.")
	{
		for testID, tst := range tt {
			seed := database.MathSeed(tst.index)
			if seed != tst.seed {
				t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, seed)
				t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.seed)
				t.Fatalf("\t%s\tTest %d:\tShould get back the right seed.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get back the right seed.", success, testID)

			if v := database.CoinValue(seed); v != tst.value {
				t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, v)
				t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.value)
				t.Fatalf("\t%s\tTest %d:\tShould get back the right coin value.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get back the right coin value.", success, testID)
		}

		if v := database.CoinValue(""); v != database.CoinValue("123456789") {
			t.Fatalf("\t%s\tShould fall back to the default seed number.", failed)
		}
		t.Logf("\t%s\tShould fall back to the default seed number.", success)
	}
}

func Test_ParseAmount(t *testing.T) {
	tt := []struct {
		coins string
		value database.Amount
		fail  bool
	}{
		{coins: "10", value: database.Coins(10)},
		{coins: "1.5", value: 150_000_000},
		{coins: "0.00000001", value: 1},
		{coins: ".25", value: 25_000_000},
		{coins: "1.000000001", fail: true},
		{coins: "", fail: true},
		{coins: "abc", fail: true},
	}

	t.Log("Given the need to parse coin amounts typed by a user.")
	{
		for testID, tst := range tt {
			v, err := database.ParseAmount(tst.coins)
			switch {
			case tst.fail && err == nil:
				t.Fatalf("\t%s\tTest %d:\tShould reject %q.", failed, testID, tst.coins)
			case !tst.fail && err != nil:
				t.Fatalf("\t%s\tTest %d:\tShould parse %q: %s", failed, testID, tst.coins, err)
			case v != tst.value:
				t.Fatalf("\t%s\tTest %d:\tShould get %d for %q, got %d.", failed, testID, tst.value, tst.coins, v)
			}
			t.Logf("\t%s\tTest %d:\tShould handle %q.", success, testID, tst.coins)
		}
	}
}
