package mempool

import (
	"sort"

	"github.com/mathcoin/node/foundation/blockchain/database"
)

// selectByArrival orders the entries by arrival and returns the first
// howMany transactions. Coinbase transactions are always selected, count
// against the limit and are placed last.
func selectByArrival(entries []entry, howMany int) []database.Transaction {
	sort.Sort(byArrival(entries))

	if howMany < 0 || howMany > len(entries) {
		howMany = len(entries)
	}

	var coinbase []database.Transaction
	for _, e := range entries {
		if e.tx.IsCoinbase() {
			coinbase = append(coinbase, e.tx)
		}
	}

	room := howMany - len(coinbase)
	final := make([]database.Transaction, 0, howMany)

	for _, e := range entries {
		if len(final) >= room {
			break
		}
		if !e.tx.IsCoinbase() {
			final = append(final, e.tx)
		}
	}

	return append(final, coinbase...)
}

// =============================================================================

// byArrival provides sorting support by arrival sequence.
type byArrival []entry

// Len returns the number of transactions in the list.
func (ba byArrival) Len() int {
	return len(ba)
}

// Less helps to sort the list by arrival in ascending order.
func (ba byArrival) Less(i, j int) bool {
	return ba[i].seq < ba[j].seq
}

// Swap moves transactions in the order of arrival.
func (ba byArrival) Swap(i, j int) {
	ba[i], ba[j] = ba[j], ba[i]
}
