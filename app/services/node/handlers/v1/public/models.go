package public

import (
	"github.com/mathcoin/node/foundation/blockchain/database"
)

type balance struct {
	Address      database.Address `json:"address"`
	Confirmed    string           `json:"confirmed"`
	PendingSpend string           `json:"pendingSpend"`
	Available    string           `json:"available"`
	Units        int64            `json:"units"`
}

type block struct {
	Index        uint64                 `json:"index"`
	Timestamp    int64                  `json:"timestamp"`
	PreviousHash string                 `json:"previousHash"`
	Hash         string                 `json:"hash"`
	Nonce        uint64                 `json:"nonce"`
	MathSeed     string                 `json:"mathSeed"`
	CoinValue    string                 `json:"coinValue"`
	Transactions []database.Transaction `json:"transactions"`
}

type submitResponse struct {
	Status string `json:"status"`
	Hash   string `json:"hash"`
}
