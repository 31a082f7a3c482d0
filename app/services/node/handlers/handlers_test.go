package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mathcoin/node/app/services/node/handlers"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/database/storage"
	"github.com/mathcoin/node/foundation/blockchain/genesis"
	"github.com/mathcoin/node/foundation/blockchain/node"
	"github.com/mathcoin/node/foundation/events"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const kennedy = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"

func newMuxes(t *testing.T) (public http.Handler, private http.Handler) {
	t.Helper()

	gen := genesis.Genesis{
		Date:         time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Network:      "test",
		Difficulty:   1,
		MiningReward: uint64(database.Coins(50)),
	}

	db, err := database.New(gen, storage.NewMemory(), nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the database: %s", failed, err)
	}

	nd, err := node.New(node.Config{
		ListenAddr: "127.0.0.1:0",
		Database:   db,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the node: %s", failed, err)
	}
	if err := nd.Start(); err != nil {
		t.Fatalf("\t%s\tShould be able to start the node: %s", failed, err)
	}
	t.Cleanup(nd.Stop)

	cfg := handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		Node:     nd,
		Evts:     events.New(),
	}

	return handlers.PublicMux(cfg), handlers.PrivateMux(cfg)
}

func serve(h http.Handler, method string, target string, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// =============================================================================

func Test_Routes(t *testing.T) {
	t.Log("Given the need to serve the node over http.")
	{
		public, private := newMuxes(t)

		w := serve(public, http.MethodGet, "/v1/node/status", "")
		var status node.Status
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &status) != nil {
			t.Fatalf("\t%s\tShould get the node status: %d %s", failed, w.Code, w.Body)
		}
		if status.Height != 0 || status.Network != "test" {
			t.Fatalf("\t%s\tShould report the genesis height, got %d.", failed, status.Height)
		}
		t.Logf("\t%s\tShould get the node status.", success)

		if w := serve(public, http.MethodGet, "/v1/balances/nope", ""); w.Code != http.StatusBadRequest {
			t.Fatalf("\t%s\tShould reject a bad address with 400, got %d.", failed, w.Code)
		}
		t.Logf("\t%s\tShould reject a bad address with 400.", success)

		if w := serve(public, http.MethodPost, "/v1/tx/submit", "{bad json"); w.Code != http.StatusBadRequest {
			t.Fatalf("\t%s\tShould reject a malformed transaction with 400, got %d.", failed, w.Code)
		}
		t.Logf("\t%s\tShould reject a malformed transaction with 400.", success)

		w = serve(private, http.MethodPost, "/v1/mining/mine", `{"rewardAddress":"`+kennedy+`"}`)
		var block database.Block
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &block) != nil || block.Index != 1 {
			t.Fatalf("\t%s\tShould mine block 1: %d %s", failed, w.Code, w.Body)
		}
		t.Logf("\t%s\tShould mine block 1.", success)

		w = serve(public, http.MethodGet, "/v1/balances/"+kennedy, "")
		var bal struct {
			Confirmed string `json:"confirmed"`
		}
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &bal) != nil || bal.Confirmed != "50.00000000" {
			t.Fatalf("\t%s\tShould credit the mining reward: %d %s", failed, w.Code, w.Body)
		}
		t.Logf("\t%s\tShould credit the mining reward.", success)

		w = serve(public, http.MethodGet, "/v1/blocks/list/0/latest", "")
		var blocks []json.RawMessage
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &blocks) != nil || len(blocks) != 2 {
			t.Fatalf("\t%s\tShould list both blocks: %d %s", failed, w.Code, w.Body)
		}
		t.Logf("\t%s\tShould list both blocks.", success)

		if w := serve(public, http.MethodGet, "/v1/blocks/list/5/latest", ""); w.Code != http.StatusNoContent {
			t.Fatalf("\t%s\tShould get 204 past the tip, got %d.", failed, w.Code)
		}
		t.Logf("\t%s\tShould get 204 past the tip.", success)

		if w := serve(private, http.MethodPost, "/v1/node/connect", `{"address":"not an address"}`); w.Code != http.StatusBadRequest {
			t.Fatalf("\t%s\tShould reject a bad peer address with 400, got %d.", failed, w.Code)
		}
		t.Logf("\t%s\tShould reject a bad peer address with 400.", success)
	}
}
