// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mathcoin/node/business/web/errs"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/node"
	"github.com/mathcoin/node/foundation/events"
	"github.com/mathcoin/node/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log  *zap.SugaredLogger
	Node *node.Node
	WS   websocket.Upgrader
	Evts *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need this to handle CORS on the websocket.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	// This upgrades the HTTP connection to a websocket connection.
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// This provides a channel for receiving events from the node.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// Starting a ticker to send a ping message over the websocket.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Block waiting for events from the node or ticker.
	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Status returns the state of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status, err := h.Node.Status(ctx)
	if err != nil {
		return errs.NewTrusted(err, http.StatusServiceUnavailable)
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// Peers returns the active peers of the node.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	peers, err := h.Node.Peers(ctx)
	if err != nil {
		return errs.NewTrusted(err, http.StatusServiceUnavailable)
	}

	return web.Respond(ctx, w, peers, http.StatusOK)
}

// Sync returns the state of the sync engine.
func (h Handlers) Sync(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.SyncStatus(), http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.Genesis(), http.StatusOK)
}

// Balance returns the balance of an address.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address, err := database.ToAddress(web.Param(r, "address"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	bal, err := h.Node.Balance(ctx, address)
	if err != nil {
		return err
	}

	resp := balance{
		Address:      bal.Address,
		Confirmed:    formatUnits(bal.Confirmed),
		PendingSpend: bal.PendingSpend.String(),
		Available:    formatUnits(bal.Available),
		Units:        bal.Confirmed,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Blocks returns the blocks for the specified range of heights.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid from: %w", err), http.StatusBadRequest)
	}

	var to uint64
	switch param := web.Param(r, "to"); param {
	case "latest", "":
		to = ^uint64(0)
	default:
		if to, err = strconv.ParseUint(param, 10, 64); err != nil {
			return errs.NewTrusted(fmt.Errorf("invalid to: %w", err), http.StatusBadRequest)
		}
	}

	if from > to {
		return errs.NewTrusted(errors.New("from is greater than to"), http.StatusBadRequest)
	}

	blocks := h.Node.Blocks(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	resp := make([]block, len(blocks))
	for i, blk := range blocks {
		resp[i] = block{
			Index:        blk.Index,
			Timestamp:    blk.Timestamp,
			PreviousHash: blk.PreviousHash,
			Hash:         blk.Hash,
			Nonce:        blk.Nonce,
			MathSeed:     blk.MathSeed,
			CoinValue:    blk.CoinValue.String(),
			Transactions: blk.Transactions,
		}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Pending returns the transactions waiting to be mined.
func (h Handlers) Pending(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.Pending(), http.StatusOK)
}

// SubmitTransaction adds a signed transaction to the pending pool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.Transaction
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("submit tran", "traceid", v.TraceID, "from", tx.From(), "to", tx.ToAddress, "amount", tx.Amount)

	if err := h.Node.SubmitTransaction(ctx, tx); err != nil {
		if database.IsValidationError(err) || errors.Is(err, node.ErrAlreadyPending) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return err
	}

	resp := submitResponse{
		Status: "transaction added to the pending pool",
		Hash:   tx.Hash(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// formatUnits renders a signed number of base units as coins.
func formatUnits(units int64) string {
	if units < 0 {
		return "-" + database.Amount(-units).String()
	}
	return database.Amount(units).String()
}
