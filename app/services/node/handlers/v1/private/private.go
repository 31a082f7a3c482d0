// Package private maintains the group of handlers for operator access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mathcoin/node/business/web/errs"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/node"
	"github.com/mathcoin/node/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of operator endpoints.
type Handlers struct {
	Log  *zap.SugaredLogger
	Node *node.Node
}

// MineRequest names the address receiving the mining reward.
type MineRequest struct {
	RewardAddress string `json:"rewardAddress" validate:"required"`
}

// ConnectRequest names a peer to dial.
type ConnectRequest struct {
	Address string `json:"address" validate:"required,hostname_port"`
}

// Mine mines the pending transactions into the next block.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req MineRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	reward, err := database.ToAddress(req.RewardAddress)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("mine", "traceid", v.TraceID, "reward", reward)

	block, err := h.Node.Mine(ctx, reward)
	if err != nil {
		switch {
		case errors.Is(err, node.ErrMiningInProgress):
			return errs.NewTrusted(err, http.StatusConflict)
		case errors.Is(err, node.ErrMiningCancelled):
			return errs.NewTrusted(err, http.StatusConflict)
		}
		return err
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Connect dials a peer.
func (h Handlers) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req ConnectRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := h.Node.Connect(ctx, req.Address); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "dialing " + req.Address,
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}
