package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
	"github.com/tolelom/tolsettle/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	methods map[string]func(Request) Response
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	h := &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
	h.methods = map[string]func(Request) Response{
		"getBlockHeight":      func(req Request) Response { return okResponse(req.ID, h.bc.Height()) },
		"getMempoolSize":      func(req Request) Response { return okResponse(req.ID, h.mempool.Size()) },
		"getBlock":            h.getBlock,
		"getBalance":          h.getBalance,
		"getTokenBalance":     h.getTokenBalance,
		"getParams":           h.getParams,
		"getSession":          h.bySessionID(func(id uint64) (any, error) { return h.state.GetSession(id) }),
		"getReward":           h.bySessionID(func(id uint64) (any, error) { return h.state.GetReward(id) }),
		"getDispute":          h.bySessionID(func(id uint64) (any, error) { return h.state.GetDispute(id) }),
		"getTrustedServer":    h.getTrustedServer,
		"getGameModule":       h.byString("id", func(id string) (any, error) { return h.state.GetGameModule(id) }),
		"getPlayerStats":      h.byString("player", h.playerStats),
		"getNFTStats":         h.byString("token_id", h.nftStats),
		"isResultProcessed":   h.isResultProcessed,
		"getReceipt":          h.byString("tx_id", func(id string) (any, error) { return h.indexer.GetReceipt(id) }),
		"getSessionsByPlayer": h.byString("player", func(p string) (any, error) { return h.indexer.GetSessionsByPlayer(p) }),
		"getSessionsByNFT":    h.byString("token_id", func(id string) (any, error) { return h.indexer.GetSessionsByNFT(id) }),
		"sendTx":              h.sendTx,
	}
	return h
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	m, ok := h.methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	return m(req)
}

// found renders a getter result: ErrNotFound becomes a null result.
func found(req Request, v any, err error) Response {
	if errors.Is(err, core.ErrNotFound) {
		return okResponse(req.ID, nil)
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, v)
}

func decodeParams(req Request, v any) *Response {
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &resp
	}
	return nil
}

func (h *Handler) bySessionID(get func(uint64) (any, error)) func(Request) Response {
	return func(req Request) Response {
		var params struct {
			SessionID *uint64 `json:"session_id"`
		}
		if resp := decodeParams(req, &params); resp != nil {
			return *resp
		}
		if params.SessionID == nil {
			return errResponse(req.ID, CodeInvalidParams, "session_id is required")
		}
		v, err := get(*params.SessionID)
		return found(req, v, err)
	}
}

func (h *Handler) byString(field string, get func(string) (any, error)) func(Request) Response {
	return func(req Request) Response {
		var params map[string]string
		if resp := decodeParams(req, &params); resp != nil {
			return *resp
		}
		val := params[field]
		if val == "" {
			return errResponse(req.ID, CodeInvalidParams, field+" is required")
		}
		v, err := get(val)
		return found(req, v, err)
	}
}

// The state zero-fills stats for unknown keys; a record without any
// progression is reported as absent.
func (h *Handler) playerStats(player string) (any, error) {
	st, err := h.state.GetPlayerStats(player)
	if err != nil {
		return nil, err
	}
	if st.Progress == (core.Progress{}) {
		return nil, core.ErrNotFound
	}
	return st, nil
}

func (h *Handler) nftStats(tokenID string) (any, error) {
	st, err := h.state.GetNFTStats(tokenID)
	if err != nil {
		return nil, err
	}
	if st.Progress == (core.Progress{}) {
		return nil, core.ErrNotFound
	}
	return st, nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if resp := decodeParams(req, &params); resp != nil {
			return *resp
		}
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if block == nil && err == nil {
		err = core.ErrNotFound
	}
	return found(req, block, err)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) getTokenBalance(req Request) Response {
	var params struct {
		Contract string `json:"token_contract"`
		Address  string `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Contract == "" || params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "token_contract and address are required")
	}
	bal, err := h.state.GetTokenBalance(params.Contract, params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"token_contract": params.Contract, "address": params.Address, "balance": bal})
}

func (h *Handler) getParams(req Request) Response {
	p, err := h.state.GetParams()
	return found(req, p, err)
}

func (h *Handler) getTrustedServer(req Request) Response {
	var params struct {
		PublicKey string `json:"public_key"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	// Normalise so callers may pass upper-case hex.
	pub, err := crypto.CompressedPubKeyFromHex(params.PublicKey)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "public_key: "+err.Error())
	}
	srv, err := h.state.GetTrustedServer(pub.Hex())
	return found(req, srv, err)
}

func (h *Handler) isResultProcessed(req Request) Response {
	var params struct {
		ResultHash string `json:"result_hash"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	d, err := crypto.DigestFromHex(params.ResultHash)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "result_hash: "+err.Error())
	}
	seen, err := h.state.IsResultProcessed(d.Hex())
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, seen)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if resp := decodeParams(req, &tx); resp != nil {
		return *resp
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		if errors.Is(err, core.ErrTxKnown) {
			resp := errResponse(req.ID, CodeTxKnown, err.Error())
			resp.Error.Data = &ErrorData{Code: "TxKnown"}
			return resp
		}
		return errResponse(req.ID, CodeTxRejected, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
