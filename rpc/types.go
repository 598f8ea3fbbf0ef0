package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"trustledger/core/chain"
	"trustledger/core/types"
	"trustledger/native/escrow"
	"trustledger/native/wallet"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeForbidden      = -32003
	codeRateLimited    = -32020

	codeInvalidRecipient  = -32030
	codeNullIdentity      = -32031
	codeStateMismatch     = -32032
	codeTransferFailure   = -32033
	codeInsufficientFunds = -32034
	codeNotPayable        = -32035
	codeNotFound          = -32036
	codeOracleRejected    = -32037
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
}

// writeDomainError maps ledger errors onto JSON-RPC codes. Rejections are
// client errors; anything unrecognised is reported as a server error.
func writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	status, code, message := http.StatusBadRequest, codeServerError, "internal_error"
	switch {
	case errors.Is(err, types.ErrInvalidRecipient):
		code, message = codeInvalidRecipient, "invalid_recipient"
	case errors.Is(err, types.ErrNullIdentity):
		code, message = codeNullIdentity, "null_identity"
	case errors.Is(err, types.ErrStateMismatch):
		code, message = codeStateMismatch, "state_mismatch"
	case errors.Is(err, types.ErrTransferFailure):
		code, message = codeTransferFailure, "transfer_failure"
	case errors.Is(err, types.ErrInsufficientBalance):
		code, message = codeInsufficientFunds, "insufficient_balance"
	case errors.Is(err, types.ErrInvalidAmount):
		code, message = codeInvalidParams, "invalid_params"
	case errors.Is(err, types.ErrCustodialSender), errors.Is(err, escrow.ErrNotPayable):
		code, message = codeNotPayable, "not_payable"
	case errors.Is(err, wallet.ErrNotWallet), errors.Is(err, escrow.ErrNotChainSend), errors.Is(err, chain.ErrUnknownHeader):
		status, code, message = http.StatusNotFound, codeNotFound, "not_found"
	case errors.Is(err, wallet.ErrInvalidOracle), errors.Is(err, wallet.ErrOracleNotDeployed):
		code, message = codeOracleRejected, "oracle_rejected"
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, code, message, err.Error())
}
