package rpc

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

var errEmptyCode = errors.New("code: executable content must not be empty")

type headerJSON struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	TxHash     string `json:"txHash"`
	Timestamp  uint64 `json:"timestamp"`
}

func formatHeader(h *gethtypes.Header) headerJSON {
	return headerJSON{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash().Hex(),
		ParentHash: h.ParentHash.Hex(),
		TxHash:     h.TxHash.Hex(),
		Timestamp:  h.Time,
	}
}

type numberParams struct {
	Number uint64 `json:"number"`
}

type addressParams struct {
	Address string `json:"address"`
}

type limitParams struct {
	Limit int `json:"limit"`
}

type sendValueParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type txResult struct {
	TxHash string `json:"txHash"`
}

type codeDeployParams struct {
	Creator string `json:"creator"`
	Code    string `json:"code"`
}

type codeDeployResult struct {
	Address  string `json:"address"`
	CodeHash string `json:"codeHash"`
}

func (s *Server) handleChainHead(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, formatHeader(s.node.Head()))
}

func (s *Server) handleChainGetHeader(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params numberParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	header, err := s.node.HeaderByNumber(params.Number)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatHeader(header))
}

func (s *Server) handleChainFingerprintAt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params numberParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	fp, err := s.node.FingerprintAt(params.Number)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, fp.Hex())
}

func (s *Server) handleChainGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) handleChainGetCode(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	code, err := s.node.Code(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, hexutil.Encode(code))
}

func (s *Server) handleChainRecentEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params limitParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
	}
	writeResult(w, req.ID, s.node.RecentEvents(params.Limit))
}

func (s *Server) handleChainSendValue(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params sendValueParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	from, err := parseAddress("from", params.From)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !authorizeActor(w, r, req, "from", from) {
		return
	}
	to, err := parseAddress("to", params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	hash, err := s.node.SendValue(from, to, amount)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: hash.Hex()})
}

func (s *Server) handleCodeDeploy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params codeDeployParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	creator, err := parseAddress("creator", params.Creator)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !authorizeActor(w, r, req, "creator", creator) {
		return
	}
	code, err := parseBytes("code", params.Code)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if len(code) == 0 {
		writeInvalidParams(w, req.ID, errEmptyCode)
		return
	}
	addr, err := s.node.DeployCode(creator, code)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	acc, err := s.node.Account(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, codeDeployResult{Address: addr.Hex(), CodeHash: acc.CodeHash.Hex()})
}
