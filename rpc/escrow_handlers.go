package rpc

import (
	"net/http"

	"trustledger/core/types"
	"trustledger/native/escrow"
)

type chainSendDeployParams struct {
	Creator   string `json:"creator"`
	Recipient string `json:"recipient"`
	Number    uint64 `json:"number"`
	Expected  string `json:"expected"`
	Value     string `json:"value"`
}

type chainSendJSON struct {
	Address   string `json:"address"`
	Creator   string `json:"creator"`
	Recipient string `json:"recipient"`
	Number    uint64 `json:"number"`
	Expected  string `json:"expected"`
	Value     string `json:"value"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash"`
}

func formatChainSend(c *escrow.ChainSend) chainSendJSON {
	ref := c.Reference()
	return chainSendJSON{
		Address:   c.Address().Hex(),
		Creator:   c.Creator().Hex(),
		Recipient: c.Recipient().Hex(),
		Number:    ref.Number,
		Expected:  ref.Expected.Hex(),
		Value:     c.Value().String(),
		Status:    c.Status().String(),
		TxHash:    c.TxHash().Hex(),
	}
}

func (s *Server) handleEscrowDeployChainSend(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params chainSendDeployParams
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
	recipient, err := parseAddress("recipient", params.Recipient)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	expected, err := parseHash("expected", params.Expected)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	value, err := parseAmount("value", params.Value)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	cs, err := s.node.DeployChainSend(escrow.Params{
		Creator:   creator,
		Recipient: recipient,
		Reference: types.ChainStateReference{Number: params.Number, Expected: expected},
		Value:     value,
	})
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatChainSend(cs))
}

func (s *Server) handleEscrowGetChainSend(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
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
	cs, err := s.node.ChainSend(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatChainSend(cs))
}
