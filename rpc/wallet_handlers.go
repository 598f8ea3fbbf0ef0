package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"trustledger/crypto"
	"trustledger/native/wallet"
)

type walletDeployParams struct {
	Creator string `json:"creator"`
	Oracle  string `json:"oracle"`
}

type walletParams struct {
	Wallet string `json:"wallet"`
}

type walletIdentityParams struct {
	Wallet   string `json:"wallet"`
	Identity string `json:"identity"`
}

type walletDepositParams struct {
	Wallet string `json:"wallet"`
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type walletWithdrawParams struct {
	Wallet string `json:"wallet"`
	Caller string `json:"caller"`
	Target string `json:"target"`
}

type walletMessageParams struct {
	Wallet  string `json:"wallet"`
	Caller  string `json:"caller"`
	Message string `json:"message"`
}

type walletCodeParams struct {
	Wallet  string `json:"wallet"`
	Address string `json:"address"`
}

type walletJSON struct {
	Address        string `json:"address"`
	Identity       string `json:"identity"`
	Oracle         string `json:"oracle"`
	OracleCodeHash string `json:"oracleCodeHash"`
	Custody        string `json:"custody"`
	AddrsLength    uint64 `json:"addrsLength"`
}

type verdictJSON struct {
	Address  string `json:"address"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
	Match    bool   `json:"match"`
}

// loadWallet decodes the wallet address and resolves it. On failure the error
// response has already been written.
func (s *Server) loadWallet(w http.ResponseWriter, req *RPCRequest, raw string) (*wallet.Wallet, bool) {
	addr, err := parseAddress("wallet", raw)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return nil, false
	}
	wal, err := s.node.Wallet(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return nil, false
	}
	return wal, true
}

func (s *Server) describeWallet(wal *wallet.Wallet) (walletJSON, error) {
	custody, err := wal.Custody()
	if err != nil {
		return walletJSON{}, err
	}
	count, err := wal.GetAddrsLength()
	if err != nil {
		return walletJSON{}, err
	}
	identity, err := crypto.EncodeIdentity(wal.Address())
	if err != nil {
		return walletJSON{}, err
	}
	return walletJSON{
		Address:        wal.Address().Hex(),
		Identity:       identity,
		Oracle:         wal.OracleAddr().Hex(),
		OracleCodeHash: wal.OracleCodeHash().Hex(),
		Custody:        custody.String(),
		AddrsLength:    count,
	}, nil
}

func (s *Server) handleWalletDeploy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params walletDeployParams
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
	oracle, err := parseAddress("oracle", params.Oracle)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, err := s.node.DeployWallet(creator, oracle)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	info, err := s.describeWallet(wal)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, info)
}

func (s *Server) handleWalletInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params walletParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	info, err := s.describeWallet(wal)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, info)
}

func (s *Server) handleWalletDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params walletDepositParams
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
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	balance, err := wal.Deposit(from, amount)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) handleWalletWithdrawTo(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params walletWithdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !authorizeActor(w, r, req, "caller", caller) {
		return
	}
	target, err := parseAddress("target", params.Target)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	amount, err := wal.WithdrawTo(caller, target)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amount.String())
}

func (s *Server) handleWalletGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params walletIdentityParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	id, err := parseAddress("identity", params.Identity)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	balance, err := wal.GetBalance(id)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) handleWalletGetAddrsLength(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params walletParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	count, err := wal.GetAddrsLength()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) handleWalletSetMessage(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params walletMessageParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !authorizeActor(w, r, req, "caller", caller) {
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	if err := wal.SetMessage(caller, []byte(params.Message)); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleWalletGetMessage(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params walletIdentityParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	id, err := parseAddress("identity", params.Identity)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	msg, err := wal.GetMessage(id)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, string(msg))
}

func (s *Server) walletCodeTarget(w http.ResponseWriter, req *RPCRequest) (*wallet.Wallet, common.Address, bool) {
	var params walletCodeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return nil, common.Address{}, false
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return nil, common.Address{}, false
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return nil, common.Address{}, false
	}
	return wal, addr, true
}

func (s *Server) handleWalletGetCode(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	wal, addr, ok := s.walletCodeTarget(w, req)
	if !ok {
		return
	}
	code, err := wal.GetCode(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, hexutil.Encode(code))
}

func (s *Server) handleWalletGetCodeHash(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	wal, addr, ok := s.walletCodeTarget(w, req)
	if !ok {
		return
	}
	hash, err := wal.GetCodeHash(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, hash.Hex())
}

func (s *Server) handleWalletVerifyOracle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params walletParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	wal, ok := s.loadWallet(w, req, params.Wallet)
	if !ok {
		return
	}
	verdict, err := wal.VerifyOracle()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, verdictJSON{
		Address:  verdict.Address.Hex(),
		Expected: verdict.Expected.Hex(),
		Observed: verdict.Observed.Hex(),
		Match:    verdict.Match,
	})
}
