package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core/types"
)

const (
	TypeWalletDeployed    = "wallet.deployed"
	TypeWalletDeposit     = "wallet.deposit"
	TypeWalletWithdraw    = "wallet.withdraw"
	TypeWalletMessage     = "wallet.message"
	TypeChainSendReleased = "escrow.chainsend.released"
	TypeCodeDeployed      = "code.deployed"
)

// WalletDeployed is emitted once a custodial wallet has frozen its oracle
// fingerprint.
type WalletDeployed struct {
	Wallet         common.Address
	Oracle         common.Address
	OracleCodeHash common.Hash
}

func (WalletDeployed) EventType() string { return TypeWalletDeployed }

func (e WalletDeployed) Event() *types.Event {
	return &types.Event{Type: TypeWalletDeployed, Attributes: map[string]string{
		"wallet":         formatAddress(e.Wallet),
		"oracle":         formatAddress(e.Oracle),
		"oracleCodeHash": e.OracleCodeHash.Hex(),
	}}
}

// WalletDeposit records a credit to a depositor's wallet balance.
type WalletDeposit struct {
	Wallet  common.Address
	From    common.Address
	Amount  *big.Int
	Balance *big.Int
}

func (WalletDeposit) EventType() string { return TypeWalletDeposit }

func (e WalletDeposit) Event() *types.Event {
	return &types.Event{Type: TypeWalletDeposit, Attributes: map[string]string{
		"wallet":  formatAddress(e.Wallet),
		"from":    formatAddress(e.From),
		"amount":  formatAmount(e.Amount),
		"balance": formatAmount(e.Balance),
	}}
}

// WalletWithdraw records a full withdrawal of one depositor's balance.
type WalletWithdraw struct {
	Wallet common.Address
	Owner  common.Address
	To     common.Address
	Amount *big.Int
}

func (WalletWithdraw) EventType() string { return TypeWalletWithdraw }

func (e WalletWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeWalletWithdraw, Attributes: map[string]string{
		"wallet": formatAddress(e.Wallet),
		"owner":  formatAddress(e.Owner),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}}
}

// WalletMessage is emitted when an identity replaces its message. The content
// itself is not part of the payload.
type WalletMessage struct {
	Wallet common.Address
	Owner  common.Address
	Length int
}

func (WalletMessage) EventType() string { return TypeWalletMessage }

func (e WalletMessage) Event() *types.Event {
	return &types.Event{Type: TypeWalletMessage, Attributes: map[string]string{
		"wallet": formatAddress(e.Wallet),
		"owner":  formatAddress(e.Owner),
		"length": formatUint(uint64(e.Length)),
	}}
}

// ChainSendReleased is emitted when a conditional escrow forwarded its value.
type ChainSendReleased struct {
	Escrow    common.Address
	Creator   common.Address
	Recipient common.Address
	Reference types.ChainStateReference
	Amount    *big.Int
}

func (ChainSendReleased) EventType() string { return TypeChainSendReleased }

func (e ChainSendReleased) Event() *types.Event {
	return &types.Event{Type: TypeChainSendReleased, Attributes: map[string]string{
		"escrow":    formatAddress(e.Escrow),
		"creator":   formatAddress(e.Creator),
		"recipient": formatAddress(e.Recipient),
		"number":    formatUint(e.Reference.Number),
		"expected":  e.Reference.Expected.Hex(),
		"amount":    formatAmount(e.Amount),
	}}
}

// CodeDeployed is emitted when executable content is stored at a fresh
// address.
type CodeDeployed struct {
	Address  common.Address
	Creator  common.Address
	CodeHash common.Hash
	Size     int
}

func (CodeDeployed) EventType() string { return TypeCodeDeployed }

func (e CodeDeployed) Event() *types.Event {
	return &types.Event{Type: TypeCodeDeployed, Attributes: map[string]string{
		"address":  formatAddress(e.Address),
		"creator":  formatAddress(e.Creator),
		"codeHash": e.CodeHash.Hex(),
		"size":     formatUint(uint64(e.Size)),
	}}
}
