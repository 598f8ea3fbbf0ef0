package types

import "errors"

var (
	// ErrInvalidRecipient is returned when the null identity is supplied
	// where a recipient is required.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrNullIdentity is returned when the null identity acts as depositor
	// or sender.
	ErrNullIdentity = errors.New("null identity")
	// ErrStateMismatch is returned when a chain-state reference does not
	// match the authoritative history.
	ErrStateMismatch = errors.New("chain state mismatch")
	// ErrTransferFailure wraps any failure of an external value transfer.
	ErrTransferFailure = errors.New("transfer failure")
	// ErrInsufficientBalance is returned by the host when the sender cannot
	// cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for nil, negative or out of range values.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrCustodialSender is returned when value would leave a wallet or
	// escrow account outside of its own operations.
	ErrCustodialSender = errors.New("custodial account cannot send value directly")
	// ErrCustodialRecipient is returned when a payout out of custody names a
	// wallet account, where the value would arrive without attribution.
	ErrCustodialRecipient = errors.New("custodial account cannot receive a payout")
	// ErrNotPayable is returned for value sent to a released escrow.
	ErrNotPayable = errors.New("escrow does not accept value")
)
