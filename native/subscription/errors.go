package subscription

import "errors"

var (
	ErrNilState            = errors.New("subscription: state not configured")
	ErrNilLedger           = errors.New("subscription: ledger not configured")
	ErrInvalidAmount       = errors.New("subscription: amount must be positive")
	ErrNilRecipient        = errors.New("subscription: recipient required")
	ErrNilOwner            = errors.New("subscription: owner required")
	ErrNilTreasury         = errors.New("subscription: treasury required")
	ErrUnauthorized        = errors.New("subscription: unauthorized")
	ErrInvalidRate         = errors.New("subscription: rate must be positive")
	ErrInsufficientCustody = errors.New("subscription: insufficient custodial balance")
	ErrPaymentTransfer     = errors.New("subscription: payment transfer failed")
	ErrRewardMint          = errors.New("subscription: reward mint failed")
	ErrDurationOverflow    = errors.New("subscription: duration exceeds expiry range")
	ErrTreasuryRequired    = errors.New("subscription: no treasury supplied and no default configured")
	ErrEngineExists        = errors.New("subscription: engine already exists")
	ErrEngineNotFound      = errors.New("subscription: engine not found")
)
