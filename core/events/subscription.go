package events

import (
	"math/big"
	"strconv"

	"timegate/core/types"
	"timegate/crypto"
)

const (
	TypeAccessPurchased        = "subscription.purchased"
	TypeRewardMinted           = "subscription.reward"
	TypeRewardMintFailed       = "subscription.reward_mint_failed"
	TypeEngineConfigUpdated    = "subscription.config_updated"
	TypeOwnershipTransferred   = "subscription.ownership_transferred"
	TypeEngineWithdrawal       = "subscription.withdrawal"
	TypeEngineCreated          = "subscription.engine_created"
	TypeDefaultTreasuryUpdated = "subscription.default_treasury_updated"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddr(b [20]byte) string {
	return crypto.MustNewAddress(crypto.TGPrefix, b[:]).String()
}

// AccessPurchased is emitted for every committed purchase, after the payment
// pull and the access-window update.
type AccessPurchased struct {
	Engine    [20]byte
	Payer     [20]byte
	Recipient [20]byte
	Token     string
	Amount    *big.Int
	Duration  uint64
	ExpiresAt uint64
}

func (AccessPurchased) EventType() string { return TypeAccessPurchased }

func (e AccessPurchased) Event() *types.Event {
	return &types.Event{
		Type: TypeAccessPurchased,
		Attributes: map[string]string{
			"engine":    formatAddr(e.Engine),
			"payer":     formatAddr(e.Payer),
			"recipient": formatAddr(e.Recipient),
			"token":     e.Token,
			"amount":    formatAmount(e.Amount),
			"duration":  strconv.FormatUint(e.Duration, 10),
			"expiresAt": strconv.FormatUint(e.ExpiresAt, 10),
		},
	}
}

// RewardMinted is emitted when the proportional reward for a purchase (or an
// owner-triggered mint) lands on the reward ledger.
type RewardMinted struct {
	Engine    [20]byte
	Recipient [20]byte
	Token     string
	Amount    *big.Int
}

func (RewardMinted) EventType() string { return TypeRewardMinted }

func (e RewardMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardMinted,
		Attributes: map[string]string{
			"engine":    formatAddr(e.Engine),
			"recipient": formatAddr(e.Recipient),
			"token":     e.Token,
			"amount":    formatAmount(e.Amount),
		},
	}
}

// RewardMintFailed records a reward mint that was swallowed by the
// best-effort purchase path. The access grant it accompanied stays committed;
// this event is the audit trail.
type RewardMintFailed struct {
	Engine    [20]byte
	Recipient [20]byte
	Token     string
	Amount    *big.Int
	Reason    string
}

func (RewardMintFailed) EventType() string { return TypeRewardMintFailed }

func (e RewardMintFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardMintFailed,
		Attributes: map[string]string{
			"engine":    formatAddr(e.Engine),
			"recipient": formatAddr(e.Recipient),
			"token":     e.Token,
			"amount":    formatAmount(e.Amount),
			"reason":    e.Reason,
		},
	}
}

// EngineConfigUpdated carries the before/after values for a single mutated
// configuration field.
type EngineConfigUpdated struct {
	Engine [20]byte
	Field  string
	Old    string
	New    string
}

func (EngineConfigUpdated) EventType() string { return TypeEngineConfigUpdated }

func (e EngineConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeEngineConfigUpdated,
		Attributes: map[string]string{
			"engine": formatAddr(e.Engine),
			"field":  e.Field,
			"old":    e.Old,
			"new":    e.New,
		},
	}
}

type OwnershipTransferred struct {
	Engine   [20]byte
	OldOwner [20]byte
	NewOwner [20]byte
}

func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnershipTransferred,
		Attributes: map[string]string{
			"engine":   formatAddr(e.Engine),
			"oldOwner": formatAddr(e.OldOwner),
			"newOwner": formatAddr(e.NewOwner),
		},
	}
}

type EngineWithdrawal struct {
	Engine      [20]byte
	Destination [20]byte
	Token       string
	Amount      *big.Int
}

func (EngineWithdrawal) EventType() string { return TypeEngineWithdrawal }

func (e EngineWithdrawal) Event() *types.Event {
	return &types.Event{
		Type: TypeEngineWithdrawal,
		Attributes: map[string]string{
			"engine":      formatAddr(e.Engine),
			"destination": formatAddr(e.Destination),
			"token":       e.Token,
			"amount":      formatAmount(e.Amount),
		},
	}
}

// EngineCreated is emitted by the registry once a new engine and its reward
// token are fully registered.
type EngineCreated struct {
	Engine         [20]byte
	Owner          [20]byte
	PaymentToken   string
	RewardToken    string
	SecondsPerUnit uint64
	RewardRate     *big.Int
	Treasury       [20]byte
	CreationIndex  uint64
}

func (EngineCreated) EventType() string { return TypeEngineCreated }

func (e EngineCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeEngineCreated,
		Attributes: map[string]string{
			"engine":         formatAddr(e.Engine),
			"owner":          formatAddr(e.Owner),
			"paymentToken":   e.PaymentToken,
			"rewardToken":    e.RewardToken,
			"secondsPerUnit": strconv.FormatUint(e.SecondsPerUnit, 10),
			"rewardRate":     formatAmount(e.RewardRate),
			"treasury":       formatAddr(e.Treasury),
			"creationIndex":  strconv.FormatUint(e.CreationIndex, 10),
		},
	}
}

type DefaultTreasuryUpdated struct {
	Caller      [20]byte
	OldTreasury [20]byte
	NewTreasury [20]byte
}

func (DefaultTreasuryUpdated) EventType() string { return TypeDefaultTreasuryUpdated }

func (e DefaultTreasuryUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeDefaultTreasuryUpdated,
		Attributes: map[string]string{
			"caller":      formatAddr(e.Caller),
			"oldTreasury": formatAddr(e.OldTreasury),
			"newTreasury": formatAddr(e.NewTreasury),
		},
	}
}
