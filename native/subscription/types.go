package subscription

import (
	"encoding/hex"
	"math/big"
)

// Config holds the mutable administrative configuration of an engine.
type Config struct {
	Owner    [20]byte
	Treasury [20]byte
	// SecondsPerUnit is the access duration granted per unit of payment.
	SecondsPerUnit uint64
	// RewardRate is the reward issued per normalized payment unit.
	RewardRate *big.Int
}

// Receipt summarises a committed purchase. RewardMinted reports whether the
// best-effort reward mint landed; when false the reward amount was computed
// but not issued.
type Receipt struct {
	Engine       [20]byte
	Payer        [20]byte
	Recipient    [20]byte
	Amount       *big.Int
	Duration     uint64
	ExpiresAt    uint64
	Reward       *big.Int
	RewardMinted bool
}

// Entry is the immutable registry record appended once per successful engine
// creation.
type Entry struct {
	Engine         [20]byte
	Owner          [20]byte
	PaymentToken   string
	RewardToken    string
	SecondsPerUnit uint64
	RewardRate     *big.Int
	Treasury       [20]byte
	CreationIndex  uint64
}

// engineRecord is the persisted form of an engine's live configuration. It is
// rewritten by the administrative operations; the registry Entry keeps the
// creation-time snapshot.
type engineRecord struct {
	PaymentToken   string
	RewardToken    string
	Owner          [20]byte
	Treasury       [20]byte
	SecondsPerUnit uint64
	RewardRate     *big.Int
}

// accessWindow is the persisted per-account expiry. A zero value means no
// access was ever granted.
type accessWindow struct {
	ExpiresAt uint64
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
