package events

import (
	"math/big"
	"strconv"

	"timegate/core/types"
)

const (
	TypeTokenCreated = "token.created"
	TypeTokenMinted  = "token.minted"
)

// TokenCreated is emitted by the token factory when a new reward token is
// registered.
type TokenCreated struct {
	Symbol   string
	Name     string
	Decimals uint8
	Creator  [20]byte
}

func (TokenCreated) EventType() string { return TypeTokenCreated }

func (e TokenCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenCreated,
		Attributes: map[string]string{
			"symbol":   e.Symbol,
			"name":     e.Name,
			"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
			"creator":  formatAddr(e.Creator),
		},
	}
}

// TokenMinted is emitted for allocation mints performed by the factory.
type TokenMinted struct {
	Symbol    string
	Recipient [20]byte
	Amount    *big.Int
}

func (TokenMinted) EventType() string { return TypeTokenMinted }

func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"symbol":    e.Symbol,
			"recipient": formatAddr(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}
