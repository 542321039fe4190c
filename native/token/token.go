package token

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"timegate/core/state"
)

// Ledger is the narrow capability contract the subscription engine holds on a
// balance ledger. Callers are authenticated by the layer above; every
// operation therefore names the acting account explicitly.
type Ledger interface {
	Symbol() string
	Decimals() (uint8, error)
	BalanceOf(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	Approve(owner, spender [20]byte, amount *big.Int) error
	Allowance(owner, spender [20]byte) (*big.Int, error)
}

// Minter extends Ledger with the role-gated mint capability the reward ledger
// exposes to the engine.
type Minter interface {
	Ledger
	Mint(caller, to [20]byte, amount *big.Int) error
}

// State describes the persistence the ledger needs from the surrounding state
// manager.
type State interface {
	Token(symbol string) (*state.TokenMetadata, error)
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	Allowance(owner, spender []byte, symbol string) (*big.Int, error)
	SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error
	HasRole(role string, addr []byte) bool
}

// MintRole returns the role granting mint access on the given token.
func MintRole(symbol string) string {
	return "ROLE_MINT_" + strings.ToUpper(strings.TrimSpace(symbol))
}

// Token is a state-backed Ledger/Minter bound to a registered token symbol.
type Token struct {
	st     State
	symbol string
}

// NewToken binds a ledger view to the provided symbol. The symbol must
// already be registered with the state manager.
func NewToken(st State, symbol string) (*Token, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	meta, err := st.Token(normalized)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, normalized)
	}
	return &Token{st: st, symbol: normalized}, nil
}

func (t *Token) Symbol() string { return t.symbol }

func (t *Token) Decimals() (uint8, error) {
	meta, err := t.st.Token(t.symbol)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotRegistered, t.symbol)
	}
	return meta.Decimals, nil
}

func (t *Token) BalanceOf(addr [20]byte) (*big.Int, error) {
	return t.st.Balance(addr[:], t.symbol)
}

// Transfer moves amount from one account to another. The from account is the
// authenticated caller.
func (t *Token) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := t.st.Balance(from[:], t.symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := t.st.Balance(to[:], t.symbol)
	if err != nil {
		return err
	}
	if err := t.st.SetBalance(from[:], t.symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return t.st.SetBalance(to[:], t.symbol, new(big.Int).Add(toBalance, amount))
}

// TransferFrom moves amount out of the from account using the spender's
// allowance. The allowance is decremented before the balances move so a
// failed transfer cannot leave the allowance inflated.
func (t *Token) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := t.st.Allowance(from[:], spender[:], t.symbol)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	fromBalance, err := t.st.Balance(from[:], t.symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := t.st.SetAllowance(from[:], spender[:], t.symbol, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return t.Transfer(from, to, amount)
}

// Approve lets the owner authorise a spender to pull up to amount from their
// balance. A zero amount clears the approval.
func (t *Token) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return t.st.SetAllowance(owner[:], spender[:], t.symbol, amount)
}

func (t *Token) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return t.st.Allowance(owner[:], spender[:], t.symbol)
}

// Mint credits newly issued units to the recipient. The caller must either be
// the token's mint authority or hold the token's mint role.
func (t *Token) Mint(caller, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	meta, err := t.st.Token(t.symbol)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, t.symbol)
	}
	if meta.MintPaused {
		return fmt.Errorf("%w: %s", ErrMintPaused, t.symbol)
	}
	if !bytes.Equal(meta.MintAuthority, caller[:]) && !t.st.HasRole(MintRole(t.symbol), caller[:]) {
		return fmt.Errorf("%w: %s", ErrMintUnauthorized, t.symbol)
	}
	balance, err := t.st.Balance(to[:], t.symbol)
	if err != nil {
		return err
	}
	return t.st.SetBalance(to[:], t.symbol, new(big.Int).Add(balance, amount))
}
