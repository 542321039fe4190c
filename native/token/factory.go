package token

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"timegate/core/events"
)

// Definition carries the creation parameters for a new reward token. The
// registry forwards these verbatim from the caller; the factory is the only
// component that interprets them.
type Definition struct {
	Name        string
	Symbol      string
	MetadataURI string
	Decimals    uint8
	// CreatorAllocation is pre-minted to the creating owner, LockedAllocation
	// to a derived lockbox address that no key controls.
	CreatorAllocation *big.Int
	LockedAllocation  *big.Int
}

// Factory issues new reward tokens and resolves ledgers for existing ones.
type Factory interface {
	// Create registers the token, applies the initial allocations and returns
	// the mintable ledger together with the lockbox address holding the
	// locked allocation.
	Create(creator [20]byte, def Definition) (Minter, [20]byte, error)
	// GrantMintRole authorises an address (typically a freshly created
	// engine) to mint the token.
	GrantMintRole(symbol string, addr [20]byte) error
	Ledger(symbol string) (Ledger, error)
	Minter(symbol string) (Minter, error)
}

// FactoryState extends the ledger state with the registration capabilities
// the factory needs.
type FactoryState interface {
	State
	TokenExists(symbol string) bool
	RegisterToken(symbol, name string, decimals uint8, metadataURI string) error
	SetTokenMintAuthority(symbol string, authority []byte) error
	SetRole(role string, addr []byte) error
}

// StateFactory is the state-backed Factory implementation.
type StateFactory struct {
	st      FactoryState
	emitter events.Emitter
}

// NewStateFactory creates a factory backed by the provided state manager.
func NewStateFactory(st FactoryState) *StateFactory {
	return &StateFactory{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast token creation.
// Passing nil resets the emitter to a no-op implementation.
func (f *StateFactory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// LockboxAddress derives the address holding a token's locked allocation. It
// has no corresponding private key.
func LockboxAddress(symbol string) [20]byte {
	sum := ethcrypto.Keccak256([]byte("token-lockbox:" + strings.ToUpper(strings.TrimSpace(symbol))))
	var addr [20]byte
	copy(addr[:], sum[12:])
	return addr
}

func sanitizeDefinition(def Definition) (Definition, error) {
	def.Symbol = strings.ToUpper(strings.TrimSpace(def.Symbol))
	def.Name = strings.TrimSpace(def.Name)
	def.MetadataURI = strings.TrimSpace(def.MetadataURI)
	if def.Symbol == "" {
		return def, fmt.Errorf("%w: symbol required", ErrInvalidDefinition)
	}
	if def.Name == "" {
		return def, fmt.Errorf("%w: name required", ErrInvalidDefinition)
	}
	if def.CreatorAllocation != nil && def.CreatorAllocation.Sign() < 0 {
		return def, fmt.Errorf("%w: creator allocation must be non-negative", ErrInvalidDefinition)
	}
	if def.LockedAllocation != nil && def.LockedAllocation.Sign() < 0 {
		return def, fmt.Errorf("%w: locked allocation must be non-negative", ErrInvalidDefinition)
	}
	return def, nil
}

// Create registers the token described by def, mints the initial allocations
// and makes the creator the mint authority.
func (f *StateFactory) Create(creator [20]byte, def Definition) (Minter, [20]byte, error) {
	sanitized, err := sanitizeDefinition(def)
	if err != nil {
		return nil, [20]byte{}, err
	}
	if f.st.TokenExists(sanitized.Symbol) {
		return nil, [20]byte{}, fmt.Errorf("%w: %s", ErrTokenExists, sanitized.Symbol)
	}
	if err := f.st.RegisterToken(sanitized.Symbol, sanitized.Name, sanitized.Decimals, sanitized.MetadataURI); err != nil {
		return nil, [20]byte{}, err
	}
	if err := f.st.SetTokenMintAuthority(sanitized.Symbol, creator[:]); err != nil {
		return nil, [20]byte{}, err
	}
	tok, err := NewToken(f.st, sanitized.Symbol)
	if err != nil {
		return nil, [20]byte{}, err
	}
	lockbox := LockboxAddress(sanitized.Symbol)
	if sanitized.CreatorAllocation != nil && sanitized.CreatorAllocation.Sign() > 0 {
		if err := tok.Mint(creator, creator, sanitized.CreatorAllocation); err != nil {
			return nil, [20]byte{}, err
		}
		f.emit(events.TokenMinted{Symbol: sanitized.Symbol, Recipient: creator, Amount: new(big.Int).Set(sanitized.CreatorAllocation)})
	}
	if sanitized.LockedAllocation != nil && sanitized.LockedAllocation.Sign() > 0 {
		if err := tok.Mint(creator, lockbox, sanitized.LockedAllocation); err != nil {
			return nil, [20]byte{}, err
		}
		f.emit(events.TokenMinted{Symbol: sanitized.Symbol, Recipient: lockbox, Amount: new(big.Int).Set(sanitized.LockedAllocation)})
	}
	f.emit(events.TokenCreated{
		Symbol:   sanitized.Symbol,
		Name:     sanitized.Name,
		Decimals: sanitized.Decimals,
		Creator:  creator,
	})
	return tok, lockbox, nil
}

// GrantMintRole authorises the provided address to mint the token.
func (f *StateFactory) GrantMintRole(symbol string, addr [20]byte) error {
	if !f.st.TokenExists(symbol) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, strings.ToUpper(strings.TrimSpace(symbol)))
	}
	return f.st.SetRole(MintRole(symbol), addr[:])
}

// Ledger resolves a read/transfer capability for an existing token.
func (f *StateFactory) Ledger(symbol string) (Ledger, error) {
	return NewToken(f.st, symbol)
}

// Minter resolves a mint-capable ledger for an existing token.
func (f *StateFactory) Minter(symbol string) (Minter, error) {
	return NewToken(f.st, symbol)
}

func (f *StateFactory) emit(event events.Event) {
	if f.emitter == nil {
		return
	}
	f.emitter.Emit(event)
}
