package token_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"timegate/core/events"
	"timegate/core/state"
	"timegate/native/token"
	"timegate/storage"
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

func newTestState(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return state.NewManager(db)
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestNewTokenRequiresRegistration(t *testing.T) {
	manager := newTestState(t)
	_, err := token.NewToken(manager, "MISSING")
	require.ErrorIs(t, err, token.ErrNotRegistered)
}

func TestTransfer(t *testing.T) {
	manager := newTestState(t)
	require.NoError(t, manager.RegisterToken("PAY", "Payment Token", 18, ""))
	tok, err := token.NewToken(manager, "PAY")
	require.NoError(t, err)

	alice := addr(0x01)
	bob := addr(0x02)
	require.NoError(t, manager.SetBalance(alice[:], "PAY", big.NewInt(100)))

	require.NoError(t, tok.Transfer(alice, bob, big.NewInt(40)))
	aliceBalance, err := tok.BalanceOf(alice)
	require.NoError(t, err)
	require.Zero(t, aliceBalance.Cmp(big.NewInt(60)))
	bobBalance, err := tok.BalanceOf(bob)
	require.NoError(t, err)
	require.Zero(t, bobBalance.Cmp(big.NewInt(40)))

	require.ErrorIs(t, tok.Transfer(alice, bob, big.NewInt(1000)), token.ErrInsufficientBalance)
	require.ErrorIs(t, tok.Transfer(alice, bob, big.NewInt(0)), token.ErrInvalidAmount)
	require.ErrorIs(t, tok.Transfer(alice, bob, nil), token.ErrInvalidAmount)
}

func TestTransferFromRequiresAllowance(t *testing.T) {
	manager := newTestState(t)
	require.NoError(t, manager.RegisterToken("PAY", "Payment Token", 18, ""))
	tok, err := token.NewToken(manager, "PAY")
	require.NoError(t, err)

	owner := addr(0x01)
	spender := addr(0x02)
	dest := addr(0x03)
	require.NoError(t, manager.SetBalance(owner[:], "PAY", big.NewInt(100)))

	require.ErrorIs(t, tok.TransferFrom(spender, owner, dest, big.NewInt(10)), token.ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(owner, spender, big.NewInt(50)))
	require.NoError(t, tok.TransferFrom(spender, owner, dest, big.NewInt(30)))

	remaining, err := tok.Allowance(owner, spender)
	require.NoError(t, err)
	require.Zero(t, remaining.Cmp(big.NewInt(20)))

	destBalance, err := tok.BalanceOf(dest)
	require.NoError(t, err)
	require.Zero(t, destBalance.Cmp(big.NewInt(30)))

	// Allowance left but balance exhausted below the requested amount.
	require.ErrorIs(t, tok.TransferFrom(spender, owner, dest, big.NewInt(1000)), token.ErrInsufficientAllowance)
}

func TestMintAuthorization(t *testing.T) {
	manager := newTestState(t)
	require.NoError(t, manager.RegisterToken("RWD", "Reward Token", 18, ""))
	tok, err := token.NewToken(manager, "RWD")
	require.NoError(t, err)

	authority := addr(0x01)
	minter := addr(0x02)
	outsider := addr(0x03)
	recipient := addr(0x04)

	require.ErrorIs(t, tok.Mint(outsider, recipient, big.NewInt(5)), token.ErrMintUnauthorized)

	require.NoError(t, manager.SetTokenMintAuthority("RWD", authority[:]))
	require.NoError(t, tok.Mint(authority, recipient, big.NewInt(5)))

	require.NoError(t, manager.SetRole(token.MintRole("RWD"), minter[:]))
	require.NoError(t, tok.Mint(minter, recipient, big.NewInt(7)))

	balance, err := tok.BalanceOf(recipient)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(12)))

	require.NoError(t, manager.SetTokenMintPaused("RWD", true))
	require.ErrorIs(t, tok.Mint(authority, recipient, big.NewInt(1)), token.ErrMintPaused)
}

func TestFactoryCreateWithAllocations(t *testing.T) {
	manager := newTestState(t)
	factory := token.NewStateFactory(manager)
	creator := addr(0x11)

	minted, lockbox, err := factory.Create(creator, token.Definition{
		Name:              "Creator Reward",
		Symbol:            "crt",
		MetadataURI:       "ipfs://crt",
		Decimals:          18,
		CreatorAllocation: big.NewInt(1_000),
		LockedAllocation:  big.NewInt(4_000),
	})
	require.NoError(t, err)
	require.Equal(t, "CRT", minted.Symbol())
	require.Equal(t, token.LockboxAddress("CRT"), lockbox)

	creatorBalance, err := minted.BalanceOf(creator)
	require.NoError(t, err)
	require.Zero(t, creatorBalance.Cmp(big.NewInt(1_000)))

	lockboxBalance, err := minted.BalanceOf(lockbox)
	require.NoError(t, err)
	require.Zero(t, lockboxBalance.Cmp(big.NewInt(4_000)))

	// The creator is the mint authority for the new token.
	require.NoError(t, minted.Mint(creator, creator, big.NewInt(1)))

	_, _, err = factory.Create(creator, token.Definition{Name: "Dup", Symbol: "CRT", Decimals: 18})
	require.ErrorIs(t, err, token.ErrTokenExists)

	_, _, err = factory.Create(creator, token.Definition{Name: "", Symbol: "X"})
	require.ErrorIs(t, err, token.ErrInvalidDefinition)
}

func TestFactoryMintEventsCopyAllocations(t *testing.T) {
	manager := newTestState(t)
	factory := token.NewStateFactory(manager)
	emitter := &captureEmitter{}
	factory.SetEmitter(emitter)
	creator := addr(0x11)

	allocation := big.NewInt(1_000)
	_, _, err := factory.Create(creator, token.Definition{
		Name:              "Reward",
		Symbol:            "RWD",
		Decimals:          18,
		CreatorAllocation: allocation,
	})
	require.NoError(t, err)

	// Mutating the caller's value after the fact must not reach the event.
	allocation.SetInt64(0)
	var minted []events.TokenMinted
	for _, e := range emitter.events {
		if m, ok := e.(events.TokenMinted); ok {
			minted = append(minted, m)
		}
	}
	require.Len(t, minted, 1)
	require.Zero(t, minted[0].Amount.Cmp(big.NewInt(1_000)))
}

func TestFactoryGrantMintRole(t *testing.T) {
	manager := newTestState(t)
	factory := token.NewStateFactory(manager)
	creator := addr(0x11)
	engine := addr(0x22)
	recipient := addr(0x33)

	minted, _, err := factory.Create(creator, token.Definition{Name: "Reward", Symbol: "RWD", Decimals: 18})
	require.NoError(t, err)

	require.ErrorIs(t, minted.Mint(engine, recipient, big.NewInt(9)), token.ErrMintUnauthorized)
	require.NoError(t, factory.GrantMintRole("RWD", engine))
	require.NoError(t, minted.Mint(engine, recipient, big.NewInt(9)))

	require.ErrorIs(t, factory.GrantMintRole("NOPE", engine), token.ErrNotRegistered)
}
