package subscription_test

import (
	"errors"
	"math/big"
	"testing"

	"timegate/core/events"
	"timegate/core/state"
	"timegate/native/subscription"
	"timegate/native/token"
	"timegate/storage"
)

type registryFixture struct {
	manager  *state.Manager
	registry *subscription.Registry
	emitter  *capturingEmitter
	creator  [20]byte
	admin    [20]byte
	treasury [20]byte
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)

	if err := manager.RegisterToken("PAY", "Payment Token", 18, ""); err != nil {
		t.Fatalf("register payment token: %v", err)
	}

	fx := &registryFixture{
		manager:  manager,
		emitter:  &capturingEmitter{},
		creator:  testAddr(0x10),
		admin:    testAddr(0x20),
		treasury: testAddr(0x30),
	}
	if err := manager.SetRole("ROLE_SUBSCRIPTION_ADMIN", fx.admin[:]); err != nil {
		t.Fatalf("grant admin role: %v", err)
	}
	fx.registry = subscription.NewRegistry(manager, token.NewStateFactory(manager))
	fx.registry.SetEmitter(fx.emitter)
	return fx
}

func (fx *registryFixture) params() subscription.EngineParams {
	return subscription.EngineParams{
		PaymentToken:   "PAY",
		SecondsPerUnit: 3600,
		RewardRate:     big.NewInt(1),
		Treasury:       fx.treasury,
	}
}

func TestCreateEngineRequiresTreasury(t *testing.T) {
	fx := newRegistryFixture(t)
	params := fx.params()
	params.Treasury = [20]byte{}

	// Neither an explicit treasury nor a registry default: creation must fail,
	// repeatedly, without leaving entries behind.
	for i := 0; i < 2; i++ {
		if _, _, err := fx.registry.CreateEngine(fx.creator, params, token.Definition{Name: "Reward", Symbol: "RWD", Decimals: 18}); !errors.Is(err, subscription.ErrTreasuryRequired) {
			t.Fatalf("attempt %d: expected treasury required, got %v", i, err)
		}
	}
	engines, err := fx.registry.Engines()
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	if len(engines) != 0 {
		t.Fatalf("expected no engines, got %d", len(engines))
	}
	if got := fx.emitter.byType(events.TypeEngineCreated); len(got) != 0 {
		t.Fatalf("expected no creation events, got %d", len(got))
	}
}

func TestSetDefaultTreasury(t *testing.T) {
	fx := newRegistryFixture(t)
	stranger := testAddr(0x44)

	if err := fx.registry.SetDefaultTreasury(stranger, fx.treasury); !errors.Is(err, subscription.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := fx.registry.SetDefaultTreasury(fx.admin, [20]byte{}); !errors.Is(err, subscription.ErrNilTreasury) {
		t.Fatalf("expected nil treasury error, got %v", err)
	}

	if _, configured, err := fx.registry.DefaultTreasury(); err != nil {
		t.Fatalf("default treasury: %v", err)
	} else if configured {
		t.Fatalf("expected no default treasury yet")
	}

	if err := fx.registry.SetDefaultTreasury(fx.admin, fx.treasury); err != nil {
		t.Fatalf("set default treasury: %v", err)
	}
	stored, configured, err := fx.registry.DefaultTreasury()
	if err != nil {
		t.Fatalf("default treasury: %v", err)
	}
	if !configured || stored != fx.treasury {
		t.Fatalf("unexpected default treasury: %v configured=%t", stored, configured)
	}
	if got := fx.emitter.byType(events.TypeDefaultTreasuryUpdated); len(got) != 1 {
		t.Fatalf("expected one update event, got %d", len(got))
	}
}

func TestCreateEngineUsesDefaultTreasury(t *testing.T) {
	fx := newRegistryFixture(t)
	if err := fx.registry.SetDefaultTreasury(fx.admin, fx.treasury); err != nil {
		t.Fatalf("set default treasury: %v", err)
	}

	params := fx.params()
	params.Treasury = [20]byte{}
	engine, _, err := fx.registry.CreateEngine(fx.creator, params, token.Definition{Name: "Reward", Symbol: "RWD", Decimals: 18})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	if engine.Treasury() != fx.treasury {
		t.Fatalf("expected default treasury to be adopted")
	}
	entry, err := fx.registry.Entry(engine.Address())
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Treasury != fx.treasury {
		t.Fatalf("expected entry to record the default treasury")
	}
}

func TestCreateEngineValidation(t *testing.T) {
	fx := newRegistryFixture(t)
	def := token.Definition{Name: "Reward", Symbol: "RWD", Decimals: 18}

	if _, _, err := fx.registry.CreateEngine([20]byte{}, fx.params(), def); !errors.Is(err, subscription.ErrNilOwner) {
		t.Fatalf("expected nil owner error, got %v", err)
	}

	params := fx.params()
	params.SecondsPerUnit = 0
	if _, _, err := fx.registry.CreateEngine(fx.creator, params, def); !errors.Is(err, subscription.ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}

	params = fx.params()
	params.RewardRate = nil
	if _, _, err := fx.registry.CreateEngine(fx.creator, params, def); !errors.Is(err, subscription.ErrInvalidRate) {
		t.Fatalf("expected invalid rate for nil reward rate, got %v", err)
	}

	params = fx.params()
	params.PaymentToken = "MISSING"
	if _, _, err := fx.registry.CreateEngine(fx.creator, params, def); !errors.Is(err, token.ErrNotRegistered) {
		t.Fatalf("expected unknown payment token error, got %v", err)
	}
}

func TestCreateEngineIndices(t *testing.T) {
	fx := newRegistryFixture(t)
	other := testAddr(0x11)

	first, _, err := fx.registry.CreateEngine(fx.creator, fx.params(), token.Definition{Name: "Reward A", Symbol: "RWA", Decimals: 18})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, _, err := fx.registry.CreateEngine(fx.creator, fx.params(), token.Definition{Name: "Reward B", Symbol: "RWB", Decimals: 18})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	third, _, err := fx.registry.CreateEngine(other, fx.params(), token.Definition{Name: "Reward C", Symbol: "RWC", Decimals: 18})
	if err != nil {
		t.Fatalf("third create: %v", err)
	}
	if first.Address() == second.Address() {
		t.Fatalf("expected distinct engine addresses")
	}

	engines, err := fx.registry.Engines()
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	want := [][20]byte{first.Address(), second.Address(), third.Address()}
	if len(engines) != len(want) {
		t.Fatalf("expected %d engines, got %d", len(want), len(engines))
	}
	for i := range want {
		if engines[i] != want[i] {
			t.Fatalf("engine %d out of order", i)
		}
	}

	mine, err := fx.registry.EnginesByOwner(fx.creator)
	if err != nil {
		t.Fatalf("engines by owner: %v", err)
	}
	if len(mine) != 2 || mine[0] != first.Address() || mine[1] != second.Address() {
		t.Fatalf("unexpected owner index: %v", mine)
	}
	theirs, err := fx.registry.EnginesByOwner(other)
	if err != nil {
		t.Fatalf("engines by owner: %v", err)
	}
	if len(theirs) != 1 || theirs[0] != third.Address() {
		t.Fatalf("unexpected owner index for second owner")
	}

	owner, err := fx.registry.OwnerOf(third.Address())
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != other {
		t.Fatalf("unexpected recorded owner")
	}

	entryFirst, err := fx.registry.Entry(first.Address())
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	entrySecond, err := fx.registry.Entry(second.Address())
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entryFirst.CreationIndex != 0 || entrySecond.CreationIndex != 1 {
		t.Fatalf("unexpected creation indices: %d %d", entryFirst.CreationIndex, entrySecond.CreationIndex)
	}

	if got := fx.emitter.byType(events.TypeEngineCreated); len(got) != 3 {
		t.Fatalf("expected three creation events, got %d", len(got))
	}
}

func TestCreateEngineRejectsDuplicateRewardSymbol(t *testing.T) {
	fx := newRegistryFixture(t)
	def := token.Definition{Name: "Reward", Symbol: "RWD", Decimals: 18}

	if _, _, err := fx.registry.CreateEngine(fx.creator, fx.params(), def); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, _, err := fx.registry.CreateEngine(fx.creator, fx.params(), def); !errors.Is(err, token.ErrTokenExists) {
		t.Fatalf("expected duplicate symbol error, got %v", err)
	}
	engines, err := fx.registry.Engines()
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	if len(engines) != 1 {
		t.Fatalf("failed creation must not register an engine, got %d", len(engines))
	}
}

func TestCreateEngineRejectsIndexReplay(t *testing.T) {
	fx := newRegistryFixture(t)
	if _, _, err := fx.registry.CreateEngine(fx.creator, fx.params(), token.Definition{Name: "Reward A", Symbol: "RWA", Decimals: 18}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Roll the creation counter back so the next creation derives the same
	// address; the existing entry must not be clobbered.
	type counter struct {
		Next uint64
	}
	if err := fx.manager.KVPut([]byte("subscription/next-index"), &counter{}); err != nil {
		t.Fatalf("rewind counter: %v", err)
	}
	if _, _, err := fx.registry.CreateEngine(fx.creator, fx.params(), token.Definition{Name: "Reward B", Symbol: "RWB", Decimals: 18}); !errors.Is(err, subscription.ErrEngineExists) {
		t.Fatalf("expected engine exists, got %v", err)
	}
	engines, err := fx.registry.Engines()
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	if len(engines) != 1 {
		t.Fatalf("expected the original engine only, got %d", len(engines))
	}
}

func TestRegistryEngineRehydration(t *testing.T) {
	fx := newRegistryFixture(t)
	created, _, err := fx.registry.CreateEngine(fx.creator, fx.params(), token.Definition{Name: "Reward", Symbol: "RWD", Decimals: 18})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	if err := created.SetSecondsPerUnit(fx.creator, 60); err != nil {
		t.Fatalf("set seconds per unit: %v", err)
	}

	loaded, err := fx.registry.Engine(created.Address())
	if err != nil {
		t.Fatalf("rehydrate engine: %v", err)
	}
	if loaded.SecondsPerUnit() != 60 {
		t.Fatalf("expected persisted config after rehydration, got %d", loaded.SecondsPerUnit())
	}
	loaded.SetNowFunc(func() int64 { return 1_700_000_000 })

	// A purchase through the rehydrated engine works end to end.
	payer := testAddr(0x55)
	if err := fx.manager.SetBalance(payer[:], "PAY", big.NewInt(5)); err != nil {
		t.Fatalf("fund payer: %v", err)
	}
	payment, err := token.NewToken(fx.manager, "PAY")
	if err != nil {
		t.Fatalf("payment ledger: %v", err)
	}
	if err := payment.Approve(payer, loaded.Address(), big.NewInt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	receipt, err := loaded.Purchase(payer, payer, big.NewInt(5))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Duration != 300 {
		t.Fatalf("unexpected duration: %d", receipt.Duration)
	}
	if !receipt.RewardMinted {
		t.Fatalf("expected reward mint through rehydrated engine")
	}

	if _, err := fx.registry.Engine(testAddr(0x5A)); !errors.Is(err, subscription.ErrEngineNotFound) {
		t.Fatalf("expected engine not found, got %v", err)
	}
}
