package subscription

import (
	"encoding/binary"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"timegate/core/events"
	nativecommon "timegate/native/common"
	"timegate/native/token"
)

const roleSubscriptionAdmin = "ROLE_SUBSCRIPTION_ADMIN"

var (
	enginesListKey     = []byte("subscription/engines")
	ownerIdxPrefix     = []byte("subscription/engines/owner/")
	entryPrefix        = []byte("subscription/entry/")
	creationIndexKey   = []byte("subscription/next-index")
	defaultTreasuryKey = []byte("subscription/default-treasury")
)

// RegistryState describes the persistence and role checks the registry needs.
type RegistryState interface {
	EngineState
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	HasRole(role string, addr []byte) bool
}

// EngineParams carries the caller-supplied configuration for a new engine. A
// zero Treasury selects the registry-wide default.
type EngineParams struct {
	PaymentToken   string
	SecondsPerUnit uint64
	RewardRate     *big.Int
	Treasury       [20]byte
}

// Registry creates subscription engines, issues their reward tokens through
// the token factory and maintains the per-owner and global indices.
type Registry struct {
	mu      sync.Mutex
	st      RegistryState
	tokens  token.Factory
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewRegistry creates a registry backed by the provided state manager and
// token factory.
func NewRegistry(st RegistryState, tokens token.Factory) *Registry {
	return &Registry{st: st, tokens: tokens, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast registry updates
// and is inherited by engines the registry creates. Passing nil resets the
// emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetPauses configures the pause view guarding engine creation.
func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

func (r *Registry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}

func ownerIdxKey(owner [20]byte) []byte {
	return append(append([]byte(nil), ownerIdxPrefix...), owner[:]...)
}

func entryKey(engine [20]byte) []byte {
	return append(append([]byte(nil), entryPrefix...), engine[:]...)
}

// engineAddress derives a deterministic custodial address for the engine
// created by owner at the given creation index.
func engineAddress(owner [20]byte, index uint64) [20]byte {
	buf := make([]byte, 0, len("subscription/engine:")+20+8)
	buf = append(buf, []byte("subscription/engine:")...)
	buf = append(buf, owner[:]...)
	buf = binary.BigEndian.AppendUint64(buf, index)
	sum := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], sum[12:])
	return addr
}

type indexCounter struct {
	Next uint64
}

func (r *Registry) nextCreationIndex() (uint64, error) {
	counter := new(indexCounter)
	if _, err := r.st.KVGet(creationIndexKey, counter); err != nil {
		return 0, err
	}
	return counter.Next, nil
}

// CreateEngine mints a new reward token scoped to the caller, instantiates an
// engine bound to it and the requested payment token, and appends the
// registry entry. The reward token is created before any registry state is
// written, so a failed creation never leaves a partial entry behind.
func (r *Registry) CreateEngine(caller [20]byte, params EngineParams, rewardDef token.Definition) (*Engine, token.Minter, error) {
	if r == nil || r.st == nil {
		return nil, nil, ErrNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if isZeroAddress(caller) {
		return nil, nil, ErrNilOwner
	}
	if params.SecondsPerUnit == 0 {
		return nil, nil, ErrInvalidRate
	}
	if params.RewardRate == nil || params.RewardRate.Sign() <= 0 {
		return nil, nil, ErrInvalidRate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	treasury := params.Treasury
	if isZeroAddress(treasury) {
		stored, ok, err := r.defaultTreasury()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, ErrTreasuryRequired
		}
		treasury = stored
	}

	payment, err := r.tokens.Ledger(params.PaymentToken)
	if err != nil {
		return nil, nil, err
	}
	index, err := r.nextCreationIndex()
	if err != nil {
		return nil, nil, err
	}
	addr := engineAddress(caller, index)
	if found, err := r.st.KVGet(entryKey(addr), nil); err != nil {
		return nil, nil, err
	} else if found {
		return nil, nil, ErrEngineExists
	}

	rewardTok, _, err := r.tokens.Create(caller, rewardDef)
	if err != nil {
		return nil, nil, err
	}
	if err := r.tokens.GrantMintRole(rewardTok.Symbol(), addr); err != nil {
		return nil, nil, err
	}

	engine, err := NewEngine(r.st, payment, rewardTok, addr, Config{
		Owner:          caller,
		Treasury:       treasury,
		SecondsPerUnit: params.SecondsPerUnit,
		RewardRate:     params.RewardRate,
	})
	if err != nil {
		return nil, nil, err
	}
	engine.SetEmitter(r.emitter)
	engine.SetPauses(r.pauses)

	entry := &Entry{
		Engine:         addr,
		Owner:          caller,
		PaymentToken:   payment.Symbol(),
		RewardToken:    rewardTok.Symbol(),
		SecondsPerUnit: params.SecondsPerUnit,
		RewardRate:     newBigInt(params.RewardRate),
		Treasury:       treasury,
		CreationIndex:  index,
	}
	if err := r.st.KVPut(entryKey(addr), entry); err != nil {
		return nil, nil, err
	}
	if err := r.st.KVAppend(enginesListKey, addr[:]); err != nil {
		return nil, nil, err
	}
	if err := r.st.KVAppend(ownerIdxKey(caller), addr[:]); err != nil {
		return nil, nil, err
	}
	if err := r.st.KVPut(creationIndexKey, &indexCounter{Next: index + 1}); err != nil {
		return nil, nil, err
	}

	r.emit(events.EngineCreated{
		Engine:         addr,
		Owner:          caller,
		PaymentToken:   entry.PaymentToken,
		RewardToken:    entry.RewardToken,
		SecondsPerUnit: entry.SecondsPerUnit,
		RewardRate:     newBigInt(entry.RewardRate),
		Treasury:       treasury,
		CreationIndex:  index,
	})
	return engine, rewardTok, nil
}

// Engine rehydrates a previously created engine from its registry entry and
// current persisted configuration. Every call returns a fresh instance with
// its own lock and cached config; callers must hold at most one live instance
// per engine address, otherwise the per-instance serialization is lost and an
// admin update through one instance leaves the others serving stale config.
func (r *Registry) Engine(addr [20]byte) (*Engine, error) {
	entry, err := r.Entry(addr)
	if err != nil {
		return nil, err
	}
	payment, err := r.tokens.Ledger(entry.PaymentToken)
	if err != nil {
		return nil, err
	}
	reward, err := r.tokens.Minter(entry.RewardToken)
	if err != nil {
		return nil, err
	}
	engine, err := LoadEngine(r.st, payment, reward, addr)
	if err != nil {
		return nil, err
	}
	engine.SetEmitter(r.emitter)
	engine.SetPauses(r.pauses)
	return engine, nil
}

// Entry returns the immutable creation record for the engine.
func (r *Registry) Entry(addr [20]byte) (*Entry, error) {
	if r == nil || r.st == nil {
		return nil, ErrNilState
	}
	entry := new(Entry)
	found, err := r.st.KVGet(entryKey(addr), entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrEngineNotFound
	}
	return entry, nil
}

// Engines returns every engine address in creation order.
func (r *Registry) Engines() ([][20]byte, error) {
	return r.engineList(enginesListKey)
}

// EnginesByOwner returns the engines created by the provided owner in
// creation order.
func (r *Registry) EnginesByOwner(owner [20]byte) ([][20]byte, error) {
	return r.engineList(ownerIdxKey(owner))
}

func (r *Registry) engineList(key []byte) ([][20]byte, error) {
	if r == nil || r.st == nil {
		return nil, ErrNilState
	}
	var raw [][]byte
	if err := r.st.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	addrs := make([][20]byte, 0, len(raw))
	for _, b := range raw {
		if len(b) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], b)
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// OwnerOf returns the recorded creation owner of the engine.
func (r *Registry) OwnerOf(addr [20]byte) ([20]byte, error) {
	entry, err := r.Entry(addr)
	if err != nil {
		return [20]byte{}, err
	}
	return entry.Owner, nil
}

type treasuryRecord struct {
	Treasury [20]byte
}

func (r *Registry) defaultTreasury() ([20]byte, bool, error) {
	record := new(treasuryRecord)
	found, err := r.st.KVGet(defaultTreasuryKey, record)
	if err != nil {
		return [20]byte{}, false, err
	}
	if !found || isZeroAddress(record.Treasury) {
		return [20]byte{}, false, nil
	}
	return record.Treasury, true, nil
}

// DefaultTreasury returns the registry-wide fallback treasury, if configured.
func (r *Registry) DefaultTreasury() ([20]byte, bool, error) {
	if r == nil || r.st == nil {
		return [20]byte{}, false, ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultTreasury()
}

// SetDefaultTreasury updates the registry-wide fallback treasury. The caller
// must hold ROLE_SUBSCRIPTION_ADMIN.
func (r *Registry) SetDefaultTreasury(caller, treasury [20]byte) error {
	if r == nil || r.st == nil {
		return ErrNilState
	}
	if !r.st.HasRole(roleSubscriptionAdmin, caller[:]) {
		return ErrUnauthorized
	}
	if isZeroAddress(treasury) {
		return ErrNilTreasury
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old, _, err := r.defaultTreasury()
	if err != nil {
		return err
	}
	if err := r.st.KVPut(defaultTreasuryKey, &treasuryRecord{Treasury: treasury}); err != nil {
		return err
	}
	r.emit(events.DefaultTreasuryUpdated{Caller: caller, OldTreasury: old, NewTreasury: treasury})
	return nil
}
