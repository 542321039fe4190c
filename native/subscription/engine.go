package subscription

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync"
	"time"

	"timegate/core/events"
	nativecommon "timegate/native/common"
	"timegate/native/token"
)

const moduleName = "subscription"

var (
	configPrefix = []byte("subscription/config/")
	windowPrefix = []byte("subscription/window/")
)

// EngineState describes the persistence the engine needs from the
// surrounding state implementation.
type EngineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine sells time-bounded access against a payment ledger and mints
// proportional rewards on a reward ledger. All mutating operations are
// serialized by a per-instance lock, held across the outbound ledger calls,
// so a later purchase for the same account always observes the expiry the
// earlier one produced.
type Engine struct {
	mu      sync.Mutex
	st      EngineState
	payment token.Ledger
	reward  token.Minter
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
	addr    [20]byte
	cfg     Config
	scale   scale
}

// NewEngine constructs an engine bound to the supplied ledgers, validates and
// persists its configuration, and caches the payment ledger's precision for
// reward normalization.
func NewEngine(st EngineState, payment token.Ledger, reward token.Minter, addr [20]byte, cfg Config) (*Engine, error) {
	if st == nil {
		return nil, ErrNilState
	}
	if payment == nil || reward == nil {
		return nil, ErrNilLedger
	}
	if isZeroAddress(cfg.Owner) {
		return nil, ErrNilOwner
	}
	if isZeroAddress(cfg.Treasury) {
		return nil, ErrNilTreasury
	}
	if cfg.SecondsPerUnit == 0 {
		return nil, ErrInvalidRate
	}
	if cfg.RewardRate == nil || cfg.RewardRate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	e := &Engine{
		st:      st,
		payment: payment,
		reward:  reward,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		addr:    addr,
		cfg: Config{
			Owner:          cfg.Owner,
			Treasury:       cfg.Treasury,
			SecondsPerUnit: cfg.SecondsPerUnit,
			RewardRate:     newBigInt(cfg.RewardRate),
		},
	}
	if err := e.refreshScale(); err != nil {
		return nil, err
	}
	if err := e.persistConfig(); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadEngine rehydrates an engine from its persisted configuration.
func LoadEngine(st EngineState, payment token.Ledger, reward token.Minter, addr [20]byte) (*Engine, error) {
	if st == nil {
		return nil, ErrNilState
	}
	if payment == nil || reward == nil {
		return nil, ErrNilLedger
	}
	record := new(engineRecord)
	found, err := st.KVGet(configKey(addr), record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrEngineNotFound
	}
	e := &Engine{
		st:      st,
		payment: payment,
		reward:  reward,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		addr:    addr,
		cfg: Config{
			Owner:          record.Owner,
			Treasury:       record.Treasury,
			SecondsPerUnit: record.SecondsPerUnit,
			RewardRate:     newBigInt(record.RewardRate),
		},
	}
	if err := e.refreshScale(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the pause view guarding purchases.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Address returns the engine's custodial account address.
func (e *Engine) Address() [20]byte { return e.addr }

// Owner returns the current administrative owner.
func (e *Engine) Owner() [20]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Owner
}

// Treasury returns the configured withdrawal destination.
func (e *Engine) Treasury() [20]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Treasury
}

// SecondsPerUnit returns the access duration granted per payment unit.
func (e *Engine) SecondsPerUnit() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.SecondsPerUnit
}

// RewardRate returns the reward issued per normalized payment unit.
func (e *Engine) RewardRate() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return newBigInt(e.cfg.RewardRate)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) refreshScale() error {
	decimals, err := e.payment.Decimals()
	if err != nil {
		return err
	}
	e.scale = newScale(decimals)
	return nil
}

func configKey(addr [20]byte) []byte {
	return append(append([]byte(nil), configPrefix...), addr[:]...)
}

func (e *Engine) windowKey(account [20]byte) []byte {
	key := append(append([]byte(nil), windowPrefix...), e.addr[:]...)
	return append(key, account[:]...)
}

func (e *Engine) persistConfig() error {
	return e.st.KVPut(configKey(e.addr), &engineRecord{
		PaymentToken:   e.payment.Symbol(),
		RewardToken:    e.reward.Symbol(),
		Owner:          e.cfg.Owner,
		Treasury:       e.cfg.Treasury,
		SecondsPerUnit: e.cfg.SecondsPerUnit,
		RewardRate:     newBigInt(e.cfg.RewardRate),
	})
}

func (e *Engine) loadWindow(account [20]byte) (uint64, error) {
	window := new(accessWindow)
	found, err := e.st.KVGet(e.windowKey(account), window)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return window.ExpiresAt, nil
}

// Purchase pulls amount from the caller's payment balance, extends the
// recipient's access window and mints the proportional reward. The reward
// mint is best-effort: its failure is reported through the receipt and a
// reward_mint_failed event but never unwinds the access grant or the payment
// pull committed earlier in the same call.
func (e *Engine) Purchase(caller, recipient [20]byte, amount *big.Int) (*Receipt, error) {
	if e == nil || e.st == nil {
		return nil, ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if isZeroAddress(recipient) {
		return nil, ErrNilRecipient
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := uint64(e.now())
	current, err := e.loadWindow(recipient)
	if err != nil {
		return nil, err
	}
	base := now
	if current > base {
		// Unexpired time is preserved; the new duration stacks on top.
		base = current
	}
	duration := new(big.Int).Mul(amount, new(big.Int).SetUint64(e.cfg.SecondsPerUnit))
	if !duration.IsUint64() {
		return nil, ErrDurationOverflow
	}
	d := duration.Uint64()
	if d > math.MaxUint64-base {
		return nil, ErrDurationOverflow
	}
	newExpiry := base + d

	if err := e.payment.TransferFrom(e.addr, caller, e.addr, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentTransfer, err)
	}
	if err := e.st.KVPut(e.windowKey(recipient), &accessWindow{ExpiresAt: newExpiry}); err != nil {
		return nil, err
	}

	reward := new(big.Int).Mul(e.scale.Normalize(amount), e.cfg.RewardRate)
	receipt := &Receipt{
		Engine:    e.addr,
		Payer:     caller,
		Recipient: recipient,
		Amount:    newBigInt(amount),
		Duration:  d,
		ExpiresAt: newExpiry,
		Reward:    reward,
	}
	var mintErr error
	if reward.Sign() > 0 {
		if mintErr = e.reward.Mint(e.addr, recipient, reward); mintErr == nil {
			receipt.RewardMinted = true
		}
	}

	e.emit(events.AccessPurchased{
		Engine:    e.addr,
		Payer:     caller,
		Recipient: recipient,
		Token:     e.payment.Symbol(),
		Amount:    newBigInt(amount),
		Duration:  d,
		ExpiresAt: newExpiry,
	})
	if receipt.RewardMinted {
		e.emit(events.RewardMinted{
			Engine:    e.addr,
			Recipient: recipient,
			Token:     e.reward.Symbol(),
			Amount:    newBigInt(reward),
		})
	} else if mintErr != nil {
		e.emit(events.RewardMintFailed{
			Engine:    e.addr,
			Recipient: recipient,
			Token:     e.reward.Symbol(),
			Amount:    newBigInt(reward),
			Reason:    mintErr.Error(),
		})
	}
	return receipt, nil
}

// HasAccess reports whether the account's access window covers the current
// time. Pure read.
func (e *Engine) HasAccess(account [20]byte) (bool, error) {
	if e == nil || e.st == nil {
		return false, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	expiry, err := e.loadWindow(account)
	if err != nil {
		return false, err
	}
	return expiry >= uint64(e.now()), nil
}

// RemainingAccess returns the seconds of access left for the account, zero
// once the window has lapsed. Pure read.
func (e *Engine) RemainingAccess(account [20]byte) (uint64, error) {
	if e == nil || e.st == nil {
		return 0, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	expiry, err := e.loadWindow(account)
	if err != nil {
		return 0, err
	}
	now := uint64(e.now())
	if expiry <= now {
		return 0, nil
	}
	return expiry - now, nil
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if caller != e.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

// SetSecondsPerUnit updates the access duration granted per payment unit.
func (e *Engine) SetSecondsPerUnit(caller [20]byte, rate uint64) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if rate == 0 {
		return ErrInvalidRate
	}
	old := e.cfg.SecondsPerUnit
	e.cfg.SecondsPerUnit = rate
	if err := e.persistConfig(); err != nil {
		e.cfg.SecondsPerUnit = old
		return err
	}
	e.emit(events.EngineConfigUpdated{
		Engine: e.addr,
		Field:  "secondsPerUnit",
		Old:    strconv.FormatUint(old, 10),
		New:    strconv.FormatUint(rate, 10),
	})
	return nil
}

// SetRewardRate updates the reward issued per normalized payment unit and
// refreshes the cached normalization factor from the payment ledger.
func (e *Engine) SetRewardRate(caller [20]byte, rate *big.Int) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	if err := e.refreshScale(); err != nil {
		return err
	}
	old := e.cfg.RewardRate
	e.cfg.RewardRate = newBigInt(rate)
	if err := e.persistConfig(); err != nil {
		e.cfg.RewardRate = old
		return err
	}
	e.emit(events.EngineConfigUpdated{
		Engine: e.addr,
		Field:  "rewardRate",
		Old:    old.String(),
		New:    rate.String(),
	})
	return nil
}

// SetTreasury updates the withdrawal destination.
func (e *Engine) SetTreasury(caller, treasury [20]byte) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if isZeroAddress(treasury) {
		return ErrNilTreasury
	}
	old := e.cfg.Treasury
	e.cfg.Treasury = treasury
	if err := e.persistConfig(); err != nil {
		e.cfg.Treasury = old
		return err
	}
	e.emit(events.EngineConfigUpdated{
		Engine: e.addr,
		Field:  "treasury",
		Old:    hexAddr(old),
		New:    hexAddr(treasury),
	})
	return nil
}

// TransferOwnership hands administrative control to a new owner.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if isZeroAddress(newOwner) {
		return ErrNilOwner
	}
	old := e.cfg.Owner
	e.cfg.Owner = newOwner
	if err := e.persistConfig(); err != nil {
		e.cfg.Owner = old
		return err
	}
	e.emit(events.OwnershipTransferred{Engine: e.addr, OldOwner: old, NewOwner: newOwner})
	return nil
}

// Withdraw moves amount of the engine's custodial payment balance to the
// destination. A zero destination falls back to the configured treasury.
func (e *Engine) Withdraw(caller [20]byte, amount *big.Int, destination [20]byte) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if isZeroAddress(destination) {
		destination = e.cfg.Treasury
	}
	balance, err := e.payment.BalanceOf(e.addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCustody
	}
	if err := e.payment.Transfer(e.addr, destination, amount); err != nil {
		return err
	}
	e.emit(events.EngineWithdrawal{
		Engine:      e.addr,
		Destination: destination,
		Token:       e.payment.Symbol(),
		Amount:      newBigInt(amount),
	})
	return nil
}

// OwnerMint issues rewards directly, bypassing the purchase flow. Unlike the
// best-effort path in Purchase there is no payment side effect to protect, so
// a failed mint fails the whole call.
func (e *Engine) OwnerMint(caller, to [20]byte, amount *big.Int) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if isZeroAddress(to) {
		return ErrNilRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.reward.Mint(e.addr, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrRewardMint, err)
	}
	e.emit(events.RewardMinted{
		Engine:    e.addr,
		Recipient: to,
		Token:     e.reward.Symbol(),
		Amount:    newBigInt(amount),
	})
	return nil
}
