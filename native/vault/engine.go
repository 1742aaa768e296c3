package vault

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"optionsvault/core/events"
	"optionsvault/core/types"
	nativecommon "optionsvault/native/common"
)

const moduleName = "vault"

var (
	stateKey  = []byte("vault/state")
	paramsKey = []byte("vault/config")
)

// TokenBank is the ledger the vault custodies its asset in.
type TokenBank interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
}

// NativeWrapper converts the native asset into the token the vault holds.
type NativeWrapper interface {
	Token() string
	Wrap(owner [20]byte, amount *big.Int) error
}

// Action is the surface the vault drives at round boundaries.
type Action interface {
	Address() [20]byte
	RolloverPosition(caller [20]byte) error
	ClosePosition(caller [20]byte) error
	CurrentValue() (*big.Int, error)
}

// Engine runs the vault's rounds over a share ledger and a fixed list of
// actions.
type Engine struct {
	cfg     Config
	state   nativecommon.IndexedStorage
	ledger  *ShareLedger
	bank    TokenBank
	wrapper NativeWrapper
	actions []Action
	escrow  [20]byte
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
	guard   nativecommon.ReentrancyGuard
}

// NewEngine validates cfg and returns an engine with a no-op emitter and the
// wall clock.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.Asset = strings.ToUpper(strings.TrimSpace(cfg.Asset))
	cfg.Owners = cfg.Owners.Clone()
	cfg.Actions = append([][20]byte(nil), cfg.Actions...)
	cfg.Cap = cloneBig(cfg.Cap)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		escrow:  nativecommon.ModuleAddress(moduleName, hexAddr(cfg.Address), "escrow"),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the storage backend for the vault and its share
// ledger.
func (e *Engine) SetState(state nativecommon.IndexedStorage) {
	e.state = state
	e.ledger = NewShareLedger(state)
}

// SetBank configures the token ledger.
func (e *Engine) SetBank(bank TokenBank) { e.bank = bank }

// SetWrapper enables the native deposit paths.
func (e *Engine) SetWrapper(wrapper NativeWrapper) { e.wrapper = wrapper }

// SetActions binds the action engines. They must match the configured
// action list in order.
func (e *Engine) SetActions(actions ...Action) error {
	if len(actions) != len(e.cfg.Actions) {
		return fmt.Errorf("%w: %d actions bound, %d configured", ErrInvalidConfig, len(actions), len(e.cfg.Actions))
	}
	for i, action := range actions {
		if action == nil || action.Address() != e.cfg.Actions[i] {
			return fmt.Errorf("%w: action %d does not match configuration", ErrInvalidConfig, i)
		}
	}
	e.actions = append([]Action(nil), actions...)
	return nil
}

// SetPauses wires the pause view consulted before state transitions.
func (e *Engine) SetPauses(pauses nativecommon.PauseView) { e.pauses = pauses }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Address returns the vault's custody address.
func (e *Engine) Address() [20]byte { return e.cfg.Address }

// EscrowAddress holds shares minted for queued deposits until they are
// claimed.
func (e *Engine) EscrowAddress() [20]byte { return e.escrow }

// Asset returns the vault asset.
func (e *Engine) Asset() string { return e.cfg.Asset }

// Actions returns the configured action addresses in allocation order.
func (e *Engine) Actions() [][20]byte { return append([][20]byte(nil), e.cfg.Actions...) }

// Config returns a copy of the genesis configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Owners = e.cfg.Owners.Clone()
	cfg.Actions = e.Actions()
	cfg.Cap = cloneBig(e.cfg.Cap)
	return cfg
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(vaultEvent{evt: evt})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) configured() error {
	if e == nil || e.state == nil || e.bank == nil || len(e.actions) != len(e.cfg.Actions) {
		return ErrNotConfigured
	}
	return nil
}

func (e *Engine) ready() error {
	if err := e.configured(); err != nil {
		return err
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) enter() (func(), error) {
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		e.guard.Exit()
		return nil, err
	}
	return e.guard.Exit, nil
}

func (e *Engine) loadState() (*vaultState, error) {
	if e.state == nil {
		return nil, ErrNotConfigured
	}
	st := &vaultState{}
	if _, err := e.state.KVGet(stateKey, st); err != nil {
		return nil, err
	}
	st.normalize()
	return st, nil
}

func (e *Engine) storeState(st *vaultState) error {
	return e.state.KVPut(stateKey, st)
}

func (e *Engine) loadParams() (*Params, error) {
	if e.state == nil {
		return nil, ErrNotConfigured
	}
	params := &Params{}
	ok, err := e.state.KVGet(paramsKey, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.cfg.params(), nil
	}
	if params.Cap == nil {
		params.Cap = big.NewInt(0)
	}
	return params, nil
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if !e.cfg.Owners.Allows(caller) {
		return ErrUnauthorized
	}
	return nil
}

func requirePhase(st *vaultState, op string, allowed ...State) error {
	for _, s := range allowed {
		if st.phase() == s {
			return nil
		}
	}
	if st.phase() == StateEmergency {
		return fmt.Errorf("%w: %s", ErrVaultPaused, op)
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, st.phase())
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) vaultBalance() (*big.Int, error) {
	return e.bank.BalanceOf(e.cfg.Asset, e.cfg.Address)
}

// totalAsset is the vault balance plus every action's current value, less
// pending deposits and the withdrawal reserve.
func (e *Engine) totalAsset(st *vaultState) (*big.Int, error) {
	total, err := e.vaultBalance()
	if err != nil {
		return nil, err
	}
	for _, action := range e.actions {
		value, err := action.CurrentValue()
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	total.Sub(total, st.PendingDeposit)
	total.Sub(total, st.WithdrawQueueAmount)
	if total.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative total asset %s", ErrArithmetic, total)
	}
	return total, nil
}

// effectiveSupply adds back shares burned by this round's queued
// withdrawals; they are still priced by the round's result.
func (e *Engine) effectiveSupply(st *vaultState) (*big.Int, error) {
	supply, err := e.ledger.TotalSupply()
	if err != nil {
		return nil, err
	}
	return supply.Add(supply, st.QueuedWithdrawShares), nil
}

func (e *Engine) payWithFee(to [20]byte, gross *big.Int, params *Params) (*big.Int, *big.Int, error) {
	fee, err := bpsOf(gross, params.WithdrawFeeBps)
	if err != nil {
		return nil, nil, err
	}
	net := new(big.Int).Sub(gross, fee)
	if err := e.bank.Transfer(e.cfg.Asset, e.cfg.Address, to, net); err != nil {
		return nil, nil, err
	}
	if err := e.bank.Transfer(e.cfg.Asset, e.cfg.Address, params.FeeRecipient, fee); err != nil {
		return nil, nil, err
	}
	return net, fee, nil
}

func (e *Engine) checkNative() error {
	if e.wrapper == nil || !strings.EqualFold(e.wrapper.Token(), e.cfg.Asset) {
		return ErrNativeUnsupported
	}
	return nil
}

// Deposit mints shares for amount at the current price.
func (e *Engine) Deposit(caller [20]byte, amount *big.Int) (*big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.deposit(caller, amount, false)
}

// DepositNative wraps amount of the native asset and deposits it.
func (e *Engine) DepositNative(caller [20]byte, amount *big.Int) (*big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.checkNative(); err != nil {
		return nil, err
	}
	return e.deposit(caller, amount, true)
}

func (e *Engine) deposit(caller [20]byte, amount *big.Int, native bool) (*big.Int, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := requirePhase(st, "deposit", StateUnlocked); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	total, err := e.totalAsset(st)
	if err != nil {
		return nil, err
	}
	if after := new(big.Int).Add(total, amount); after.Cmp(params.Cap) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrCapExceeded, after, params.Cap)
	}
	supply, err := e.ledger.TotalSupply()
	if err != nil {
		return nil, err
	}
	shares, err := SharesForDeposit(amount, total, supply)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit rounds to zero shares", ErrInvalidAmount)
	}
	if err := e.ledger.Mint(caller, shares); err != nil {
		return nil, err
	}
	if native {
		if err := e.wrapper.Wrap(caller, amount); err != nil {
			return nil, err
		}
	}
	if err := e.bank.Transfer(e.cfg.Asset, caller, e.cfg.Address, amount); err != nil {
		return nil, err
	}
	e.emit(newAccountEvent(EventTypeDeposit, caller, st.Round, amount, shares, nil))
	return shares, nil
}

// Withdraw burns shares and pays their value less the withdrawal fee.
func (e *Engine) Withdraw(caller [20]byte, shares *big.Int) (*big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := requirePhase(st, "withdraw", StateUnlocked); err != nil {
		return nil, err
	}
	if err := positive(shares); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	total, err := e.totalAsset(st)
	if err != nil {
		return nil, err
	}
	supply, err := e.ledger.TotalSupply()
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Burn(caller, shares); err != nil {
		return nil, err
	}
	gross, err := AmountForShares(shares, total, supply)
	if err != nil {
		return nil, err
	}
	net, fee, err := e.payWithFee(caller, gross, params)
	if err != nil {
		return nil, err
	}
	e.emit(newAccountEvent(EventTypeWithdraw, caller, st.Round, net, shares, fee))
	return net, nil
}

// NewAllocation validates a per-action split against the current withdraw
// reserve.
func (e *Engine) NewAllocation(bps []uint32) (Allocation, error) {
	params, err := e.loadParams()
	if err != nil {
		return Allocation{}, err
	}
	return NewAllocation(e.cfg.Actions, bps, params.WithdrawReserveBps)
}

// RollOver distributes the vault's capital to its actions and starts the
// round.
func (e *Engine) RollOver(caller [20]byte, alloc Allocation) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if err := requirePhase(st, "rollover", StateUnlocked); err != nil {
		return err
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if alloc.Len() != len(e.cfg.Actions) {
		return fmt.Errorf("%w: %d entries for %d actions", ErrInvalidAllocation, alloc.Len(), len(e.cfg.Actions))
	}
	for i, share := range alloc.shares {
		if share.Action != e.cfg.Actions[i] {
			return fmt.Errorf("%w: entry %d targets unknown action", ErrInvalidAllocation, i)
		}
	}
	if uint64(alloc.TotalBps())+uint64(params.WithdrawReserveBps) > MaxBps {
		return fmt.Errorf("%w: %d bps with %d reserve", ErrInvalidAllocation, alloc.TotalBps(), params.WithdrawReserveBps)
	}
	distributable, err := e.totalAsset(st)
	if err != nil {
		return err
	}
	amounts, err := alloc.amounts(distributable)
	if err != nil {
		return err
	}

	st.State = uint8(StateLocked)
	st.RoundStartAsset = new(big.Int).Set(distributable)
	st.Allocation = alloc.BpsList()
	st.LockedAt = e.now()
	if err := e.storeState(st); err != nil {
		return err
	}
	distributed := big.NewInt(0)
	for i, action := range e.actions {
		if err := e.bank.Transfer(e.cfg.Asset, e.cfg.Address, action.Address(), amounts[i]); err != nil {
			return err
		}
		distributed.Add(distributed, amounts[i])
	}
	for _, action := range e.actions {
		if err := action.RolloverPosition(e.cfg.Address); err != nil {
			return fmt.Errorf("rollover action %s: %w", hexAddr(action.Address()), err)
		}
	}
	e.emit(newRolloverEvent(st.Round, distributed, alloc, amounts))
	return nil
}

// RegisterDeposit takes amount now and queues it for the round's close.
func (e *Engine) RegisterDeposit(caller [20]byte, amount *big.Int) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	return e.registerDeposit(caller, amount, false)
}

// RegisterDepositNative wraps amount of the native asset and queues it.
func (e *Engine) RegisterDepositNative(caller [20]byte, amount *big.Int) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.checkNative(); err != nil {
		return err
	}
	return e.registerDeposit(caller, amount, true)
}

func (e *Engine) registerDeposit(caller [20]byte, amount *big.Int, native bool) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if err := requirePhase(st, "register deposit", StateLocked); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	total, err := e.totalAsset(st)
	if err != nil {
		return err
	}
	after := new(big.Int).Add(total, st.PendingDeposit)
	after.Add(after, amount)
	if after.Cmp(params.Cap) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrCapExceeded, after, params.Cap)
	}
	if _, err := e.addToEntry(EntryDeposit, st.Round, caller, amount); err != nil {
		return err
	}
	st.PendingDeposit = new(big.Int).Add(st.PendingDeposit, amount)
	if err := e.storeState(st); err != nil {
		return err
	}
	if native {
		if err := e.wrapper.Wrap(caller, amount); err != nil {
			return err
		}
	}
	if err := e.bank.Transfer(e.cfg.Asset, caller, e.cfg.Address, amount); err != nil {
		return err
	}
	e.emit(newAccountEvent(EventTypeDepositRegistered, caller, st.Round, amount, nil, nil))
	return nil
}

// RegisterWithdraw burns shares now and queues their payout for the round's
// close.
func (e *Engine) RegisterWithdraw(caller [20]byte, shares *big.Int) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if err := requirePhase(st, "register withdraw", StateLocked); err != nil {
		return err
	}
	if err := positive(shares); err != nil {
		return err
	}
	if err := e.ledger.Burn(caller, shares); err != nil {
		return err
	}
	if _, err := e.addToEntry(EntryWithdraw, st.Round, caller, shares); err != nil {
		return err
	}
	st.QueuedWithdrawShares = new(big.Int).Add(st.QueuedWithdrawShares, shares)
	if err := e.storeState(st); err != nil {
		return err
	}
	e.emit(newAccountEvent(EventTypeWithdrawRegistered, caller, st.Round, nil, shares, nil))
	return nil
}

// ClosePositions closes every action, charges the performance fee, prices
// the round's queued entries and unlocks the vault for the next round. Any
// action failing to close fails the whole call. Queued deposits that cannot
// be priced into shares, because the round left no assets behind the
// outstanding supply or the deposit is worth less than one share, move to the
// reserve and are refunded by ClaimShares.
func (e *Engine) ClosePositions(caller [20]byte) (*RoundRecord, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := requirePhase(st, "close", StateLocked); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	for _, action := range e.actions {
		if err := action.ClosePosition(e.cfg.Address); err != nil {
			return nil, fmt.Errorf("close action %s: %w", hexAddr(action.Address()), err)
		}
	}

	balance, err := e.vaultBalance()
	if err != nil {
		return nil, err
	}
	base := new(big.Int).Sub(balance, st.WithdrawQueueAmount)
	base.Sub(base, st.PendingDeposit)
	if base.Sign() < 0 {
		return nil, fmt.Errorf("%w: vault balance below reserved funds", ErrArithmetic)
	}
	profit := big.NewInt(0)
	loss := big.NewInt(0)
	if diff := new(big.Int).Sub(base, st.RoundStartAsset); diff.Sign() >= 0 {
		profit = diff
	} else {
		loss = diff.Neg(diff)
	}
	fee, err := bpsOf(profit, params.PerformanceFeeBps)
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Sub(base, fee)
	closingSupply, err := e.effectiveSupply(st)
	if err != nil {
		return nil, err
	}
	depositShares := big.NewInt(0)
	refund := big.NewInt(0)
	if st.PendingDeposit.Sign() > 0 {
		if closingSupply.Sign() > 0 && net.Sign() == 0 {
			refund = new(big.Int).Set(st.PendingDeposit)
		} else {
			if depositShares, err = SharesForDeposit(st.PendingDeposit, net, closingSupply); err != nil {
				return nil, err
			}
			if depositShares.Sign() == 0 {
				refund = new(big.Int).Set(st.PendingDeposit)
			}
		}
	}
	reserve := big.NewInt(0)
	if st.QueuedWithdrawShares.Sign() > 0 {
		if reserve, err = AmountForShares(st.QueuedWithdrawShares, net, closingSupply); err != nil {
			return nil, err
		}
	}

	record := &RoundRecord{
		Round:                st.Round,
		TotalAsset:           net,
		TotalShares:          closingSupply,
		Profit:               profit,
		Loss:                 loss,
		PerformanceFee:       fee,
		PendingDeposit:       new(big.Int).Set(st.PendingDeposit),
		DepositShares:        depositShares,
		QueuedWithdrawShares: new(big.Int).Set(st.QueuedWithdrawShares),
		WithdrawReserve:      reserve,
		ClosedAt:             e.now(),
	}
	if err := e.state.KVPut(roundKey(record.Round), record); err != nil {
		return nil, err
	}
	st.Round++
	st.State = uint8(StateUnlocked)
	st.PendingDeposit = big.NewInt(0)
	st.QueuedWithdrawShares = big.NewInt(0)
	st.WithdrawQueueAmount = new(big.Int).Add(st.WithdrawQueueAmount, reserve)
	st.WithdrawQueueAmount.Add(st.WithdrawQueueAmount, refund)
	if err := e.storeState(st); err != nil {
		return nil, err
	}
	if err := e.ledger.Mint(e.escrow, depositShares); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(e.cfg.Asset, e.cfg.Address, params.FeeRecipient, fee); err != nil {
		return nil, err
	}
	e.emit(newRoundClosedEvent(record))
	return record.Clone(), nil
}

// ClaimShares credits the shares a queued deposit earned in a closed round.
// A deposit of a refunding round is paid back in full and earns no shares.
func (e *Engine) ClaimShares(caller [20]byte, round uint64) (*big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := requirePhase(st, "claim shares", StateUnlocked, StateLocked); err != nil {
		return nil, err
	}
	entry, record, shares, err := e.takeResolved(EntryDeposit, round, caller, st)
	if err != nil {
		return nil, err
	}
	if record.RefundsDeposits() {
		if entry.Amount.Cmp(st.WithdrawQueueAmount) > 0 {
			return nil, fmt.Errorf("%w: refund %s exceeds reserve %s", ErrArithmetic, entry.Amount, st.WithdrawQueueAmount)
		}
		st.WithdrawQueueAmount = new(big.Int).Sub(st.WithdrawQueueAmount, entry.Amount)
		if err := e.storeState(st); err != nil {
			return nil, err
		}
		if err := e.bank.Transfer(e.cfg.Asset, e.cfg.Address, caller, entry.Amount); err != nil {
			return nil, err
		}
		e.emit(newAccountEvent(EventTypeDepositRefunded, caller, round, entry.Amount, nil, nil))
		return shares, nil
	}
	if err := e.ledger.Transfer(e.escrow, caller, shares); err != nil {
		return nil, err
	}
	if err := e.recordDepositClaim(record, entry.Amount, shares); err != nil {
		return nil, err
	}
	e.emit(newAccountEvent(EventTypeSharesClaimed, caller, round, nil, shares, nil))
	return shares, nil
}

// WithdrawFromQueue pays a queued withdrawal from a closed round out of the
// reserve, less the withdrawal fee.
func (e *Engine) WithdrawFromQueue(caller [20]byte, round uint64) (*big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := requirePhase(st, "withdraw from queue", StateUnlocked, StateLocked); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	entry, record, gross, err := e.takeResolved(EntryWithdraw, round, caller, st)
	if err != nil {
		return nil, err
	}
	dust, err := e.recordWithdrawClaim(record, entry.Amount, gross)
	if err != nil {
		return nil, err
	}
	released := new(big.Int).Add(gross, dust)
	if released.Cmp(st.WithdrawQueueAmount) > 0 {
		return nil, fmt.Errorf("%w: payout %s exceeds reserve %s", ErrArithmetic, released, st.WithdrawQueueAmount)
	}
	st.WithdrawQueueAmount = new(big.Int).Sub(st.WithdrawQueueAmount, released)
	if State(st.State) == StateLocked {
		// Released dust joins the running round without counting as profit.
		st.RoundStartAsset = new(big.Int).Add(st.RoundStartAsset, dust)
	}
	if err := e.storeState(st); err != nil {
		return nil, err
	}
	net, fee, err := e.payWithFee(caller, gross, params)
	if err != nil {
		return nil, err
	}
	e.emit(newAccountEvent(EventTypeQueueWithdrawn, caller, round, net, entry.Amount, fee))
	return net, nil
}

// EmergencyPause freezes the vault, remembering the phase to resume into.
func (e *Engine) EmergencyPause(caller [20]byte) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if st.phase() == StateEmergency {
		return fmt.Errorf("%w: already paused", ErrInvalidState)
	}
	prev := st.phase()
	st.PrevState = st.State
	st.State = uint8(StateEmergency)
	if err := e.storeState(st); err != nil {
		return err
	}
	e.emit(newStateEvent(EventTypePaused, prev, StateEmergency))
	return nil
}

// ResumeFromPause restores the phase the vault was paused in.
func (e *Engine) ResumeFromPause(caller [20]byte) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if st.phase() != StateEmergency {
		return fmt.Errorf("%w: not paused", ErrInvalidState)
	}
	st.State = st.PrevState
	st.PrevState = 0
	if err := e.storeState(st); err != nil {
		return err
	}
	e.emit(newStateEvent(EventTypeResumed, StateEmergency, st.phase()))
	return nil
}

func (e *Engine) updateParams(caller [20]byte, mutate func(*Params, *vaultState) error) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if err := mutate(params, st); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := e.state.KVPut(paramsKey, params); err != nil {
		return err
	}
	e.emit(newParamsEvent(params))
	return nil
}

// SetCap changes the maximum total asset.
func (e *Engine) SetCap(caller [20]byte, limit *big.Int) error {
	return e.updateParams(caller, func(p *Params, _ *vaultState) error {
		if err := positive(limit); err != nil {
			return err
		}
		p.Cap = new(big.Int).Set(limit)
		return nil
	})
}

// SetWithdrawReserve changes the reserve kept back at rollover. It must
// still fit alongside the last allocation.
func (e *Engine) SetWithdrawReserve(caller [20]byte, bps uint32) error {
	return e.updateParams(caller, func(p *Params, st *vaultState) error {
		total := uint64(bps)
		for _, value := range st.Allocation {
			total += uint64(value)
		}
		if total > MaxBps {
			return fmt.Errorf("%w: %d bps with last allocation", ErrInvalidAllocation, total)
		}
		p.WithdrawReserveBps = bps
		return nil
	})
}

// SetFees changes the withdrawal and performance fees.
func (e *Engine) SetFees(caller [20]byte, withdrawBps, performanceBps uint32) error {
	return e.updateParams(caller, func(p *Params, _ *vaultState) error {
		p.WithdrawFeeBps = withdrawBps
		p.PerformanceFeeBps = performanceBps
		return nil
	})
}

// SetFeeRecipient changes where fees are paid.
func (e *Engine) SetFeeRecipient(caller [20]byte, recipient [20]byte) error {
	return e.updateParams(caller, func(p *Params, _ *vaultState) error {
		p.FeeRecipient = recipient
		return nil
	})
}

// TotalAsset returns the asset attributable to outstanding shares.
func (e *Engine) TotalAsset() (*big.Int, error) {
	if err := e.configured(); err != nil {
		return nil, err
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return e.totalAsset(st)
}

// PricePerShare returns TotalAsset per share scaled by PriceScale, or zero
// when no shares exist.
func (e *Engine) PricePerShare() (*big.Int, error) {
	if err := e.configured(); err != nil {
		return nil, err
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return e.pricePerShare(st)
}

func (e *Engine) pricePerShare(st *vaultState) (*big.Int, error) {
	supply, err := e.effectiveSupply(st)
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return big.NewInt(0), nil
	}
	total, err := e.totalAsset(st)
	if err != nil {
		return nil, err
	}
	return mulDiv(total, PriceScale, supply)
}

// State returns the current phase.
func (e *Engine) State() (State, error) {
	st, err := e.loadState()
	if err != nil {
		return 0, err
	}
	return st.phase(), nil
}

// Round returns the number of closed rounds.
func (e *Engine) Round() (uint64, error) {
	st, err := e.loadState()
	if err != nil {
		return 0, err
	}
	return st.Round, nil
}

// BalanceOf returns the shares held by account.
func (e *Engine) BalanceOf(account [20]byte) (*big.Int, error) {
	if e.ledger == nil {
		return nil, ErrNotConfigured
	}
	return e.ledger.BalanceOf(account)
}

// TotalSupply returns the outstanding shares.
func (e *Engine) TotalSupply() (*big.Int, error) {
	if e.ledger == nil {
		return nil, ErrNotConfigured
	}
	return e.ledger.TotalSupply()
}

// Params returns the owner-adjustable settings.
func (e *Engine) Params() (*Params, error) {
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

// Cap returns the maximum total asset.
func (e *Engine) Cap() (*big.Int, error) {
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	return cloneBig(params.Cap), nil
}

// PendingDeposit returns the asset queued for the open round.
func (e *Engine) PendingDeposit() (*big.Int, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return st.PendingDeposit, nil
}

// WithdrawQueueAmount returns the asset reserved for queued withdrawals.
func (e *Engine) WithdrawQueueAmount() (*big.Int, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return st.WithdrawQueueAmount, nil
}

// QueuedDeposit returns the unclaimed amount account queued in round.
func (e *Engine) QueuedDeposit(account [20]byte, round uint64) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNotConfigured
	}
	entry, err := e.loadEntry(EntryDeposit, round, account)
	if err != nil {
		return nil, err
	}
	return entry.Amount, nil
}

// QueuedWithdraw returns the unpaid shares account queued in round.
func (e *Engine) QueuedWithdraw(account [20]byte, round uint64) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNotConfigured
	}
	entry, err := e.loadEntry(EntryWithdraw, round, account)
	if err != nil {
		return nil, err
	}
	return entry.Amount, nil
}

// RoundRecord returns the closing totals of round.
func (e *Engine) RoundRecord(round uint64) (*RoundRecord, error) {
	if e.state == nil {
		return nil, ErrNotConfigured
	}
	return e.roundRecord(round)
}

// Info collects the vault views in one read.
func (e *Engine) Info() (*Info, error) {
	if err := e.configured(); err != nil {
		return nil, err
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	total, err := e.totalAsset(st)
	if err != nil {
		return nil, err
	}
	supply, err := e.ledger.TotalSupply()
	if err != nil {
		return nil, err
	}
	price, err := e.pricePerShare(st)
	if err != nil {
		return nil, err
	}
	balance, err := e.vaultBalance()
	if err != nil {
		return nil, err
	}
	return &Info{
		State:               st.phase(),
		Round:               st.Round,
		TotalAsset:          total,
		TotalSupply:         supply,
		PricePerShare:       price,
		PendingDeposit:      st.PendingDeposit,
		WithdrawQueueAmount: st.WithdrawQueueAmount,
		VaultBalance:        balance,
		Allocation:          st.Allocation,
		Params:              params.Clone(),
	}, nil
}
