package action

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"optionsvault/core/events"
	"optionsvault/core/types"
	nativecommon "optionsvault/native/common"
	"optionsvault/native/options"
	"optionsvault/native/venue"
)

const moduleName = "action"

// TokenBank is the ledger surface the action reads balances from and sweeps
// funds through.
type TokenBank interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
}

// OptionsProtocol is the options protocol surface an action needs for
// validation and custody.
type OptionsProtocol interface {
	Validate(instrument string, policy options.Policy) (*options.Instrument, error)
	InstrumentParams(id string) (*options.Instrument, error)
	OpenCustodyPosition(owner [20]byte, collateralAsset string, amount *big.Int, vaultType options.VaultType) (uint64, error)
	DepositCollateral(owner [20]byte, id uint64, asset string, amount *big.Int) error
	MintInstrument(owner [20]byte, id uint64, instrument string, amount *big.Int) error
	Settle(owner [20]byte, id uint64) (*big.Int, error)
	Redeem(holder [20]byte, instrument string, amount *big.Int) (*big.Int, error)
}

// Engine is a single action: it custodies the capital a vault allocated to
// it for one round, writes options against it and returns everything to the
// vault when the round closes.
type Engine struct {
	cfg      Config
	state    nativecommon.Storage
	bank     TokenBank
	protocol OptionsProtocol
	venues   Venues
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	nowFn    func() int64
	guard    nativecommon.ReentrancyGuard
}

// NewEngine validates cfg and returns an engine with a no-op emitter and the
// wall clock. Storage and collaborators are wired through the setters.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the storage backend.
func (e *Engine) SetState(state nativecommon.Storage) { e.state = state }

// SetBank configures the token ledger.
func (e *Engine) SetBank(bank TokenBank) { e.bank = bank }

// SetProtocol configures the options protocol.
func (e *Engine) SetProtocol(protocol OptionsProtocol) { e.protocol = protocol }

// SetVenues configures the trading venues.
func (e *Engine) SetVenues(venues Venues) { e.venues = venues }

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

// Address returns the custody address of the action.
func (e *Engine) Address() [20]byte { return e.cfg.Address }

// Config returns a copy of the action configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Authority = e.cfg.Authority.Clone()
	return cfg
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(actionEvent{evt: evt})
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

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.bank == nil || e.protocol == nil {
		return ErrNotConfigured
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// enter takes the reentrancy guard and checks the engine is usable. The
// returned function releases the guard.
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

func (e *Engine) recordKey() []byte {
	return []byte("action/" + hex.EncodeToString(e.cfg.Address[:]) + "/state")
}

func (e *Engine) load() (*Record, error) {
	if e.state == nil {
		return nil, ErrNotConfigured
	}
	rec := &Record{}
	ok, err := e.state.KVGet(e.recordKey(), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec = &Record{State: uint8(StateIdle)}
	}
	if rec.LockedCollateral == nil {
		rec.LockedCollateral = big.NewInt(0)
	}
	if rec.OpenAuctions == nil {
		rec.OpenAuctions = []uint64{}
	}
	return rec, nil
}

func (e *Engine) store(rec *Record) error {
	return e.state.KVPut(e.recordKey(), rec)
}

func (e *Engine) requireOperator(caller [20]byte) error {
	if !e.cfg.Authority.Allows(caller) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireVault(caller [20]byte) error {
	if caller != e.cfg.Vault {
		return ErrNotVault
	}
	return nil
}

func (e *Engine) policy() options.Policy {
	return options.Policy{
		CollateralAsset:      e.cfg.Asset,
		IsPut:                e.cfg.IsPut,
		MaxStrikeDistanceBps: e.cfg.MaxStrikeDistanceBps,
		MinTimeToExpiry:      e.cfg.MinTimeToExpiry,
		MaxTimeToExpiry:      e.cfg.MaxTimeToExpiry,
	}
}

// CommitOToken nominates the instrument the action will write next round.
func (e *Engine) CommitOToken(caller [20]byte, instrument string) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	rec, err := e.load()
	if err != nil {
		return err
	}
	if rec.phase() != StateIdle {
		return fmt.Errorf("%w: commit while %s", ErrInvalidState, rec.phase())
	}
	inst, err := e.protocol.Validate(instrument, e.policy())
	if err != nil {
		return err
	}
	rec.State = uint8(StateCommitted)
	rec.CommittedOption = inst.ID
	rec.CommitTimestamp = e.now()
	if err := e.store(rec); err != nil {
		return err
	}
	e.emit(newCommittedEvent(e.cfg.Address, rec))
	return nil
}

// RolloverPosition activates the committed instrument once the commit period
// has passed and opens the custody position trades are written against.
func (e *Engine) RolloverPosition(caller [20]byte) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireVault(caller); err != nil {
		return err
	}
	rec, err := e.load()
	if err != nil {
		return err
	}
	if rec.phase() != StateCommitted {
		return fmt.Errorf("%w: rollover while %s", ErrInvalidState, rec.phase())
	}
	now := e.now()
	if now < rec.CommitTimestamp+e.cfg.MinCommitPeriod {
		return fmt.Errorf("%w: %ds remaining", ErrCommitPhaseNotOver, rec.CommitTimestamp+e.cfg.MinCommitPeriod-now)
	}
	rec.State = uint8(StateActivated)
	rec.ActiveOption = rec.CommittedOption
	rec.CommittedOption = ""
	rec.ActivatedAt = now
	rec.LockedCollateral = big.NewInt(0)
	rec.OpenAuctions = []uint64{}
	rec.Rollovers++
	if err := e.store(rec); err != nil {
		return err
	}
	id, err := e.protocol.OpenCustodyPosition(e.cfg.Address, e.cfg.Asset, nil, options.VaultTypeFullyCollateralized)
	if err != nil {
		return err
	}
	rec.PositionID = id
	if err := e.store(rec); err != nil {
		return err
	}
	e.emit(newActivatedEvent(e.cfg.Address, rec))
	return nil
}

// MintAndSellSigned posts collateral, mints and sells through a signed order.
func (e *Engine) MintAndSellSigned(caller [20]byte, collateral, mintAmount *big.Int, order *venue.SignedOrder, minPremium *big.Int) (*TradeResult, error) {
	return e.Trade(caller, collateral, mintAmount, SignedOrderExecutor{Order: order, MinPremium: minPremium})
}

// MintAndFillLimit posts collateral, mints and fills a resting limit order.
// protocolFee caps the native fee the caller pays the venue.
func (e *Engine) MintAndFillLimit(caller [20]byte, collateral, mintAmount *big.Int, order *venue.LimitOrder, takerAmount, protocolFee, minPremium *big.Int) (*TradeResult, error) {
	return e.Trade(caller, collateral, mintAmount, LimitOrderExecutor{
		Order:       order,
		TakerAmount: takerAmount,
		ProtocolFee: protocolFee,
		MinPremium:  minPremium,
	})
}

// MintAndFillRFQ posts collateral, mints and fills an RFQ quote.
func (e *Engine) MintAndFillRFQ(caller [20]byte, collateral, mintAmount *big.Int, order *venue.LimitOrder, takerAmount, minPremium *big.Int) (*TradeResult, error) {
	return e.Trade(caller, collateral, mintAmount, RFQExecutor{Order: order, TakerAmount: takerAmount, MinPremium: minPremium})
}

// MintAndStartAuction posts collateral, mints and auctions sellAmount of the
// active option. Zero collateral and zero mint re-auction supply the action
// already holds.
func (e *Engine) MintAndStartAuction(caller [20]byte, collateral, mintAmount, sellAmount, minPremium *big.Int, deadline uint64) (*TradeResult, error) {
	return e.Trade(caller, collateral, mintAmount, BatchAuctionExecutor{
		SellAmount: sellAmount,
		MinPremium: minPremium,
		Deadline:   deadline,
	})
}

// Trade posts collateral, mints mintAmount of the active option and hands
// the sale to exec.
func (e *Engine) Trade(caller [20]byte, collateral, mintAmount *big.Int, exec TradeExecutor) (*TradeResult, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.requireOperator(caller); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: executor required", ErrInvalidAmount)
	}
	rec, err := e.load()
	if err != nil {
		return nil, err
	}
	if rec.phase() != StateActivated {
		return nil, fmt.Errorf("%w: trade while %s", ErrInvalidState, rec.phase())
	}
	collateral = valueOrZero(collateral)
	mintAmount = valueOrZero(mintAmount)
	if collateral.Sign() < 0 || mintAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if err := exec.Check(e.cfg.Asset, rec.ActiveOption); err != nil {
		return nil, err
	}

	rec.LockedCollateral = new(big.Int).Add(rec.LockedCollateral, collateral)
	if err := e.store(rec); err != nil {
		return nil, err
	}
	if collateral.Sign() > 0 {
		if err := e.protocol.DepositCollateral(e.cfg.Address, rec.PositionID, e.cfg.Asset, collateral); err != nil {
			return nil, err
		}
	}
	if mintAmount.Sign() > 0 {
		if err := e.protocol.MintInstrument(e.cfg.Address, rec.PositionID, rec.ActiveOption, mintAmount); err != nil {
			return nil, err
		}
	}
	execution, err := exec.Execute(Trade{
		Action:     e.cfg.Address,
		Caller:     caller,
		Asset:      e.cfg.Asset,
		Instrument: rec.ActiveOption,
	}, e.venues)
	if err != nil {
		return nil, err
	}
	if execution.AuctionID != 0 {
		rec.OpenAuctions = append(rec.OpenAuctions, execution.AuctionID)
		if err := e.store(rec); err != nil {
			return nil, err
		}
	}
	result := &TradeResult{
		Kind:             exec.Kind(),
		Collateral:       new(big.Int).Set(collateral),
		Minted:           new(big.Int).Set(mintAmount),
		Sold:             valueOrZero(execution.Sold),
		Premium:          valueOrZero(execution.Premium),
		AuctionID:        execution.AuctionID,
		LockedCollateral: new(big.Int).Set(rec.LockedCollateral),
	}
	e.emit(newTradedEvent(e.cfg.Address, rec, result))
	return result, nil
}

// SettleAuction settles a finished auction the action started. Proceeds and
// unsold supply return to the action.
func (e *Engine) SettleAuction(caller [20]byte, id uint64) (*venue.Auction, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.requireOperator(caller); err != nil {
		return nil, err
	}
	if e.venues.Auction == nil {
		return nil, ErrNotConfigured
	}
	rec, err := e.load()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, open := range rec.OpenAuctions {
		if open == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAuction, id)
	}
	rec.OpenAuctions = append(rec.OpenAuctions[:idx:idx], rec.OpenAuctions[idx+1:]...)
	if err := e.store(rec); err != nil {
		return nil, err
	}
	auction, err := e.venues.Auction.SettleAuction(id)
	if err != nil {
		return nil, err
	}
	e.emit(newAuctionSettledEvent(e.cfg.Address, rec, id, auction.Sold, auction.Proceeds))
	return auction, nil
}

// ClosePosition settles the round's custody position and sweeps every unit
// of the vault asset back to the vault.
func (e *Engine) ClosePosition(caller [20]byte) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireVault(caller); err != nil {
		return err
	}
	rec, err := e.load()
	if err != nil {
		return err
	}
	if rec.phase() != StateActivated {
		return fmt.Errorf("%w: close while %s", ErrInvalidState, rec.phase())
	}
	now := e.now()
	if rec.LockedCollateral.Sign() == 0 && now < rec.ActivatedAt+e.cfg.CloseGracePeriod {
		return fmt.Errorf("%w: %ds remaining", ErrCloseTooEarly, rec.ActivatedAt+e.cfg.CloseGracePeriod-now)
	}
	pending := make([]uint64, 0, len(rec.OpenAuctions))
	for _, id := range rec.OpenAuctions {
		if e.venues.Auction == nil {
			return ErrNotConfigured
		}
		auction, err := e.venues.Auction.Auction(id)
		if err != nil {
			return err
		}
		if auction.Settled {
			continue
		}
		if now < auction.Deadline {
			return fmt.Errorf("%w: auction %d ends at %d", ErrAuctionNotSettled, id, auction.Deadline)
		}
		pending = append(pending, id)
	}

	instrument := rec.ActiveOption
	positionID := rec.PositionID
	rec.State = uint8(StateIdle)
	rec.ActiveOption = ""
	rec.PositionID = 0
	rec.ActivatedAt = 0
	rec.LockedCollateral = big.NewInt(0)
	rec.OpenAuctions = []uint64{}
	if err := e.store(rec); err != nil {
		return err
	}

	for _, id := range pending {
		auction, err := e.venues.Auction.SettleAuction(id)
		if err != nil {
			return err
		}
		e.emit(newAuctionSettledEvent(e.cfg.Address, rec, id, auction.Sold, auction.Proceeds))
	}
	if positionID != 0 {
		if _, err := e.protocol.Settle(e.cfg.Address, positionID); err != nil {
			return err
		}
	}
	if instrument != "" {
		held, err := e.bank.BalanceOf(instrument, e.cfg.Address)
		if err != nil {
			return err
		}
		if held.Sign() > 0 {
			if _, err := e.protocol.Redeem(e.cfg.Address, instrument, held); err != nil {
				return err
			}
		}
	}
	balance, err := e.bank.BalanceOf(e.cfg.Asset, e.cfg.Address)
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		if err := e.bank.Transfer(e.cfg.Asset, e.cfg.Address, e.cfg.Vault, balance); err != nil {
			return err
		}
	}
	e.emit(newClosedEvent(e.cfg.Address, rec, instrument, balance))
	return nil
}

// Record returns a copy of the persisted action state.
func (e *Engine) Record() (*Record, error) {
	rec, err := e.load()
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// State returns the current phase.
func (e *Engine) State() (State, error) {
	rec, err := e.load()
	if err != nil {
		return 0, err
	}
	return rec.phase(), nil
}

// LockedAsset returns the collateral posted this round. It is zero outside
// the activated phase.
func (e *Engine) LockedAsset() (*big.Int, error) {
	rec, err := e.load()
	if err != nil {
		return nil, err
	}
	if rec.phase() != StateActivated {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(rec.LockedCollateral), nil
}

// CurrentValue is the action's asset balance plus posted collateral.
func (e *Engine) CurrentValue() (*big.Int, error) {
	if e.bank == nil {
		return nil, ErrNotConfigured
	}
	locked, err := e.LockedAsset()
	if err != nil {
		return nil, err
	}
	balance, err := e.bank.BalanceOf(e.cfg.Asset, e.cfg.Address)
	if err != nil {
		return nil, err
	}
	return locked.Add(locked, balance), nil
}

// CommittedOption returns the instrument nominated for the next round.
func (e *Engine) CommittedOption() (string, error) {
	rec, err := e.load()
	if err != nil {
		return "", err
	}
	return rec.CommittedOption, nil
}

// ActiveOption returns the instrument being written this round.
func (e *Engine) ActiveOption() (string, error) {
	rec, err := e.load()
	if err != nil {
		return "", err
	}
	return rec.ActiveOption, nil
}

// CommitTimestamp returns when the current commitment was made.
func (e *Engine) CommitTimestamp() (uint64, error) {
	rec, err := e.load()
	if err != nil {
		return 0, err
	}
	return rec.CommitTimestamp, nil
}
