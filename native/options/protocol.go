package options

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"optionsvault/core/events"
	"optionsvault/core/types"
	"optionsvault/native/bank"
	"optionsvault/native/common"
)

const moduleName = "options"

var errNilState = errors.New("options engine: state not configured")

var instrumentIndexKey = []byte("options/instruments")

// Ledger is the token surface the protocol moves collateral and instruments
// through.
type Ledger interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	Mint(asset string, to [20]byte, amount *big.Int) error
	Burn(asset string, from [20]byte, amount *big.Int) error
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
}

// Protocol is a fully collateralised options protocol: instruments, custody
// positions, a price oracle and cash settlement.
type Protocol struct {
	state   common.IndexedStorage
	ledger  Ledger
	emitter events.Emitter
	pauses  common.PauseView
	pricers common.Authority
	pool    [20]byte
	nowFn   func() int64
}

// NewProtocol creates a protocol with a no-op emitter and the wall clock.
func NewProtocol(state common.IndexedStorage, ledger Ledger) *Protocol {
	return &Protocol{
		state:   state,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		pool:    common.ModuleAddress(moduleName, "pool"),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the storage backend.
func (p *Protocol) SetState(state common.IndexedStorage) { p.state = state }

// SetLedger configures the token ledger.
func (p *Protocol) SetLedger(ledger Ledger) { p.ledger = ledger }

// SetPauses wires the pause view consulted before state transitions.
func (p *Protocol) SetPauses(pauses common.PauseView) { p.pauses = pauses }

// SetPricers configures the addresses allowed to publish oracle prices.
func (p *Protocol) SetPricers(auth common.Authority) { p.pricers = auth.Clone() }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (p *Protocol) SetNowFunc(now func() int64) {
	if now == nil {
		p.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	p.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (p *Protocol) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

// PoolAddress returns the address holding every posted collateral unit.
func (p *Protocol) PoolAddress() [20]byte { return p.pool }

func (p *Protocol) emit(evt *types.Event) {
	if p == nil || p.emitter == nil || evt == nil {
		return
	}
	p.emitter.Emit(optionsEvent{evt: evt})
}

func (p *Protocol) now() uint64 {
	if p == nil || p.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := p.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (p *Protocol) ready() error {
	if p == nil || p.state == nil || p.ledger == nil {
		return errNilState
	}
	return common.Guard(p.pauses, moduleName)
}

func instrumentKey(id string) []byte { return []byte("options/instrument/" + id) }

func positionKey(owner [20]byte, id uint64) []byte {
	return []byte("options/position/" + hex.EncodeToString(owner[:]) + "/" + strconv.FormatUint(id, 10))
}

func positionCountKey(owner [20]byte) []byte {
	return []byte("options/position-count/" + hex.EncodeToString(owner[:]))
}

// CreateInstrument registers a new option series.
func (p *Protocol) CreateInstrument(params InstrumentParams) (*Instrument, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	inst, err := p.sanitizeParams(params)
	if err != nil {
		return nil, err
	}
	ok, err := p.state.KVGet(instrumentKey(inst.ID), nil)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentExists, inst.ID)
	}
	inst.CreatedAt = p.now()
	if err := p.state.KVPut(instrumentKey(inst.ID), inst); err != nil {
		return nil, err
	}
	if err := p.state.KVAppend(instrumentIndexKey, []byte(inst.ID)); err != nil {
		return nil, err
	}
	p.emit(newInstrumentEvent(inst))
	return inst.Clone(), nil
}

func (p *Protocol) sanitizeParams(params InstrumentParams) (*Instrument, error) {
	underlying, err := bank.NormalizeAsset(params.Underlying)
	if err != nil {
		return nil, fmt.Errorf("%w: underlying: %v", ErrInvalidInstrument, err)
	}
	strikeAsset, err := bank.NormalizeAsset(params.StrikeAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: strike asset: %v", ErrInvalidInstrument, err)
	}
	collateral, err := bank.NormalizeAsset(params.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: collateral: %v", ErrInvalidInstrument, err)
	}
	if params.Strike == nil || params.Strike.Sign() <= 0 {
		return nil, fmt.Errorf("%w: strike must be positive", ErrInvalidInstrument)
	}
	if params.Expiry <= p.now() {
		return nil, fmt.Errorf("%w: expiry in the past", ErrInvalidInstrument)
	}
	if params.Expiry%86400 != ExpiryHourUTC*3600 {
		return nil, fmt.Errorf("%w: expiry must fall at %02d:00 UTC", ErrInvalidInstrument, ExpiryHourUTC)
	}
	if params.IsPut && collateral != strikeAsset {
		return nil, fmt.Errorf("%w: puts are collateralised in the strike asset", ErrInvalidInstrument)
	}
	if !params.IsPut && collateral != underlying {
		return nil, fmt.Errorf("%w: calls are collateralised in the underlying", ErrInvalidInstrument)
	}
	normalized := InstrumentParams{
		Underlying:      underlying,
		StrikeAsset:     strikeAsset,
		CollateralAsset: collateral,
		Strike:          new(big.Int).Set(params.Strike),
		Expiry:          params.Expiry,
		IsPut:           params.IsPut,
	}
	return &Instrument{
		ID:              InstrumentID(normalized),
		Underlying:      underlying,
		StrikeAsset:     strikeAsset,
		CollateralAsset: collateral,
		Strike:          normalized.Strike,
		Expiry:          params.Expiry,
		IsPut:           params.IsPut,
	}, nil
}

// InstrumentParams returns the stored series.
func (p *Protocol) InstrumentParams(id string) (*Instrument, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	inst := new(Instrument)
	ok, err := p.state.KVGet(instrumentKey(id), inst)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, id)
	}
	return inst, nil
}

// Instruments lists every created series in creation order.
func (p *Protocol) Instruments() ([]*Instrument, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	var ids [][]byte
	if err := p.state.KVGetList(instrumentIndexKey, &ids); err != nil {
		return nil, err
	}
	out := make([]*Instrument, 0, len(ids))
	for _, id := range ids {
		inst, err := p.InstrumentParams(string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// CollateralRequirement returns the collateral needed to back amount units of
// the instrument: amount of underlying for calls and amount*strike (rounded
// up) of the strike asset for puts.
func CollateralRequirement(inst *Instrument, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if !inst.IsPut {
		return new(big.Int).Set(amount)
	}
	num := new(big.Int).Mul(amount, inst.Strike)
	q, r := new(big.Int).QuoRem(num, StrikeScale, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// CashValue returns the collateral paid to holders of amount units at the
// given expiry price, rounded down.
func CashValue(inst *Instrument, amount, price *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	if inst.IsPut {
		if price.Cmp(inst.Strike) >= 0 {
			return big.NewInt(0)
		}
		diff := new(big.Int).Sub(inst.Strike, price)
		return diff.Mul(diff, amount).Quo(diff, StrikeScale)
	}
	if price.Cmp(inst.Strike) <= 0 {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(price, inst.Strike)
	return diff.Mul(diff, amount).Quo(diff, price)
}

func (p *Protocol) loadPosition(owner [20]byte, id uint64) (*Position, error) {
	pos := new(Position)
	ok, err := p.state.KVGet(positionKey(owner, id), pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if pos.Collateral == nil {
		pos.Collateral = big.NewInt(0)
	}
	if pos.Minted == nil {
		pos.Minted = big.NewInt(0)
	}
	return pos, nil
}

func (p *Protocol) storePosition(pos *Position) error {
	return p.state.KVPut(positionKey(pos.Owner, pos.ID), pos)
}

// Position returns a custody position.
func (p *Protocol) Position(owner [20]byte, id uint64) (*Position, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	return p.loadPosition(owner, id)
}

// OpenCustodyPosition opens a new position for owner and optionally posts an
// initial amount of collateral.
func (p *Protocol) OpenCustodyPosition(owner [20]byte, collateralAsset string, amount *big.Int, vaultType VaultType) (uint64, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	if vaultType != VaultTypeFullyCollateralized {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVaultType, vaultType)
	}
	asset, err := bank.NormalizeAsset(collateralAsset)
	if err != nil {
		return 0, err
	}
	if amount != nil && amount.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	var count uint64
	if _, err := p.state.KVGet(positionCountKey(owner), &count); err != nil {
		return 0, err
	}
	count++
	pos := &Position{
		Owner:           owner,
		ID:              count,
		VaultType:       uint8(vaultType),
		CollateralAsset: asset,
		Collateral:      big.NewInt(0),
		Minted:          big.NewInt(0),
		OpenedAt:        p.now(),
	}
	if err := p.state.KVPut(positionCountKey(owner), count); err != nil {
		return 0, err
	}
	if err := p.storePosition(pos); err != nil {
		return 0, err
	}
	p.emit(newPositionEvent(EventTypePositionOpened, pos, nil))
	if amount != nil && amount.Sign() > 0 {
		if err := p.DepositCollateral(owner, pos.ID, asset, amount); err != nil {
			return 0, err
		}
	}
	return pos.ID, nil
}

// DepositCollateral posts amount of asset from owner into the position.
func (p *Protocol) DepositCollateral(owner [20]byte, id uint64, asset string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pos, err := p.loadPosition(owner, id)
	if err != nil {
		return err
	}
	if pos.Settled {
		return ErrPositionSettled
	}
	normalized, err := bank.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if normalized != pos.CollateralAsset {
		return fmt.Errorf("%w: position holds %s", ErrCollateralMismatch, pos.CollateralAsset)
	}
	pos.Collateral.Add(pos.Collateral, amount)
	if err := p.storePosition(pos); err != nil {
		return err
	}
	if err := p.ledger.Transfer(normalized, owner, p.pool, amount); err != nil {
		return err
	}
	p.emit(newPositionEvent(EventTypeCollateralDeposited, pos, amount))
	return nil
}

// MintInstrument mints amount units of the instrument against the position's
// collateral and credits them to owner.
func (p *Protocol) MintInstrument(owner [20]byte, id uint64, instrument string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pos, err := p.loadPosition(owner, id)
	if err != nil {
		return err
	}
	if pos.Settled {
		return ErrPositionSettled
	}
	inst, err := p.InstrumentParams(instrument)
	if err != nil {
		return err
	}
	if p.now() >= inst.Expiry {
		return ErrInstrumentExpired
	}
	if pos.Instrument != "" && pos.Instrument != inst.ID {
		return fmt.Errorf("%w: %s", ErrInstrumentAlreadySet, pos.Instrument)
	}
	if inst.CollateralAsset != pos.CollateralAsset {
		return fmt.Errorf("%w: instrument needs %s", ErrCollateralMismatch, inst.CollateralAsset)
	}
	minted := new(big.Int).Add(pos.Minted, amount)
	if need := CollateralRequirement(inst, minted); need.Cmp(pos.Collateral) > 0 {
		return fmt.Errorf("%w: need %s, posted %s", ErrInsufficientCollateral, need, pos.Collateral)
	}
	pos.Instrument = inst.ID
	pos.Minted = minted
	if err := p.storePosition(pos); err != nil {
		return err
	}
	if err := p.ledger.Mint(inst.ID, owner, amount); err != nil {
		return err
	}
	p.emit(newPositionEvent(EventTypeMinted, pos, amount))
	return nil
}

// WithdrawCollateral releases collateral not backing minted supply.
func (p *Protocol) WithdrawCollateral(owner [20]byte, id uint64, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pos, err := p.loadPosition(owner, id)
	if err != nil {
		return err
	}
	if pos.Settled {
		return ErrPositionSettled
	}
	required := big.NewInt(0)
	if pos.Instrument != "" && pos.Minted.Sign() > 0 {
		inst, err := p.InstrumentParams(pos.Instrument)
		if err != nil {
			return err
		}
		required = CollateralRequirement(inst, pos.Minted)
	}
	free := new(big.Int).Sub(pos.Collateral, required)
	if free.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s free", ErrInsufficientCollateral, free)
	}
	pos.Collateral.Sub(pos.Collateral, amount)
	if err := p.storePosition(pos); err != nil {
		return err
	}
	if err := p.ledger.Transfer(pos.CollateralAsset, p.pool, owner, amount); err != nil {
		return err
	}
	p.emit(newPositionEvent(EventTypeCollateralWithdrawn, pos, amount))
	return nil
}

// Settle closes the position after expiry and pays the writer the collateral
// left once holders' cash value is reserved. Positions that never minted can
// be settled at any time.
func (p *Protocol) Settle(owner [20]byte, id uint64) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	pos, err := p.loadPosition(owner, id)
	if err != nil {
		return nil, err
	}
	if pos.Settled {
		return nil, ErrPositionSettled
	}
	owed := big.NewInt(0)
	if pos.Instrument != "" && pos.Minted.Sign() > 0 {
		inst, err := p.InstrumentParams(pos.Instrument)
		if err != nil {
			return nil, err
		}
		price, err := p.settlementPrice(inst)
		if err != nil {
			return nil, err
		}
		owed = CashValue(inst, pos.Minted, price)
	}
	payout := new(big.Int).Sub(pos.Collateral, owed)
	if payout.Sign() < 0 {
		payout.SetInt64(0)
	}
	pos.Settled = true
	pos.Collateral = big.NewInt(0)
	if err := p.storePosition(pos); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(pos.CollateralAsset, p.pool, owner, payout); err != nil {
		return nil, err
	}
	p.emit(newPositionEvent(EventTypeSettled, pos, payout))
	return payout, nil
}

// Redeem burns amount units of an expired instrument held by holder and pays
// their cash value.
func (p *Protocol) Redeem(holder [20]byte, instrument string, amount *big.Int) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	inst, err := p.InstrumentParams(instrument)
	if err != nil {
		return nil, err
	}
	price, err := p.settlementPrice(inst)
	if err != nil {
		return nil, err
	}
	payout := CashValue(inst, amount, price)
	if err := p.ledger.Burn(inst.ID, holder, amount); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(inst.CollateralAsset, p.pool, holder, payout); err != nil {
		return nil, err
	}
	p.emit(newRedeemedEvent(holder, inst.ID, amount, payout))
	return payout, nil
}

func (p *Protocol) settlementPrice(inst *Instrument) (*big.Int, error) {
	if p.now() < inst.Expiry {
		return nil, fmt.Errorf("%w: %s expires at %d", ErrNotExpired, inst.ID, inst.Expiry)
	}
	price, ok, err := p.ExpiryPrice(inst.Underlying, inst.Expiry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s at %d", ErrPriceNotSet, inst.Underlying, inst.Expiry)
	}
	return price, nil
}
