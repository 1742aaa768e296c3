package venue

import (
	"math/big"
	"time"

	"optionsvault/core/events"
	"optionsvault/core/types"
	"optionsvault/native/common"
)

// Ledger is the token surface venues settle through.
type Ledger interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
}

// base carries the wiring shared by every venue engine.
type base struct {
	module  string
	state   common.IndexedStorage
	ledger  Ledger
	emitter events.Emitter
	pauses  common.PauseView
	nowFn   func() int64
}

func newBase(module string, state common.IndexedStorage, ledger Ledger) base {
	return base{
		module:  module,
		state:   state,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the storage backend.
func (b *base) SetState(state common.IndexedStorage) { b.state = state }

// SetPauses wires the pause view consulted before fills.
func (b *base) SetPauses(pauses common.PauseView) { b.pauses = pauses }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (b *base) SetNowFunc(now func() int64) {
	if now == nil {
		b.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	b.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *base) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

func (b *base) emit(evt *types.Event) {
	if b.emitter == nil || evt == nil {
		return
	}
	b.emitter.Emit(venueEvent{evt: evt})
}

func (b *base) now() uint64 {
	if b.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := b.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (b *base) ready() error {
	if b.state == nil || b.ledger == nil {
		return errNilState
	}
	return common.Guard(b.pauses, b.module)
}
