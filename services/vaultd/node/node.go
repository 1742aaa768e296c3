package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"sync"

	"optionsvault/config"
	"optionsvault/core"
	"optionsvault/core/events"
	"optionsvault/core/state"
	"optionsvault/crypto"
	"optionsvault/native/action"
	"optionsvault/native/bank"
	nativecommon "optionsvault/native/common"
	"optionsvault/native/options"
	"optionsvault/native/vault"
	"optionsvault/native/venue"
	"optionsvault/native/wrapper"
	"optionsvault/observability"
	"optionsvault/storage"
)

// Node wires the vault, its actions and the simulated protocol and venues
// over a single runtime.
type Node struct {
	genesis *config.Config
	logger  *slog.Logger
	db      storage.Database
	runtime *core.Runtime
	feed    *core.Feed
	clock   *Clock

	bank     *bank.Bank
	protocol *options.Protocol
	signed   *venue.SignedVenue
	limit    *venue.LimitVenue
	auction  *venue.AuctionVenue
	wrapper  *wrapper.Wrapper
	actions  []*action.Engine
	vault    *vault.Engine

	actionNames map[[20]byte]string

	faucetMu    sync.Mutex
	faucetUsage map[[20]byte]nativecommon.QuotaNow
}

type nodeOptions struct {
	db     storage.Database
	logger *slog.Logger
	clock  *Clock
	sinks  []events.Emitter
}

// Option customises a Node.
type Option func(*nodeOptions)

// WithDatabase overrides the database derived from the genesis DataDir.
func WithDatabase(db storage.Database) Option {
	return func(o *nodeOptions) { o.db = db }
}

// WithLogger configures the node logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *nodeOptions) { o.logger = logger }
}

// WithClock shares clock with the engines.
func WithClock(clock *Clock) Option {
	return func(o *nodeOptions) { o.clock = clock }
}

// WithSink publishes committed events to sink in addition to the feed.
func WithSink(sink events.Emitter) Option {
	return func(o *nodeOptions) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// New builds a node from genesis and seeds a fresh database with the genesis
// instruments and balances.
func New(ctx context.Context, genesis *config.Config, opts ...Option) (*Node, error) {
	if genesis == nil {
		return nil, fmt.Errorf("node: genesis required")
	}
	o := nodeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = NewClock(nil)
	}
	if o.db == nil {
		db, err := openDatabase(genesis.DataDir)
		if err != nil {
			return nil, err
		}
		o.db = db
	}

	n := &Node{
		genesis:     genesis,
		logger:      o.logger,
		db:          o.db,
		feed:        core.NewFeed(),
		clock:       o.clock,
		actionNames: make(map[[20]byte]string),
		faucetUsage: make(map[[20]byte]nativecommon.QuotaNow),
	}
	n.feed.SetNowFunc(n.clock.Time)
	if err := n.build(o.sinks); err != nil {
		o.db.Close()
		return nil, err
	}
	if err := n.seed(ctx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("node: open state db: %w", err)
	}
	return db, nil
}

func (n *Node) build(extraSinks []events.Emitter) error {
	mgr, err := state.NewManager(n.db)
	if err != nil {
		return err
	}
	sinks := events.Fanout{n.feed, feeSink{}}
	sinks = append(sinks, extraSinks...)
	n.runtime, err = core.NewRuntime(mgr,
		core.WithSink(sinks),
		core.WithLogger(n.logger),
		core.WithMetrics(observability.Runtime()))
	if err != nil {
		return err
	}
	emitter := n.runtime.Emitter()
	pauses := nativecommon.NewStaticPauses(n.genesis.Pauses)
	now := n.clock.Now

	n.bank = bank.New(mgr)
	n.bank.SetEmitter(emitter)

	pricers, err := config.ParseAuthority(n.genesis.Options.Pricers)
	if err != nil {
		return fmt.Errorf("node: pricers: %w", err)
	}
	n.protocol = options.NewProtocol(mgr, n.bank)
	n.protocol.SetPricers(pricers)
	n.protocol.SetPauses(pauses)
	n.protocol.SetNowFunc(now)
	n.protocol.SetEmitter(emitter)

	fee, err := config.ParseAmount(n.genesis.Venues.LimitProtocolFee)
	if err != nil {
		return fmt.Errorf("node: limit protocol fee: %w", err)
	}
	n.signed = venue.NewSignedVenue(mgr, n.bank)
	n.limit = venue.NewLimitVenue(mgr, n.bank)
	n.limit.SetProtocolFee(fee)
	n.auction = venue.NewAuctionVenue(mgr, n.bank)
	for _, v := range []interface {
		SetPauses(nativecommon.PauseView)
		SetNowFunc(func() int64)
		SetEmitter(events.Emitter)
	}{n.signed, n.limit, n.auction} {
		v.SetPauses(pauses)
		v.SetNowFunc(now)
		v.SetEmitter(emitter)
	}
	venues := action.Venues{Signed: n.signed, Limit: n.limit, Auction: n.auction}

	bound := make([]vault.Action, 0, len(n.genesis.Actions))
	for i := range n.genesis.Actions {
		cfg, err := n.genesis.ActionConfig(i)
		if err != nil {
			return fmt.Errorf("node: action %s: %w", n.genesis.Actions[i].Name, err)
		}
		engine, err := action.NewEngine(cfg)
		if err != nil {
			return fmt.Errorf("node: action %s: %w", n.genesis.Actions[i].Name, err)
		}
		engine.SetState(mgr)
		engine.SetBank(n.bank)
		engine.SetProtocol(n.protocol)
		engine.SetVenues(venues)
		engine.SetPauses(pauses)
		engine.SetNowFunc(now)
		engine.SetEmitter(emitter)
		n.actions = append(n.actions, engine)
		n.actionNames[cfg.Address] = n.genesis.Actions[i].Name
		bound = append(bound, engine)
	}

	vaultCfg, err := n.genesis.VaultConfig()
	if err != nil {
		return fmt.Errorf("node: vault: %w", err)
	}
	n.vault, err = vault.NewEngine(vaultCfg)
	if err != nil {
		return fmt.Errorf("node: vault: %w", err)
	}
	n.vault.SetState(mgr)
	n.vault.SetBank(n.bank)
	n.vault.SetPauses(pauses)
	n.vault.SetNowFunc(now)
	n.vault.SetEmitter(emitter)
	if token := n.genesis.Vault.WrappedNative; token != "" {
		n.wrapper, err = wrapper.New(n.bank, token)
		if err != nil {
			return fmt.Errorf("node: wrapper: %w", err)
		}
		n.vault.SetWrapper(n.wrapper)
	}
	if err := n.vault.SetActions(bound...); err != nil {
		return err
	}

	n.runtime.OnCommit(n.publishMetrics)
	return nil
}

// seed applies the genesis instruments and balances to an empty state.
func (n *Node) seed(ctx context.Context) error {
	if _, height := n.runtime.Root(); height > 0 {
		return nil
	}
	err := n.runtime.Execute(ctx, "genesis", func() error {
		for i := range n.genesis.Instruments {
			params, err := n.genesis.Instruments[i].Params()
			if err != nil {
				return fmt.Errorf("instrument %d: %w", i, err)
			}
			if _, err := n.protocol.CreateInstrument(params); err != nil {
				return fmt.Errorf("instrument %d: %w", i, err)
			}
		}
		for i, bal := range n.genesis.Balances {
			addr, err := crypto.ParseVaultAddress(bal.Address)
			if err != nil {
				return fmt.Errorf("balance %d: %w", i, err)
			}
			amount, err := config.ParseAmount(bal.Amount)
			if err != nil {
				return fmt.Errorf("balance %d: %w", i, err)
			}
			if err := n.bank.Mint(bal.Asset, addr, amount); err != nil {
				return fmt.Errorf("balance %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("node: genesis: %w", err)
	}
	n.logger.Info("genesis applied",
		slog.String("network", n.genesis.Network),
		slog.Int("instruments", len(n.genesis.Instruments)),
		slog.Int("balances", len(n.genesis.Balances)))
	return nil
}

// publishMetrics runs after every commit with the runtime lock held, so the
// engines are read directly.
func (n *Node) publishMetrics() {
	info, err := n.vault.Info()
	if err != nil {
		n.logger.Debug("vault metrics unavailable", slog.Any("error", err))
		return
	}
	observability.Vault().Record(observability.VaultSnapshot{
		State:           info.State.String(),
		Round:           info.Round,
		TotalAsset:      info.TotalAsset,
		TotalSupply:     info.TotalSupply,
		PendingDeposit:  info.PendingDeposit,
		WithdrawReserve: info.WithdrawQueueAmount,
	})
	for _, engine := range n.actions {
		locked, err := engine.LockedAsset()
		if err != nil {
			continue
		}
		observability.Vault().SetActionLocked(n.actionNames[engine.Address()], locked)
	}
}

// feeSink accumulates fee counters from committed vault events.
type feeSink struct{}

func (feeSink) Emit(evt events.Event) {
	payload := core.EventPayload(evt)
	if payload == nil {
		return
	}
	var kind, attr string
	switch payload.Type {
	case vault.EventTypeWithdraw, vault.EventTypeQueueWithdrawn:
		kind, attr = "withdraw", "fee"
	case vault.EventTypeRoundClosed:
		kind, attr = "performance", "performanceFee"
	default:
		return
	}
	if amount, ok := new(big.Int).SetString(payload.Attr(attr), 10); ok {
		observability.Vault().AddFee(kind, amount)
	}
}

// Execute runs fn as one atomic operation.
func (n *Node) Execute(ctx context.Context, op string, fn func() error) error {
	return n.runtime.Execute(ctx, op, fn)
}

// View runs fn against the committed state.
func (n *Node) View(fn func() error) error { return n.runtime.View(fn) }

// Root returns the committed state root and height.
func (n *Node) Root() ([32]byte, uint64) { return n.runtime.Root() }

// Genesis returns the configuration the node was built from.
func (n *Node) Genesis() *config.Config { return n.genesis }

// Feed returns the committed event feed.
func (n *Node) Feed() *core.Feed { return n.feed }

// Clock returns the shared engine clock.
func (n *Node) Clock() *Clock { return n.clock }

func (n *Node) Bank() *bank.Bank                  { return n.bank }
func (n *Node) Protocol() *options.Protocol       { return n.protocol }
func (n *Node) SignedVenue() *venue.SignedVenue   { return n.signed }
func (n *Node) LimitVenue() *venue.LimitVenue     { return n.limit }
func (n *Node) AuctionVenue() *venue.AuctionVenue { return n.auction }
func (n *Node) Wrapper() *wrapper.Wrapper         { return n.wrapper }
func (n *Node) Vault() *vault.Engine              { return n.vault }

// Actions returns the action engines in allocation order.
func (n *Node) Actions() []*action.Engine {
	return append([]*action.Engine(nil), n.actions...)
}

// Action looks up an action by address.
func (n *Node) Action(addr [20]byte) (*action.Engine, bool) {
	for _, engine := range n.actions {
		if engine.Address() == addr {
			return engine, true
		}
	}
	return nil, false
}

// ActionName returns the genesis name of the action at addr.
func (n *Node) ActionName(addr [20]byte) string {
	if name, ok := n.actionNames[addr]; ok {
		return name
	}
	return hex.EncodeToString(addr[:])
}

// Close stops accepting operations and releases the database.
func (n *Node) Close() {
	if n.runtime != nil {
		n.runtime.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}
