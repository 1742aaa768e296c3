package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"optionsvault/core"
	"optionsvault/native/vault"
)

// ErrNotFound is returned when a round has not been indexed.
var ErrNotFound = errors.New("indexer: not found")

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Open connects to the indexer database. Driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return db, nil
}

// Indexer persists committed feed entries and round closings so history
// survives the in-memory feed.
type Indexer struct {
	db      *gorm.DB
	logger  *slog.Logger
	session uuid.UUID

	mu      sync.RWMutex
	onRound []func(Round)
}

// New migrates db and returns an indexer writing under a fresh session.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: logger, session: uuid.New()}, nil
}

// Session identifies the feed run this indexer records.
func (i *Indexer) Session() uuid.UUID { return i.session }

// OnRoundClosed registers fn to run after a round record is stored.
func (i *Indexer) OnRoundClosed(fn func(Round)) {
	if fn == nil {
		return
	}
	i.mu.Lock()
	i.onRound = append(i.onRound, fn)
	i.mu.Unlock()
}

// Run records every feed entry until ctx is cancelled.
func (i *Indexer) Run(ctx context.Context, feed *core.Feed) error {
	updates, cancel, backlog := feed.Subscribe(ctx, "")
	defer cancel()
	if err := i.Record(ctx, backlog...); err != nil {
		i.logger.Error("index backlog", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			if err := i.Record(ctx, entry); err != nil {
				i.logger.Error("index event",
					slog.String("type", entry.Type),
					slog.Uint64("sequence", entry.Sequence),
					slog.Any("error", err))
			}
		}
	}
}

// Record stores entries in one transaction.
func (i *Indexer) Record(ctx context.Context, entries ...core.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var closed []Round
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			row, err := i.eventRow(entry)
			if err != nil {
				return err
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			if entry.Type != vault.EventTypeRoundClosed || row.Round == nil {
				continue
			}
			round := roundRow(*row.Round, entry)
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "round"}},
				DoUpdates: clause.AssignmentColumns([]string{"total_asset", "total_shares", "profit", "loss", "performance_fee", "pending_deposit", "deposit_shares", "withdraw_reserve", "closed_at", "updated_at"}),
			}).Create(&round).Error
			if err != nil {
				return err
			}
			closed = append(closed, round)
		}
		return nil
	})
	if err != nil {
		return err
	}
	i.mu.RLock()
	hooks := append([]func(Round){}, i.onRound...)
	i.mu.RUnlock()
	for _, round := range closed {
		for _, hook := range hooks {
			hook(round)
		}
	}
	return nil
}

func (i *Indexer) eventRow(entry core.FeedEntry) (Event, error) {
	attrs, err := json.Marshal(entry.Attributes)
	if err != nil {
		return Event{}, err
	}
	module := entry.Type
	if idx := strings.Index(module, "."); idx >= 0 {
		module = module[:idx]
	}
	account := entry.Attr("account")
	if account == "" {
		account = entry.Attr("action")
	}
	row := Event{
		ID:         uuid.New(),
		Session:    i.session,
		Sequence:   entry.Sequence,
		Type:       entry.Type,
		Module:     module,
		Account:    account,
		Attributes: string(attrs),
		EmittedAt:  time.Unix(entry.Timestamp, 0).UTC(),
	}
	if raw := entry.Attr("round"); raw != "" {
		if round, err := strconv.ParseUint(raw, 10, 64); err == nil {
			row.Round = &round
		}
	}
	return row, nil
}

func roundRow(round uint64, entry core.FeedEntry) Round {
	return Round{
		ID:              uuid.New(),
		Round:           round,
		TotalAsset:      entry.Attr("totalAsset"),
		TotalShares:     entry.Attr("totalShares"),
		Profit:          entry.Attr("profit"),
		Loss:            entry.Attr("loss"),
		PerformanceFee:  entry.Attr("performanceFee"),
		PendingDeposit:  entry.Attr("pendingDeposit"),
		DepositShares:   entry.Attr("depositShares"),
		WithdrawReserve: entry.Attr("withdrawReserve"),
		ClosedAt:        time.Unix(entry.Timestamp, 0).UTC(),
	}
}

// EventFilter narrows an event listing. Zero fields match everything.
type EventFilter struct {
	Type    string
	Module  string
	Account string
	Round   *uint64
	// After skips events emitted at or before this time.
	After time.Time
	Limit int
}

// Events lists indexed events oldest first.
func (i *Indexer) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := i.db.WithContext(ctx).Model(&Event{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Module != "" {
		query = query.Where("module = ?", filter.Module)
	}
	if filter.Account != "" {
		query = query.Where("account = ?", strings.ToLower(filter.Account))
	}
	if filter.Round != nil {
		query = query.Where("round = ?", *filter.Round)
	}
	if !filter.After.IsZero() {
		query = query.Where("emitted_at > ?", filter.After.UTC())
	}
	var out []Event
	err := query.Order("emitted_at asc").Order("sequence asc").Limit(clampLimit(filter.Limit)).Find(&out).Error
	return out, err
}

// Rounds lists closed rounds, most recent first.
func (i *Indexer) Rounds(ctx context.Context, limit int) ([]Round, error) {
	var out []Round
	err := i.db.WithContext(ctx).Order("round desc").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

// Round returns the closing record of round.
func (i *Indexer) Round(ctx context.Context, round uint64) (*Round, error) {
	var out Round
	err := i.db.WithContext(ctx).Where("round = ?", round).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: round %d", ErrNotFound, round)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
