package indexer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is a committed module event as seen on the feed. Session separates
// daemon runs because feed sequences restart with the process.
type Event struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Session    uuid.UUID `gorm:"type:uuid;index"`
	Sequence   uint64    `gorm:"index"`
	Type       string    `gorm:"size:64;index"`
	Module     string    `gorm:"size:32;index"`
	Account    string    `gorm:"size:40;index"`
	Round      *uint64   `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	EmittedAt  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Attrs decodes the stored attributes.
func (e Event) Attrs() map[string]string {
	out := map[string]string{}
	if e.Attributes == "" {
		return out
	}
	_ = json.Unmarshal([]byte(e.Attributes), &out)
	return out
}

// Round is the closing record of a vault round. Amounts are base-unit
// decimal strings.
type Round struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Round           uint64    `gorm:"uniqueIndex"`
	TotalAsset      string    `gorm:"size:80"`
	TotalShares     string    `gorm:"size:80"`
	Profit          string    `gorm:"size:80"`
	Loss            string    `gorm:"size:80"`
	PerformanceFee  string    `gorm:"size:80"`
	PendingDeposit  string    `gorm:"size:80"`
	DepositShares   string    `gorm:"size:80"`
	WithdrawReserve string    `gorm:"size:80"`
	ClosedAt        time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&Round{},
	)
}
