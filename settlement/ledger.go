// Package settlement sequences, for each trade, lock + settle on the
// source and destination chains with retries, decimal-aware amount
// conversion, and idempotency, then records the outcome.
//
// This file is the idempotency ledger: a durable cache (not the source of
// truth; the chain is) of which settlement legs have already been
// attempted, grounded on internal/database/database.go's gorm model +
// AutoMigrate over sqlite/postgres, and execution/reconciler.go's
// persist-then-recover-on-startup shape, repurposed from trading
// positions to settlement-leg outcomes.
package settlement

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LegRecord is one row of the ledger: the outcome of attempting a single
// settlement leg, keyed by the (order, party1, party2, is_source)
// idempotency tuple.
type LegRecord struct {
	OrderID    int64  `gorm:"primaryKey"`
	Party1Addr string `gorm:"primaryKey"`
	Party2Addr string `gorm:"primaryKey"`
	IsSource   bool   `gorm:"primaryKey"`
	TxHash     string
	Success    bool
	ErrorKind  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Ledger persists settlement leg outcomes so a retried leg (same
// idempotency key) can short-circuit to the last known result instead of
// re-submitting against the contract.
type Ledger struct {
	db *gorm.DB
}

// NewLedger opens dsn, choosing the postgres or sqlite driver by prefix,
// exactly as internal/database.New does.
func NewLedger(dsn string) (*Ledger, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("settlement ledger connected (postgres)")
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("settlement ledger connected (sqlite)")
	}

	if err := db.AutoMigrate(&LegRecord{}); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Lookup returns the previously recorded outcome for this leg's
// idempotency key, if any.
func (l *Ledger) Lookup(orderID int64, party1, party2 string, isSource bool) (*LegRecord, bool) {
	var rec LegRecord
	err := l.db.First(&rec, "order_id = ? AND party1_addr = ? AND party2_addr = ? AND is_source = ?",
		orderID, party1, party2, isSource).Error
	if err != nil {
		return nil, false
	}
	return &rec, true
}

// Record upserts the outcome of a leg attempt. Best-effort: a ledger write
// failure is logged and swallowed, the same "written best-effort" policy
// applied to the activity log extended to this durability cache (the
// chain receipt, not the ledger row, is the authority on success).
func (l *Ledger) Record(rec LegRecord) {
	err := l.db.Save(&rec).Error
	if err != nil {
		log.Error().Err(err).Int64("order_id", rec.OrderID).Bool("is_source", rec.IsSource).
			Msg("settlement ledger write failed")
	}
}
