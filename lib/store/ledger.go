package store

import (
	"context"
	"time"

	"github.com/fiffu/feedrelay/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MinDedupRetention is the shortest history compaction will ever keep.
const MinDedupRetention = 30 * 24 * time.Hour

// Ledger records which items have been seen per source.
type Ledger struct {
	db        *gorm.DB
	log       *zap.Logger
	retention time.Duration
	now       func() time.Time
}

func NewLedger(db *gorm.DB, log *zap.Logger, retention time.Duration) *Ledger {
	if retention < MinDedupRetention {
		retention = MinDedupRetention
	}
	return &Ledger{db, log, retention, func() time.Time { return time.Now().UTC() }}
}

// InsertIfAbsent reports true when (sourceKey, itemID) had not been recorded before.
// The primary key makes this atomic across concurrent callers.
func (l *Ledger) InsertIfAbsent(ctx context.Context, sourceKey, itemID string) (bool, error) {
	rec := &models.DedupRecord{SourceKey: sourceKey, ItemID: itemID, SeenAt: l.now()}
	tx := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if err := tx.Error; err != nil {
		return false, err
	}
	return tx.RowsAffected > 0, nil
}

// Compact drops records older than the retention window.
func (l *Ledger) Compact(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-l.retention)
	tx := l.db.WithContext(ctx).Delete(&models.DedupRecord{}, "seen_at < ?", cutoff)
	if err := tx.Error; err != nil {
		return 0, err
	}
	if tx.RowsAffected > 0 {
		l.log.Sugar().Infof("Compacted %d dedup records", tx.RowsAffected)
	}
	return tx.RowsAffected, nil
}
