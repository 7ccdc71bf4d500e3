package store

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fiffu/feedrelay/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxJournalMessage = 1024

// Journal is the append-only error log written by the engines and the gateway.
type Journal struct {
	db  *gorm.DB
	log *zap.Logger
	mu  sync.Mutex
	now func() time.Time
}

func NewJournal(db *gorm.DB, log *zap.Logger) *Journal {
	return &Journal{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (j *Journal) Record(ctx context.Context, sourceKey string, kind models.ErrorKind, message string) error {
	message = truncateMessage(message)
	rec := &models.ErrorRecord{
		Timestamp: j.now(),
		SourceKey: sourceKey,
		Kind:      kind,
		Message:   message,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// Journal writes must outlive a cancelled caller.
	tx := j.db.WithContext(context.WithoutCancel(ctx)).Create(rec)
	if err := tx.Error; err != nil {
		j.log.Sugar().Errorw("Failed to write error journal", "source_key", sourceKey, "kind", kind, "err", err)
		return err
	}
	return nil
}

// truncateMessage cuts message to at most maxJournalMessage bytes on a rune
// boundary.
func truncateMessage(message string) string {
	if len(message) <= maxJournalMessage {
		return message
	}
	cut := maxJournalMessage
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
