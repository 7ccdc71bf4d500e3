package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fiffu/feedrelay/lib/models"
	"gorm.io/gorm"
)

// FeedStates is owned by the poller.
type FeedStates struct {
	db *gorm.DB
}

func NewFeedStates(db *gorm.DB) *FeedStates {
	return &FeedStates{db}
}

// Schedule returns every subscribed feed with its state, least recently checked
// first. Feeds never checked come before all others.
func (fs *FeedStates) Schedule(ctx context.Context) ([]models.FeedSchedule, error) {
	distinctFeeds := fs.db.
		Model(&models.Subscription{}).
		Select("DISTINCT source_key").
		Where("source_kind = ?", models.SourceFeed)

	var rows []models.FeedSchedule
	tx := fs.db.WithContext(ctx).
		Table("(?) AS s", distinctFeeds).
		Select("s.source_key AS source_key, fs.last_checked AS last_checked, fs.ttl_minutes AS ttl_minutes").
		Joins("LEFT JOIN feed_states fs ON fs.source_key = s.source_key").
		Order("fs.last_checked IS NOT NULL, fs.last_checked, s.source_key").
		Scan(&rows)
	return rows, tx.Error
}

// Touch records a fetch attempt. LastChecked never moves backwards.
func (fs *FeedStates) Touch(ctx context.Context, sourceKey string, checkedAt time.Time, ttlMinutes *int) error {
	return fs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state models.FeedState
		err := tx.Where("source_key = ?", sourceKey).First(&state).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			state.SourceKey = sourceKey
		case err != nil:
			return err
		}

		if checkedAt.After(state.LastChecked) {
			state.LastChecked = checkedAt.UTC()
		}
		state.TTLMinutes = sql.NullInt64{}
		if ttlMinutes != nil {
			state.TTLMinutes = sql.NullInt64{Int64: int64(*ttlMinutes), Valid: true}
		}
		return tx.Save(&state).Error
	})
}

func (fs *FeedStates) Get(ctx context.Context, sourceKey string) (*models.FeedState, error) {
	var state models.FeedState
	if err := fs.db.WithContext(ctx).Where("source_key = ?", sourceKey).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}
