package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/fiffu/feedrelay/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AddResult int

const (
	Inserted AddResult = iota
	AlreadyPresent
)

func (r AddResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "already_present"
}

type RemoveResult int

const (
	Removed RemoveResult = iota
	NotFound
)

func (r RemoveResult) String() string {
	if r == Removed {
		return "removed"
	}
	return "not_found"
}

// Subscriptions is the single writer of subscription rows. Every successful
// mutation signals the engine owning the affected source kind.
type Subscriptions struct {
	db      *gorm.DB
	log     *zap.Logger
	signals signals
	now     func() time.Time
}

func NewSubscriptions(db *gorm.DB, log *zap.Logger) *Subscriptions {
	return &Subscriptions{db, log, newSignals(), func() time.Time { return time.Now().UTC() }}
}

// Changes returns the change signal for kind. Each engine should be the only receiver of its kind.
func (s *Subscriptions) Changes(kind models.SourceKind) <-chan struct{} {
	return s.signals[kind]
}

func (s *Subscriptions) Add(ctx context.Context, sinkID string, kind models.SourceKind, sourceKey string, opts models.SubscriptionOptions) (AddResult, error) {
	if err := ValidateSource(kind, sourceKey); err != nil {
		return AlreadyPresent, err
	}
	if strings.TrimSpace(sinkID) == "" {
		return AlreadyPresent, fmt.Errorf("sink id must not be empty")
	}

	sub := &models.Subscription{
		SinkID:     sinkID,
		SourceKind: kind,
		SourceKey:  sourceKey,
		Options:    opts,
		CreatedAt:  s.now(),
	}
	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sub)
		if err := res.Error; err != nil {
			return err
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return AlreadyPresent, err
	}
	if !inserted {
		return AlreadyPresent, nil
	}

	s.signals.notify(kind)
	return Inserted, nil
}

func (s *Subscriptions) Remove(ctx context.Context, sinkID string, kind models.SourceKind, sourceKey string) (RemoveResult, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("sink_id = ? AND source_kind = ? AND source_key = ?", sinkID, kind, sourceKey).
			Delete(&models.Subscription{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return NotFound, err
	}
	if affected == 0 {
		return NotFound, nil
	}

	s.signals.notify(kind)
	return Removed, nil
}

func (s *Subscriptions) ListForSink(ctx context.Context, sinkID string, kind models.SourceKind) (models.Subscriptions, error) {
	var subs models.Subscriptions
	tx := s.db.WithContext(ctx).
		Where("sink_id = ? AND source_kind = ?", sinkID, kind).
		Order("created_at, source_key").
		Find(&subs)
	return subs, tx.Error
}

func (s *Subscriptions) ListAll(ctx context.Context, kind models.SourceKind) (models.Subscriptions, error) {
	var subs models.Subscriptions
	tx := s.db.WithContext(ctx).
		Where("source_kind = ?", kind).
		Order("source_key, created_at").
		Find(&subs)
	return subs, tx.Error
}

// ListBySource returns the subscribers of one source, oldest first.
func (s *Subscriptions) ListBySource(ctx context.Context, kind models.SourceKind, sourceKey string) (models.Subscriptions, error) {
	var subs models.Subscriptions
	tx := s.db.WithContext(ctx).
		Where("source_kind = ? AND source_key = ?", kind, sourceKey).
		Order("created_at, sink_id").
		Find(&subs)
	return subs, tx.Error
}

// Followed returns the union of stream source keys, sorted.
func (s *Subscriptions) Followed(ctx context.Context) ([]string, error) {
	var keys []string
	tx := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("source_kind = ?", models.SourceStream).
		Distinct().
		Order("source_key").
		Pluck("source_key", &keys)
	return keys, tx.Error
}

// PurgeSink deletes every subscription of sinkID and returns how many were removed.
func (s *Subscriptions) PurgeSink(ctx context.Context, sinkID string) (int64, error) {
	var kinds []models.SourceKind
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Subscription{}).
			Where("sink_id = ?", sinkID).
			Distinct().
			Pluck("source_kind", &kinds).Error
		if err != nil {
			return err
		}
		res := tx.Where("sink_id = ?", sinkID).Delete(&models.Subscription{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.log.Sugar().Infow("Purged sink", "sink_id", sinkID, "subscriptions", affected)
		s.signals.notify(kinds...)
	}
	return affected, nil
}

// ValidateSource checks the shape of a source key; it does not touch the network.
func ValidateSource(kind models.SourceKind, sourceKey string) error {
	switch kind {
	case models.SourceFeed:
		u, err := url.Parse(sourceKey)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidSource, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: feed url must use http or https", models.ErrInvalidSource)
		}
		if u.Host == "" {
			return fmt.Errorf("%w: feed url has no host", models.ErrInvalidSource)
		}
		return nil

	case models.SourceStream:
		if sourceKey == "" {
			return fmt.Errorf("%w: empty account", models.ErrInvalidSource)
		}
		if strings.IndexFunc(sourceKey, unicode.IsSpace) >= 0 {
			return fmt.Errorf("%w: account %q contains whitespace", models.ErrInvalidSource, sourceKey)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown source kind %q", models.ErrInvalidSource, kind)
	}
}
