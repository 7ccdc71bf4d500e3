package lib

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/lib/streamer"
	"go.uber.org/zap"
)

type unsubscribe struct {
	log      *zap.Logger
	subs     *store.Subscriptions
	accounts AccountResolver
}

// Unsubscribe removes one subscription. Stream handles that do not match a
// stored key are resolved to their account id and tried again.
func (svc *unsubscribe) Unsubscribe(ctx context.Context, sinkID string, kind models.SourceKind, sourceKey string) (*Result, error) {
	sourceKey = strings.TrimSpace(sourceKey)
	if kind == models.SourceStream {
		sourceKey = strings.TrimPrefix(sourceKey, "@")
	}
	name := sourceKey

	res, err := svc.subs.Remove(ctx, sinkID, kind, sourceKey)
	if err != nil {
		return nil, err
	}

	if res == store.NotFound && kind == models.SourceStream && !isAccountID(sourceKey) {
		acct, err := lookupAccount(ctx, svc.accounts, sourceKey)
		switch {
		case errors.Is(err, streamer.ErrAccountNotFound):
		case err != nil:
			return nil, err
		default:
			name = "@" + acct.Handle
			sourceKey = acct.ID
			if res, err = svc.subs.Remove(ctx, sinkID, kind, sourceKey); err != nil {
				return nil, err
			}
		}
	}

	result := &Result{
		Subscription: models.Subscription{SinkID: sinkID, SourceKind: kind, SourceKey: sourceKey},
	}
	if res == store.NotFound {
		result.Status = StatusNotSubscribed
		result.Message = fmt.Sprintf("Not subscribed to %s", name)
		return result, nil
	}

	svc.log.Sugar().Infow("Removed subscription", "sink_id", sinkID, "source_kind", kind, "source_key", sourceKey)
	result.Status = StatusUnsubscribed
	result.Message = fmt.Sprintf("Unsubscribed from %s", name)
	return result, nil
}
