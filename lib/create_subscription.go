package lib

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/fiffu/feedrelay/lib/fetcher"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/normalize"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/lib/streamer"
	"go.uber.org/zap"
)

type subscribe struct {
	log      *zap.Logger
	subs     *store.Subscriptions
	prober   Prober
	accounts AccountResolver
}

func (svc *subscribe) Subscribe(ctx context.Context, sinkID string, kind models.SourceKind, sourceKey string, opts models.SubscriptionOptions) (*Result, error) {
	sourceKey = strings.TrimSpace(sourceKey)
	if err := store.ValidateSource(kind, sourceKey); err != nil {
		return nil, err
	}

	var key, name string
	var err error
	switch kind {
	case models.SourceFeed:
		key, name, err = svc.probeFeed(ctx, sourceKey)
	case models.SourceStream:
		key, name, err = svc.resolveAccount(ctx, sourceKey)
	}
	if err != nil {
		return nil, err
	}

	res, err := svc.subs.Add(ctx, sinkID, kind, key, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Subscription: models.Subscription{SinkID: sinkID, SourceKind: kind, SourceKey: key, Options: opts},
	}
	if res == store.AlreadyPresent {
		result.Status = StatusAlreadySubscribed
		result.Message = fmt.Sprintf("Already subscribed to %s", name)
		return result, nil
	}

	svc.log.Sugar().Infow("Created subscription", "sink_id", sinkID, "source_kind", kind, "source_key", key)
	result.Status = StatusSubscribed
	result.Message = fmt.Sprintf("Subscribed to %s", name)
	return result, nil
}

// probeFeed fetches sourceKey once and returns the key with a display name.
func (svc *subscribe) probeFeed(ctx context.Context, sourceKey string) (string, string, error) {
	resp, err := svc.prober.Fetch(ctx, sourceKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: could not fetch %s: %v", models.ErrInvalidSource, sourceKey, err)
	}

	doc, err := normalize.ParseFeed(sourceKey, resp.Body, time.Now())
	if errors.Is(err, normalize.ErrNotFeed) {
		if title := pageTitle(resp); title != "" {
			return "", "", fmt.Errorf("%w: %s is a web page (%q), not a feed", models.ErrInvalidSource, sourceKey, title)
		}
		return "", "", fmt.Errorf("%w: %s is not an RSS or Atom feed", models.ErrInvalidSource, sourceKey)
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", models.ErrInvalidSource, sourceKey, err)
	}

	if doc.Title == "" {
		return sourceKey, sourceKey, nil
	}
	return sourceKey, fmt.Sprintf("%s (%s)", doc.Title, sourceKey), nil
}

func pageTitle(resp *fetcher.Response) string {
	r, err := resp.Reader()
	if err != nil {
		return ""
	}
	return normalize.PageTitle(r)
}

// resolveAccount maps a handle or account id to the account's stable id.
func (svc *subscribe) resolveAccount(ctx context.Context, sourceKey string) (string, string, error) {
	acct, err := lookupAccount(ctx, svc.accounts, sourceKey)
	if errors.Is(err, streamer.ErrAccountNotFound) {
		return "", "", fmt.Errorf("%w: no account named %s", models.ErrInvalidSource, sourceKey)
	}
	if err != nil {
		return "", "", err
	}
	return acct.ID, "@" + acct.Handle, nil
}

func lookupAccount(ctx context.Context, accounts AccountResolver, sourceKey string) (*streamer.Account, error) {
	if isAccountID(sourceKey) {
		return accounts.ByID(ctx, sourceKey)
	}
	return accounts.ByHandle(ctx, strings.TrimPrefix(sourceKey, "@"))
}

func isAccountID(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}
