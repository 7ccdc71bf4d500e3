package streamer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/feedrelay/config"
)

var ErrAccountNotFound = errors.New("account not found")

type Account struct {
	ID     string `json:"id_str"`
	Handle string `json:"screen_name"`
}

// Lookup resolves account handles to the stable ids used as stream source keys.
type Lookup struct {
	url       string
	token     string
	transport http.RoundTripper
}

func NewLookup(cfg *config.Config, transport http.RoundTripper) *Lookup {
	return &Lookup{cfg.Stream.LookupURL, cfg.Stream.Token, transport}
}

func (l *Lookup) ByHandle(ctx context.Context, handle string) (*Account, error) {
	return l.lookup(ctx, "screen_name", strings.TrimPrefix(handle, "@"))
}

func (l *Lookup) ByID(ctx context.Context, id string) (*Account, error) {
	return l.lookup(ctx, "user_id", id)
}

func (l *Lookup) lookup(ctx context.Context, param, value string) (*Account, error) {
	if l.url == "" {
		return nil, errors.New("account lookup is not configured")
	}

	var accounts []Account
	notFound := false
	rb := requests.URL(l.url).
		Transport(l.transport).
		Param(param, value).
		AddValidator(func(res *http.Response) error {
			if res.StatusCode == http.StatusNotFound {
				notFound = true
				return ErrAccountNotFound
			}
			return requests.DefaultValidator(res)
		}).
		ToJSON(&accounts)
	if l.token != "" {
		rb = rb.Bearer(l.token)
	}

	err := rb.Fetch(ctx)
	switch {
	case notFound:
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, value)
	case err != nil:
		return nil, fmt.Errorf("lookup %s=%s: %w", param, value, err)
	}

	for _, acct := range accounts {
		if acct.ID != "" && (acct.ID == value || strings.EqualFold(acct.Handle, value)) {
			return &acct, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, value)
}
