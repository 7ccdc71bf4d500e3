package senders

import (
	"context"
	"net/http"
	"strings"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sender delivers an entry to one target on its platform. Failures are *DeliveryError.
type Sender interface {
	Send(ctx context.Context, target string, entry *models.NotificationEntry) error
}

type Registry map[string]Sender

func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return map[string]Sender{
		"discord": &discordSender{base},
		"email":   &mailgunSender{base},
	}
}

// Resolve splits a sink id of the form platform:target. Ids without a known
// platform prefix belong to defaultPlatform.
func (r Registry) Resolve(sinkID, defaultPlatform string) (string, string, Sender, bool) {
	platform, target := defaultPlatform, sinkID
	if p, t, found := strings.Cut(sinkID, ":"); found {
		if _, known := r[p]; known {
			platform, target = p, t
		}
	}
	sender, ok := r[platform]
	return platform, target, sender, ok
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
