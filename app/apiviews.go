package app

import (
	"time"

	"github.com/fiffu/feedrelay/lib"
	"github.com/fiffu/feedrelay/lib/models"
)

type SubscriptionView struct {
	SinkID     string      `json:"sink_id"`
	SourceKind string      `json:"source_kind"`
	SourceKey  string      `json:"source_key"`
	Options    OptionsView `json:"options"`
	CreatedAt  *string     `json:"created_at"`
}

type OptionsView struct {
	IncludeRetweets bool     `json:"include_retweets"`
	IncludeReplies  bool     `json:"include_replies"`
	Keywords        []string `json:"keywords"`
}

type ResultView struct {
	Status       string           `json:"status"`
	Message      string           `json:"message"`
	Subscription SubscriptionView `json:"subscription"`
}

func (view OptionsView) From(entity models.SubscriptionOptions) OptionsView {
	keywords := entity.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return OptionsView{
		IncludeRetweets: entity.IncludeRetweets,
		IncludeReplies:  entity.IncludeReplies,
		Keywords:        keywords,
	}
}

func (view SubscriptionView) From(entity models.Subscription) SubscriptionView {
	return SubscriptionView{
		SinkID:     entity.SinkID,
		SourceKind: string(entity.SourceKind),
		SourceKey:  entity.SourceKey,
		Options:    OptionsView{}.From(entity.Options),
		CreatedAt:  isoformat(entity.CreatedAt),
	}
}

func (view ResultView) From(entity *lib.Result) ResultView {
	return ResultView{
		Status:       string(entity.Status),
		Message:      entity.Message,
		Subscription: SubscriptionView{}.From(entity.Subscription),
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
