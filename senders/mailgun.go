package senders

import (
	"context"
	"time"

	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/senders/email"
	"github.com/mailgun/mailgun-go/v4"
)

type mailgunSender struct {
	base
}

func (e *mailgunSender) Send(ctx context.Context, recipient string, entry *models.NotificationEntry) error {
	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.Client().Transport = e.transport
	if e.cfg.Mailgun.APIBase != "" {
		mg.SetAPIBase(e.cfg.Mailgun.APIBase)
	}

	format := &email.EntryEmailFormat{Entry: entry}

	// Create message with empty body first.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, format.Subject(), "", recipient)
	// SetHtml with the payload proper. This will assign the MIME type properly.
	message.SetHtml(format.Body())

	timeout := time.Duration(e.cfg.Mailgun.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, id, err := mg.Send(ctx, message)
	if err != nil {
		status := mailgun.GetStatusFromErr(err)
		outcome := Transient
		if status >= 400 && status < 500 && status != 429 {
			outcome = Rejected
		}
		if status < 0 {
			status = 0
		}
		return &DeliveryError{Outcome: outcome, Platform: "email", Status: status, Err: err}
	}
	e.log.Sugar().Debugw("Sent email", "message_id", id, "recipient", recipient)
	return nil
}
