package senders

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/feedrelay/lib/models"
)

type discordSender struct {
	base
}

type discordWebhook struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Thumbnail   *discordImage  `json:"thumbnail,omitempty"`
	Image       *discordImage  `json:"image,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// webhookURL accepts either a full webhook URL or "id/token".
func (d *discordSender) webhookURL(target string) string {
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target
	}
	return strings.TrimRight(d.cfg.Discord.WebhookBase, "/") + "/" + strings.TrimLeft(target, "/")
}

func (d *discordSender) Send(ctx context.Context, target string, entry *models.NotificationEntry) error {
	payload := discordWebhook{
		Username: d.cfg.Discord.Username,
		Embeds:   []discordEmbed{embedFor(entry)},
	}

	var status int
	var retryAfter time.Duration
	err := requests.URL(d.webhookURL(target)).
		Transport(d.transport).
		BodyJSON(&payload).
		Post().
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			if secs, err := strconv.ParseFloat(res.Header.Get("Retry-After"), 64); err == nil && secs > 0 {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
			if outcome := statusOutcome(status); outcome != Ok {
				return &DeliveryError{Outcome: outcome, Platform: "discord", Status: status, RetryAfter: retryAfter}
			}
			return nil
		}).
		Fetch(ctx)
	if err == nil {
		return nil
	}

	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &DeliveryError{Outcome: Transient, Platform: "discord", Status: status, Err: err}
}

func embedFor(entry *models.NotificationEntry) discordEmbed {
	embed := discordEmbed{
		Title:       entry.Title,
		Description: entry.Body,
		URL:         entry.Link,
	}
	if !entry.Timestamp.IsZero() {
		embed.Timestamp = entry.Timestamp.UTC().Format(time.RFC3339)
	}
	if entry.Thumbnail != "" {
		img := &discordImage{URL: entry.Thumbnail}
		if entry.SourceKind == models.SourceStream {
			embed.Image = img
		} else {
			embed.Thumbnail = img
		}
	}
	if entry.OriginName != "" || entry.FooterIcon != "" {
		embed.Footer = &discordFooter{Text: entry.OriginName, IconURL: entry.FooterIcon}
	}
	return embed
}
