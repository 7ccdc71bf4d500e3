package models

import "time"

type Attachment struct {
	URL  string
	Kind AttachmentKind
}

// NotificationEntry is the provider-agnostic payload handed to the sink gateway.
// Optional URLs are empty when absent.
type NotificationEntry struct {
	SourceKind  SourceKind
	SourceKey   string
	ItemID      string
	Title       string
	Body        string
	Link        string
	Thumbnail   string
	FooterIcon  string
	OriginName  string
	Timestamp   time.Time
	Attachments []Attachment
}

// DedupKey returns the ledger key pair for the entry.
func (e *NotificationEntry) DedupKey() (string, string) {
	return e.SourceKey, e.ItemID
}

// Images returns attachment URLs of kind image.
func (e *NotificationEntry) Images() []string {
	var out []string
	for _, a := range e.Attachments {
		if a.Kind == AttachmentImage {
			out = append(out, a.URL)
		}
	}
	return out
}
