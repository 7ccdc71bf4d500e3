package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/fiffu/feedrelay/lib/models"
)

var (
	//go:embed entry.html
	entryHTML     string
	entryTemplate = template.Must(template.New("entry.html").Parse(entryHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type EntryEmailFormat struct {
	Entry *models.NotificationEntry
}

func (ef *EntryEmailFormat) Subject() string {
	title := ef.Entry.Title
	if title == "" {
		title = ef.Entry.ItemID
	}
	if ef.Entry.OriginName == "" {
		return title
	}
	return fmt.Sprintf("[%s] %s", ef.Entry.OriginName, title)
}

type entryView struct {
	*models.NotificationEntry
	Images []string
	Links  []models.Attachment
}

func (ef *EntryEmailFormat) Body() string {
	view := entryView{NotificationEntry: ef.Entry, Images: ef.Entry.Images()}
	for _, a := range ef.Entry.Attachments {
		if a.Kind != models.AttachmentImage {
			view.Links = append(view.Links, a)
		}
	}
	return mustFillTemplate(entryTemplate, view)
}
