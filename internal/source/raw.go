package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nhle/inboxpilot/internal/model"
)

// RawMessage is a payload as delivered by an adapter, before validation.
type RawMessage struct {
	ID            string
	ThreadID      string
	SenderAddress string
	SenderName    string
	Subject       string
	BodyPlain     string
	BodyHTML      string
	ReceivedAt    time.Time
}

// Normalize validates r and converts it into a pipeline message. The
// thread id defaults to the message id, a zero receive time becomes now and
// a blank plain body is derived from the HTML body.
func (r RawMessage) Normalize(now time.Time) (model.Message, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return model.Message{}, fmt.Errorf("%w: missing id", ErrMalformedPayload)
	}
	if strings.ContainsAny(id, "\r\n") {
		return model.Message{}, fmt.Errorf(
			"%w: id %q contains line breaks", ErrMalformedPayload, id,
		)
	}

	threadID := strings.TrimSpace(r.ThreadID)
	if threadID == "" {
		threadID = id
	}

	received := r.ReceivedAt
	if received.IsZero() {
		received = now
	}

	plain := strings.TrimSpace(r.BodyPlain)
	if plain == "" && strings.TrimSpace(r.BodyHTML) != "" {
		text, err := HTMLToText(r.BodyHTML)
		if err != nil {
			return model.Message{}, fmt.Errorf(
				"%w: html body of %s: %v", ErrMalformedPayload, id, err,
			)
		}
		plain = text
	}

	subject := strings.TrimSpace(r.Subject)
	msg := model.Message{
		ID:            id,
		ThreadID:      threadID,
		SenderAddress: strings.ToLower(strings.TrimSpace(r.SenderAddress)),
		SenderName:    strings.TrimSpace(r.SenderName),
		Subject:       subject,
		BodyPlain:     plain,
		BodyHTML:      r.BodyHTML,
		ReceivedAt:    received.UTC(),
		Relevance:     model.RelevanceUnknown,
		Priority:      model.PriorityNormal,
		State:         model.StateFetched,
	}
	msg.ContentHash = model.ContentHash(msg.Subject, msg.BodyPlain, msg.BodyHTML)

	return msg, nil
}

// HTMLToText renders an HTML body as plain text, keeping block elements on
// their own lines and dropping scripts and styles.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(
		func(_ int, s *goquery.Selection) {
			s.AppendHtml("\n")
		},
	)

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}

	return strings.TrimSpace(strings.Join(out, "\n")), nil
}
