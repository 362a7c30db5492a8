package mailtm

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ParsedSource is the decoded form of a MessageSource.
type ParsedSource struct {
	MessageID   string
	Subject     string
	From        []Recipient
	To          []Recipient
	Date        time.Time
	TextBody    string
	HTMLBody    string
	Attachments []ParsedAttachment
}

// ParsedAttachment is an attachment found while walking the MIME tree.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// Parse decodes the raw RFC 5322 data of the source. Bodies in unknown
// charsets are kept as raw bytes rather than failing the whole parse.
func (s *MessageSource) Parse() (*ParsedSource, error) {
	if strings.TrimSpace(s.Data) == "" {
		return nil, fmt.Errorf("parsing source %s: empty data", s.ID)
	}

	mr, err := mail.CreateReader(strings.NewReader(s.Data))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing source %s: %w", s.ID, err)
	}
	defer mr.Close()

	parsed := &ParsedSource{}
	h := mr.Header
	parsed.Subject, _ = h.Subject()
	parsed.MessageID, _ = h.MessageID()
	parsed.Date, _ = h.Date()
	parsed.From = addressList(h, "From")
	parsed.To = addressList(h, "To")

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return parsed, fmt.Errorf("reading part of source %s: %w", s.ID, err)
		}
		if part == nil {
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && parsed.TextBody == "":
				parsed.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && parsed.HTMLBody == "":
				parsed.HTMLBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()
			n, readErr := io.Copy(io.Discard, part.Body)
			if readErr != nil {
				continue
			}
			parsed.Attachments = append(parsed.Attachments, ParsedAttachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        n,
			})
		}
	}

	return parsed, nil
}

func addressList(h mail.Header, key string) []Recipient {
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]Recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Recipient{Name: a.Name, Address: a.Address})
	}
	return out
}
