package email

import (
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// envelopeHeaders are rebuilt from Message fields on serialization and so
// are not carried over as extra headers by ReadMessage.
var envelopeHeaders = map[string]bool{
	"Mime-Version":              true,
	"Subject":                   true,
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Date":                      true,
	"Message-Id":                true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Content-Disposition":       true,
}

// ReadMessage parses an RFC 5322 message into a Message, keeping its
// Message-ID. Headers outside the envelope set become extra headers.
func ReadMessage(r io.Reader) (*Message, error) {
	entity, err := gomessage.Read(r)
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	h := mail.Header{Header: entity.Header}
	msg := &Message{
		Sender:     h.Get("From"),
		Recipients: addressList(h, "To"),
		Cc:         addressList(h, "Cc"),
		Bcc:        addressList(h, "Bcc"),
		ReplyTo:    h.Get("Reply-To"),
		id:         h.Get("Message-Id"),
	}
	if msg.Subject, err = h.Subject(); err != nil {
		msg.Subject = h.Get("Subject")
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	fields := h.Fields()
	var extra []HeaderField
	for fields.Next() {
		if !envelopeHeaders[fields.Key()] {
			extra = append(extra, HeaderField{Key: fields.Key(), Value: fields.Value()})
		}
	}
	// Fields iterates in wire order; keep the first occurrence of each key.
	for _, f := range extra {
		if !msg.hasExtraHeader(f.Key) {
			msg.SetHeader(f.Key, f.Value)
		}
	}

	if err := parseEntityBody(msg, entity); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Message) hasExtraHeader(key string) bool {
	for _, f := range m.extraHeaders {
		if strings.EqualFold(f.Key, key) {
			return true
		}
	}
	return false
}

func addressList(h mail.Header, key string) []string {
	if h.Get(key) == "" {
		return nil
	}
	addrs, err := h.AddressList(key)
	if err != nil {
		var out []string
		for _, s := range strings.Split(h.Get(key), ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		if a.Name != "" {
			out[i] = fmt.Sprintf("%s <%s>", a.Name, a.Address)
		} else {
			out[i] = a.Address
		}
	}
	return out
}

// parseEntityBody fills Body, HTML and Attachments from a go-message
// Entity. It handles both single-part and multipart messages (including
// nested multipart).
func parseEntityBody(msg *Message, entity *gomessage.Entity) error {
	if mr := entity.MultipartReader(); mr != nil {
		return parseMultipart(msg, mr)
	}
	return parseSinglePart(msg, entity)
}

// parseMultipart iterates over parts of a multipart message.
func parseMultipart(msg *Message, mr gomessage.MultipartReader) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil && !gomessage.IsUnknownCharset(err) {
			return fmt.Errorf("failed to read part: %w", err)
		}

		ct, _, _ := part.Header.ContentType()
		disp, dispParams, _ := part.Header.ContentDisposition()

		switch {
		case strings.HasPrefix(ct, "multipart/"):
			// nested multipart, recurse
			if nested := part.MultipartReader(); nested != nil {
				if err := parseMultipart(msg, nested); err != nil {
					return err
				}
			}

		case disp == "" && ct == "text/plain" && msg.Body == "":
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			msg.Body = string(body)

		case disp == "" && ct == "text/html" && msg.HTML == "":
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			msg.HTML = string(body)

		default:
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			att := Attachment{
				Filename:    dispParams["filename"],
				ContentType: ct,
				Data:        data,
				Disposition: disp,
			}
			if att.Filename == "" {
				if _, params, err := part.Header.ContentType(); err == nil {
					att.Filename = params["name"]
				}
			}
			fields := part.Header.Fields()
			for fields.Next() {
				if !envelopeHeaders[fields.Key()] {
					att.Headers = append(att.Headers, HeaderField{Key: fields.Key(), Value: fields.Value()})
				}
			}
			msg.Attachments = append(msg.Attachments, att)
		}
	}
}

// parseSinglePart reads the body of a non-multipart entity.
func parseSinglePart(msg *Message, entity *gomessage.Entity) error {
	ct, _, _ := entity.Header.ContentType()
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if ct == "text/html" {
		msg.HTML = string(body)
	} else {
		msg.Body = string(body)
	}
	return nil
}
