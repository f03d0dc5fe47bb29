package email

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Message represents an outgoing email message.
//
// A Message is a single-owner builder: fill it in, then hand it to Send.
// Use NewMessage so the Message-ID is fixed from the start.
type Message struct {
	Sender     string
	Subject    string
	Recipients []string

	// Content
	Body string
	HTML string

	Cc      []string
	Bcc     []string
	ReplyTo string

	// Date is the send date; zero means the time of serialization.
	Date time.Time
	// Charset of the text parts; empty means utf-8.
	Charset string

	Attachments []Attachment

	extraHeaders []HeaderField
	id           string
}

// HeaderField is a single header key/value pair.
type HeaderField struct {
	Key   string
	Value string
}

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string // "major/minor"; empty means application/octet-stream
	Data        []byte
	Disposition string // "attachment" or "inline"; empty means attachment
	Headers     []HeaderField
}

// Transport is anything that can put a validated Message on the wire.
// *Connection is the SMTP implementation.
type Transport interface {
	Send(msg *Message) error
}

// NewMessage creates a message from sender with the given subject.
func NewMessage(sender, subject string) *Message {
	return &Message{
		Sender:  sender,
		Subject: subject,
		id:      GenerateMessageID(sender),
	}
}

// MessageID returns the Message-ID header value, angle brackets included.
// It never changes once assigned.
func (m *Message) MessageID() string {
	if m.id == "" {
		m.id = GenerateMessageID(m.Sender)
	}
	return m.id
}

// AddRecipient adds another recipient to the message.
func (m *Message) AddRecipient(addr string) {
	m.Recipients = append(m.Recipients, addr)
}

// Attach adds an attachment to the message. Nothing is validated until the
// message is serialized.
func (m *Message) Attach(filename, contentType string, data []byte, disposition string, headers ...HeaderField) {
	m.Attachments = append(m.Attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Disposition: disposition,
		Headers:     append([]HeaderField(nil), headers...),
	})
}

// AttachFile reads path and attaches it under its base name. The content
// type is guessed from the extension, then from the content itself.
func (m *Message) AttachFile(path, disposition string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read attachment %s: %w", path, err)
	}
	name := filepath.Base(path)
	m.Attach(name, detectContentType(name, data), data, disposition)
	return nil
}

func detectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

// SetHeader sets an extra header written after all standard headers. It
// wins over a standard header of the same name. Setting a key again
// replaces the value but keeps the original position.
func (m *Message) SetHeader(key, value string) {
	for i := range m.extraHeaders {
		if strings.EqualFold(m.extraHeaders[i].Key, key) {
			m.extraHeaders[i].Value = value
			return
		}
	}
	m.extraHeaders = append(m.extraHeaders, HeaderField{Key: key, Value: value})
}

// ExtraHeaders returns the extra headers in insertion order.
func (m *Message) ExtraHeaders() []HeaderField {
	return append([]HeaderField(nil), m.extraHeaders...)
}

// SendTo returns every envelope recipient: Recipients, Cc and Bcc with
// duplicates removed, in order of first appearance.
func (m *Message) SendTo() []string {
	seen := make(map[string]struct{}, len(m.Recipients)+len(m.Cc)+len(m.Bcc))
	var out []string
	for _, list := range [][]string{m.Recipients, m.Cc, m.Bcc} {
		for _, addr := range list {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// HasBadHeaders reports whether the subject, sender, reply-to or any
// recipient contains a newline.
func (m *Message) HasBadHeaders() bool {
	return m.badHeader() != ""
}

func (m *Message) badHeader() string {
	switch {
	case hasNewline(m.Subject):
		return "Subject"
	case hasNewline(m.Sender):
		return "From"
	case hasNewline(m.ReplyTo):
		return "Reply-To"
	}
	for _, r := range m.Recipients {
		if hasNewline(r) {
			return "To"
		}
	}
	return ""
}

func hasNewline(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// Send verifies the message and hands it to t.
func (m *Message) Send(t Transport) error {
	if len(m.Recipients) == 0 {
		return ErrNoRecipients
	}
	if m.Body == "" && m.HTML == "" {
		return ErrNoBody
	}
	if m.Sender == "" {
		return ErrNoSender
	}
	if field := m.badHeader(); field != "" {
		return &HeaderInjectionError{Field: field}
	}
	return t.Send(m)
}

// GenerateMessageID produces a RFC 5322 compliant Message-ID using the
// domain extracted from the sender's email address.
// Format: <timestamp.random@domain>
func GenerateMessageID(fromEmail string) string {
	domain := "localhost"
	addr := bareAddress(fromEmail)
	if idx := strings.LastIndex(addr, "@"); idx >= 0 {
		if d := addr[idx+1:]; d != "" && !strings.ContainsAny(d, "<>\r\n\t ") {
			domain = d
		}
	}

	randomPart := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), randomPart, domain)
}

// bareAddress extracts "user@host" from forms like "Name <user@host>".
// Unparseable input is returned trimmed, as given.
func bareAddress(s string) string {
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}
	return strings.TrimSpace(s)
}

func bareAddresses(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = bareAddress(s)
	}
	return out
}
