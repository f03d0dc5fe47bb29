package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

const defaultCharset = "utf-8"

// Bytes returns the message as a complete MIME document.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.build(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the message as a complete MIME document to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := m.build(cw)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// build serializes the message:
//
//	no attachments, no HTML   text/plain
//	attachments, no HTML      multipart/mixed{text/plain, attachments...}
//	HTML                      multipart/mixed{multipart/alternative{text/plain, text/html}, attachments...}
func (m *Message) build(w io.Writer) error {
	charset := m.charset()
	enc, err := textEncoder(charset)
	if err != nil {
		return err
	}

	simple := len(m.Attachments) == 0 && m.HTML == ""

	var header mail.Header
	if simple {
		setTextHeader(&header.Header, "plain", charset)
	} else {
		header.SetContentType("multipart/mixed", nil)
	}
	m.setHeaders(&header)

	mw, err := gomessage.CreateWriter(w, header.Header)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if simple {
		if err := writeText(mw, enc, m.Body); err != nil {
			return err
		}
		return mw.Close()
	}

	if m.HTML == "" {
		if err := writeTextPart(mw, "plain", charset, enc, m.Body); err != nil {
			return err
		}
	} else {
		var ah gomessage.Header
		ah.SetContentType("multipart/alternative", nil)
		aw, err := mw.CreatePart(ah)
		if err != nil {
			return fmt.Errorf("failed to build message: %w", err)
		}
		if err := writeTextPart(aw, "plain", charset, enc, m.Body); err != nil {
			return err
		}
		if err := writeTextPart(aw, "html", charset, enc, m.HTML); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
	}

	for i, att := range m.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return fmt.Errorf("attachment %d (%s): %w", i, att.Filename, err)
		}
	}

	return mw.Close()
}

// setHeaders applies the envelope headers. Extra headers go last so they
// override anything set before them.
func (m *Message) setHeaders(h *mail.Header) {
	h.Set("MIME-Version", "1.0")
	h.SetSubject(m.Subject)
	h.Set("From", m.Sender)
	h.Set("To", strings.Join(m.Recipients, ", "))

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	// see RFC 5322 section 3.6.4.
	h.SetDate(date.Local())
	h.Set("Message-ID", m.MessageID())

	if len(m.Bcc) > 0 {
		h.Set("Bcc", strings.Join(m.Bcc, ", "))
	}
	if len(m.Cc) > 0 {
		h.Set("Cc", strings.Join(m.Cc, ", "))
	}
	if m.ReplyTo != "" {
		h.Set("Reply-To", m.ReplyTo)
	}

	for _, f := range m.extraHeaders {
		h.Set(f.Key, f.Value)
	}
}

func (m *Message) charset() string {
	if m.Charset != "" {
		return m.Charset
	}
	return defaultCharset
}

// textEncoder returns the transcoder from UTF-8 into charset, or nil when
// none is needed.
func textEncoder(charset string) (*encoding.Encoder, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8", "us-ascii":
		return nil, nil
	}
	e, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	if e == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return e.NewEncoder(), nil
}

func setTextHeader(h *gomessage.Header, subtype, charset string) {
	h.SetContentType("text/"+subtype, map[string]string{"charset": charset})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
}

func writeText(w io.WriteCloser, enc *encoding.Encoder, text string) error {
	data := []byte(text)
	if enc != nil {
		var err error
		if data, err = enc.Bytes(data); err != nil {
			return fmt.Errorf("failed to encode text: %w", err)
		}
	}
	_, err := w.Write(data)
	return err
}

func writeTextPart(parent *gomessage.Writer, subtype, charset string, enc *encoding.Encoder, text string) error {
	var h gomessage.Header
	setTextHeader(&h, subtype, charset)
	w, err := parent.CreatePart(h)
	if err != nil {
		return err
	}
	if err := writeText(w, enc, text); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// mediaType splits ContentType on the first "/".
func (a Attachment) mediaType() (major, minor string, err error) {
	if a.ContentType == "" {
		return "application", "octet-stream", nil
	}
	major, minor, ok := strings.Cut(a.ContentType, "/")
	if !ok || major == "" || minor == "" {
		return "", "", fmt.Errorf("malformed content type %q", a.ContentType)
	}
	return major, minor, nil
}

func (a Attachment) disposition() string {
	if a.Disposition == "" {
		return "attachment"
	}
	return a.Disposition
}

func writeAttachment(parent *gomessage.Writer, att Attachment) error {
	major, minor, err := att.mediaType()
	if err != nil {
		return err
	}

	var h gomessage.Header
	h.Set("Content-Type", major+"/"+minor)
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", fmt.Sprintf("%s;filename=%s", att.disposition(), att.Filename))
	for _, f := range att.Headers {
		h.Add(f.Key, f.Value)
	}

	w, err := parent.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := w.Write(att.Data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
