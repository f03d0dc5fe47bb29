package email

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport records what Message.Send hands over.
type recordingTransport struct {
	sent []*Message
	err  error
}

func (r *recordingTransport) Send(msg *Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestNewMessage_Defaults(t *testing.T) {
	msg := NewMessage("sender@example.com", "Hi")

	assert.Equal(t, "sender@example.com", msg.Sender)
	assert.Equal(t, "Hi", msg.Subject)
	assert.Empty(t, msg.Recipients)
	assert.Empty(t, msg.Attachments)
	assert.Empty(t, msg.ExtraHeaders())
	assert.True(t, msg.Date.IsZero())
	assert.Contains(t, msg.MessageID(), "@example.com>")
}

func TestNewMessage_IndependentSlices(t *testing.T) {
	a := NewMessage("a@example.com", "a")
	b := NewMessage("b@example.com", "b")

	a.AddRecipient("x@example.com")
	a.Attach("f", "text/plain", nil, "")

	assert.Empty(t, b.Recipients)
	assert.Empty(t, b.Attachments)
	assert.NotEqual(t, a.MessageID(), b.MessageID())
}

func TestMessage_ZeroValueGetsStableID(t *testing.T) {
	var msg Message
	id := msg.MessageID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, msg.MessageID())
}

func TestAddRecipient_KeepsOrderAndDuplicates(t *testing.T) {
	msg := NewMessage("s@example.com", "s")
	msg.AddRecipient("b@example.com")
	msg.AddRecipient("a@example.com")
	msg.AddRecipient("b@example.com")

	assert.Equal(t, []string{"b@example.com", "a@example.com", "b@example.com"}, msg.Recipients)
}

func TestAttach(t *testing.T) {
	msg := NewMessage("s@example.com", "s")
	headers := []HeaderField{{Key: "Content-ID", Value: "<1>"}}
	msg.Attach("photo.png", "image/png", []byte("data"), "inline", headers...)
	headers[0].Value = "changed"

	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "photo.png", att.Filename)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Equal(t, []byte("data"), att.Data)
	assert.Equal(t, "inline", att.Disposition)
	assert.Equal(t, []HeaderField{{Key: "Content-ID", Value: "<1>"}}, att.Headers)
}

func TestAttachFile(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n"), 0o644))
	odd := filepath.Join(dir, "notes.zzunknown")
	require.NoError(t, os.WriteFile(odd, []byte("just some text"), 0o644))

	msg := NewMessage("s@example.com", "s")
	require.NoError(t, msg.AttachFile(png, ""))
	require.NoError(t, msg.AttachFile(odd, "inline"))

	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "photo.png", msg.Attachments[0].Filename)
	assert.Equal(t, "image/png", msg.Attachments[0].ContentType)
	assert.Equal(t, "notes.zzunknown", msg.Attachments[1].Filename)
	assert.Equal(t, "text/plain", msg.Attachments[1].ContentType)
	assert.Equal(t, "inline", msg.Attachments[1].Disposition)

	assert.Error(t, msg.AttachFile(filepath.Join(dir, "missing.pdf"), ""))
}

func TestSetHeader_InsertionOrder(t *testing.T) {
	msg := NewMessage("s@example.com", "s")
	msg.SetHeader("X-B", "1")
	msg.SetHeader("X-A", "2")
	msg.SetHeader("x-b", "3")

	assert.Equal(t, []HeaderField{
		{Key: "X-B", Value: "3"},
		{Key: "X-A", Value: "2"},
	}, msg.ExtraHeaders())
}

func TestSendTo_Union(t *testing.T) {
	tests := []struct {
		name       string
		recipients []string
		cc         []string
		bcc        []string
		want       []string
	}{
		{"recipients only", []string{"a"}, nil, nil, []string{"a"}},
		{"all lists", []string{"a"}, []string{"b"}, []string{"c"}, []string{"a", "b", "c"}},
		{"overlap across lists", []string{"a", "b"}, []string{"b", "c"}, []string{"a", "c", "d"}, []string{"a", "b", "c", "d"}},
		{"duplicates within list", []string{"a", "a"}, nil, nil, []string{"a"}},
		{"empty", nil, nil, nil, nil},
		{"bcc only", nil, nil, []string{"z"}, []string{"z"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := &Message{Recipients: tc.recipients, Cc: tc.cc, Bcc: tc.bcc}
			got := msg.SendTo()
			assert.Equal(t, tc.want, got)

			// set semantics: every input appears exactly once
			set := map[string]bool{}
			for _, list := range [][]string{tc.recipients, tc.cc, tc.bcc} {
				for _, a := range list {
					set[a] = true
				}
			}
			var keys []string
			for k := range set {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			sorted := append([]string(nil), got...)
			sort.Strings(sorted)
			assert.Equal(t, keys, sorted)
		})
	}
}

func TestHasBadHeaders(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
		bad    bool
	}{
		{"clean", func(*Message) {}, false},
		{"empty reply-to", func(m *Message) { m.ReplyTo = "" }, false},
		{"subject LF", func(m *Message) { m.Subject = "a\nb" }, true},
		{"subject CR", func(m *Message) { m.Subject = "a\rb" }, true},
		{"sender", func(m *Message) { m.Sender = "s@example.com\r\nBcc: x@example.com" }, true},
		{"reply-to", func(m *Message) { m.ReplyTo = "r@example.com\n" }, true},
		{"recipient", func(m *Message) { m.AddRecipient("x@example.com\r") }, true},
		{"cc is not checked", func(m *Message) { m.Cc = []string{"c@example.com\n"} }, false},
		{"body is not checked", func(m *Message) { m.Body = "line1\r\nline2" }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := newTestMessage()
			tc.mutate(msg)
			assert.Equal(t, tc.bad, msg.HasBadHeaders())
		})
	}
}

func TestSend_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
		want   error
	}{
		{"no recipients", func(m *Message) { m.Recipients = nil }, ErrNoRecipients},
		{"no body or html", func(m *Message) { m.Body = "" }, ErrNoBody},
		{"no sender", func(m *Message) { m.Sender = "" }, ErrNoSender},
		{"no recipients checked before bad headers", func(m *Message) {
			m.Recipients = nil
			m.Subject = "a\nb"
		}, ErrNoRecipients},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := newTestMessage()
			tc.mutate(msg)

			tr := &recordingTransport{}
			err := msg.Send(tr)

			require.ErrorIs(t, err, tc.want)
			var pe *PreconditionError
			assert.ErrorAs(t, err, &pe)
			assert.Empty(t, tr.sent)
		})
	}
}

func TestSend_HTMLOnlyIsEnough(t *testing.T) {
	msg := newTestMessage()
	msg.Body = ""
	msg.HTML = "<p>hi</p>"

	tr := &recordingTransport{}
	require.NoError(t, msg.Send(tr))
	assert.Len(t, tr.sent, 1)
}

func TestSend_HeaderInjection(t *testing.T) {
	msg := newTestMessage()
	msg.AddRecipient("evil@example.com\r\nBcc: victim@example.com")

	tr := &recordingTransport{}
	err := msg.Send(tr)

	var injErr *HeaderInjectionError
	require.ErrorAs(t, err, &injErr)
	assert.Equal(t, "To", injErr.Field)
	assert.Empty(t, tr.sent)
}

func TestSend_HandsOverMessage(t *testing.T) {
	msg := newTestMessage()
	tr := &recordingTransport{}

	require.NoError(t, msg.Send(tr))
	require.Len(t, tr.sent, 1)
	assert.Same(t, msg, tr.sent[0])
}

func TestGenerateMessageID(t *testing.T) {
	id := GenerateMessageID("user@example.com")

	require.NotEmpty(t, id)
	assert.True(t, strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">"), "missing angle brackets: %s", id)
	assert.Contains(t, id, "@example.com")
}

func TestGenerateMessageID_DifferentDomains(t *testing.T) {
	tests := []struct {
		email  string
		domain string
	}{
		{"user@gmail.com", "@gmail.com>"},
		{"admin@corp.co.uk", "@corp.co.uk>"},
		{"Jane Doe <jane@example.org>", "@example.org>"},
		{"nodomain", "@localhost>"},
		{"", "@localhost>"},
		{"x@bad\r\ndomain", "@localhost>"},
	}

	for _, tc := range tests {
		id := GenerateMessageID(tc.email)
		assert.True(t, strings.HasSuffix(id, tc.domain), "GenerateMessageID(%q) = %q, want domain %q", tc.email, id, tc.domain)
	}
}

func TestGenerateMessageID_Uniqueness(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := GenerateMessageID("user@example.com")
		_, dup := ids[id]
		require.False(t, dup, "duplicate ID: %s", id)
		ids[id] = struct{}{}
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "message not sendable: no recipients have been added", ErrNoRecipients.Error())
	assert.Equal(t, "header injection: newline in Subject", (&HeaderInjectionError{Field: "Subject"}).Error())
}
