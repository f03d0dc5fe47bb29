package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/tinysmtp/tinysmtp/pkgs/config"
	"github.com/tinysmtp/tinysmtp/pkgs/email"
)

type sendFlags struct {
	to, cc, bcc               []string
	replyTo, subject, charset string
	text, html                string
	textFile, htmlFile        string
	eml                       string
	attachments, inline       []string
	headers                   []string
	saveMbox                  string
	dryRun                    bool
}

func newSendFlagSet(f *sendFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.StringSliceVar(&f.to, "to", nil, "Recipients (comma-separated, repeatable)")
	fs.StringSliceVar(&f.cc, "cc", nil, "CC recipients (comma-separated, repeatable)")
	fs.StringSliceVar(&f.bcc, "bcc", nil, "BCC recipients (comma-separated, repeatable)")
	fs.StringVar(&f.replyTo, "reply-to", "", "Reply-To address")
	fs.StringVar(&f.subject, "subject", "", "Email subject")
	fs.StringVar(&f.charset, "charset", "", "Charset of the text parts (default utf-8)")
	fs.StringVar(&f.text, "text", "", "Plain text body")
	fs.StringVar(&f.html, "html", "", "HTML body")
	fs.StringVar(&f.textFile, "text-file", "", "Plain text body from file (\"-\" for stdin)")
	fs.StringVar(&f.htmlFile, "html-file", "", "HTML body from file (\"-\" for stdin)")
	fs.StringVar(&f.eml, "eml", "", "Start from an existing RFC 5322 message file")
	fs.StringArrayVar(&f.attachments, "attachment", nil, "Attachment file path (repeatable)")
	fs.StringArrayVar(&f.inline, "inline", nil, "Inline attachment file path (repeatable)")
	fs.StringArrayVar(&f.headers, "header", nil, "Extra header \"Key: Value\" (repeatable)")
	fs.StringVar(&f.saveMbox, "save-mbox", "", "Append the sent message to an mbox file")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Preview email without sending")
	return fs
}

func parseSendFlags(args []string) sendFlags {
	var f sendFlags
	if err := newSendFlagSet(&f).Parse(args); err != nil {
		fatal("send: %v", err)
	}
	return f
}

// buildMessage assembles the outgoing message from the account and flags.
// Flags override whatever an --eml file already carries.
func buildMessage(acc *config.AccountConfig, f sendFlags, stdin io.Reader) (*email.Message, error) {
	var msg *email.Message
	if f.eml != "" {
		file, err := os.Open(f.eml)
		if err != nil {
			return nil, fmt.Errorf("--eml: %w", err)
		}
		defer file.Close()
		if msg, err = email.ReadMessage(file); err != nil {
			return nil, fmt.Errorf("--eml: %w", err)
		}
		if msg.Sender == "" {
			msg.Sender = acc.From()
		}
		if f.subject != "" {
			msg.Subject = f.subject
		}
	} else {
		msg = email.NewMessage(acc.From(), f.subject)
	}

	for _, addr := range splitList(f.to) {
		msg.AddRecipient(addr)
	}
	msg.Cc = append(msg.Cc, splitList(f.cc)...)
	msg.Bcc = append(msg.Bcc, splitList(f.bcc)...)

	switch {
	case f.replyTo != "":
		msg.ReplyTo = f.replyTo
	case msg.ReplyTo == "":
		msg.ReplyTo = acc.ReplyTo
	}
	if f.charset != "" {
		msg.Charset = f.charset
	}

	// --text-file takes precedence over --text
	text := f.text
	if f.textFile != "" {
		body, err := readBodySource(f.textFile, stdin)
		if err != nil {
			return nil, fmt.Errorf("--text-file: %w", err)
		}
		text = body
	}
	if text != "" {
		msg.Body = text
	}

	html := f.html
	if f.htmlFile != "" {
		body, err := readBodySource(f.htmlFile, stdin)
		if err != nil {
			return nil, fmt.Errorf("--html-file: %w", err)
		}
		html = body
	}
	if html != "" {
		msg.HTML = html
	}

	for _, path := range f.attachments {
		if err := msg.AttachFile(path, "attachment"); err != nil {
			return nil, err
		}
	}
	for _, path := range f.inline {
		if err := msg.AttachFile(path, "inline"); err != nil {
			return nil, err
		}
		// referenced from HTML as cid:<filename>
		att := &msg.Attachments[len(msg.Attachments)-1]
		att.Headers = append(att.Headers, email.HeaderField{Key: "Content-ID", Value: "<" + att.Filename + ">"})
	}

	for _, h := range f.headers {
		key, value, err := parseHeader(h)
		if err != nil {
			return nil, err
		}
		msg.SetHeader(key, value)
	}

	// pin the date so a saved copy matches what went out
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	return msg, nil
}

func handleSend(out io.Writer, acc *config.AccountConfig, f sendFlags) error {
	msg, err := buildMessage(acc, f, os.Stdin)
	if err != nil {
		return err
	}

	if f.dryRun {
		return msg.Send(previewTransport{out: out})
	}

	cfg, err := newSMTPConfig(acc)
	if err != nil {
		return err
	}

	conn := email.NewConnection(cfg)
	err = conn.Use(func(c *email.Connection) error {
		var t email.Transport = c
		if f.saveMbox != "" {
			t = mboxTransport{next: c, path: f.saveMbox}
		}
		return msg.Send(t)
	})
	if err != nil {
		return err
	}

	log.Info().Str("message_id", msg.MessageID()).Int("recipients", len(msg.SendTo())).Msg("email sent")
	fmt.Fprintln(out, "Email sent successfully")
	return nil
}

// previewTransport prints a message instead of delivering it.
type previewTransport struct {
	out io.Writer
}

func (p previewTransport) Send(msg *email.Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "=== Email Preview (Dry-Run Mode) ===")
	fmt.Fprintf(&buf, "From:       %s\n", msg.Sender)
	fmt.Fprintf(&buf, "Envelope:   %s\n", strings.Join(msg.SendTo(), ", "))
	fmt.Fprintf(&buf, "Subject:    %s\n", msg.Subject)
	fmt.Fprintf(&buf, "Message-ID: %s\n", msg.MessageID())
	fmt.Fprintf(&buf, "Size:       %s\n", units.HumanSize(float64(len(raw))))
	if len(msg.Attachments) > 0 {
		fmt.Fprintln(&buf, "Attachments:")
		for _, att := range msg.Attachments {
			fmt.Fprintf(&buf, "  - %s (%s, %s)\n", att.Filename, att.ContentType, units.HumanSize(float64(len(att.Data))))
		}
	}
	fmt.Fprintln(&buf)
	buf.Write(raw)
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "=== End of Preview ===")
	fmt.Fprintln(&buf, "Dry-run mode: email was NOT sent")

	if _, err := buf.WriteTo(p.out); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}

// mboxTransport archives each message after next accepted it.
type mboxTransport struct {
	next email.Transport
	path string
}

func (t mboxTransport) Send(msg *email.Message) error {
	if err := t.next.Send(msg); err != nil {
		return err
	}

	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	if err := email.AppendMbox(f, msg); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Debug().Str("path", t.path).Msg("message archived")
	return nil
}
