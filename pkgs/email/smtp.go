package email

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultPort = 25

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     int // 0 means 25
	Username string
	Password string

	// SSL connects over implicit TLS. It takes precedence over StartTLS.
	SSL bool
	// StartTLS upgrades a plaintext session before authenticating.
	StartTLS bool
	// Debug traces the SMTP conversation to the debug log.
	Debug bool

	// AuthMechanism is "PLAIN" (default) or "LOGIN".
	AuthMechanism string
	// TLSConfig overrides the TLS settings; ServerName defaults to Host.
	TLSConfig *tls.Config
	// LocalName is the EHLO name; empty lets go-smtp pick.
	LocalName string
	// MaxMessageSize rejects larger payloads before DATA; 0 disables the check.
	MaxMessageSize int64

	DKIM *DKIMOptions
}

// smtpSession is the part of *smtp.Client a Connection drives.
type smtpSession interface {
	StartTLS(config *tls.Config) error
	Auth(a sasl.Client) error
	Mail(from string) error
	Rcpt(to string) error
	// Data sends DATA, the payload and the terminating dot.
	Data(r io.Reader) error
	Reset() error
	Close() error
}

// clientSession adapts *smtp.Client to smtpSession.
type clientSession struct {
	c *smtp.Client
}

func (s clientSession) StartTLS(config *tls.Config) error { return s.c.StartTLS(config) }
func (s clientSession) Auth(a sasl.Client) error          { return s.c.Auth(a) }
func (s clientSession) Mail(from string) error            { return s.c.Mail(from, nil) }
func (s clientSession) Rcpt(to string) error              { return s.c.Rcpt(to, nil) }
func (s clientSession) Reset() error                      { return s.c.Reset() }
func (s clientSession) Close() error                      { return s.c.Close() }

func (s clientSession) Data(r io.Reader) error {
	w, err := s.c.Data()
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

type dialFunc func(addr string, cfg SMTPConfig, tlsConfig *tls.Config) (smtpSession, error)

// Connection owns one SMTP session. It is not safe for concurrent use;
// give each worker its own Connection.
type Connection struct {
	config SMTPConfig
	dial   dialFunc
	client smtpSession
}

// NewConnection creates a connection; nothing is dialed until Connect.
func NewConnection(config SMTPConfig) *Connection {
	if config.Port == 0 {
		config.Port = defaultPort
	}
	return &Connection{
		config: config,
		dial:   dialSMTP,
	}
}

// Addr returns host:port of the server.
func (c *Connection) Addr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

func (c *Connection) tlsConfig() *tls.Config {
	if c.config.TLSConfig != nil {
		cfg := c.config.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = c.config.Host
		}
		return cfg
	}
	return &tls.Config{ServerName: c.config.Host}
}

func dialSMTP(addr string, cfg SMTPConfig, tlsConfig *tls.Config) (smtpSession, error) {
	var (
		client *smtp.Client
		err    error
	)
	if cfg.SSL {
		client, err = smtp.DialTLS(addr, tlsConfig)
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		client.DebugWriter = debugWriter{logger: log.With().Str("smtp", addr).Logger()}
	}
	if cfg.LocalName != "" {
		if err := client.Hello(cfg.LocalName); err != nil {
			client.Close()
			return nil, err
		}
	}
	return clientSession{c: client}, nil
}

// Connect establishes a connection to the SMTP server, upgrades it with
// STARTTLS when configured and authenticates when credentials are set.
// Errors are *ConnectionError; nothing is retried.
func (c *Connection) Connect() error {
	if c.client != nil {
		return ErrAlreadyConnected
	}

	addr := c.Addr()
	tlsCfg := c.tlsConfig()

	client, err := c.dial(addr, c.config, tlsCfg)
	if err != nil {
		return &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	if c.config.StartTLS && !c.config.SSL {
		if err := client.StartTLS(tlsCfg); err != nil {
			client.Close()
			return &ConnectionError{Op: "starttls", Addr: addr, Err: err}
		}
	}

	if c.config.Username != "" || c.config.Password != "" {
		auth, err := c.saslClient()
		if err != nil {
			client.Close()
			return &ConnectionError{Op: "auth", Addr: addr, Err: err}
		}
		if err := client.Auth(auth); err != nil {
			client.Close()
			return &ConnectionError{Op: "auth", Addr: addr, Err: err}
		}
	}

	c.client = client
	log.Debug().
		Str("addr", addr).
		Bool("ssl", c.config.SSL).
		Bool("starttls", c.config.StartTLS && !c.config.SSL).
		Msg("smtp session established")
	return nil
}

func (c *Connection) saslClient() (sasl.Client, error) {
	switch strings.ToUpper(c.config.AuthMechanism) {
	case "", sasl.Plain:
		return sasl.NewPlainClient("", c.config.Username, c.config.Password), nil
	case sasl.Login:
		return sasl.NewLoginClient(c.config.Username, c.config.Password), nil
	default:
		return nil, fmt.Errorf("unsupported auth mechanism %q", c.config.AuthMechanism)
	}
}

// Send transmits msg as is: envelope-from is the sender address, the
// envelope recipients are the bare addresses of msg.SendTo(). Callers
// normally go through Message.Send, which validates first.
//
// Refused recipients are skipped; Send fails only when the server refuses
// every one of them. Any failed transaction is reset so the Connection
// stays usable for the next message.
func (c *Connection) Send(msg *Message) error {
	if c.client == nil {
		return ErrNotConnected
	}

	payload, err := c.payload(msg)
	if err != nil {
		return &DeliveryError{MessageID: msg.MessageID(), Err: err}
	}

	from := bareAddress(msg.Sender)
	to := envelopeRecipients(msg.SendTo())
	if len(to) == 0 {
		return &DeliveryError{MessageID: msg.MessageID(), Err: ErrNoRecipients}
	}

	accepted, err := c.transmit(from, to, payload)
	if err != nil {
		c.reset()
		return &DeliveryError{MessageID: msg.MessageID(), Err: err}
	}

	log.Debug().
		Str("message_id", msg.MessageID()).
		Str("from", from).
		Int("recipients", accepted).
		Int("size", len(payload)).
		Msg("email sent")
	return nil
}

// transmit runs one MAIL/RCPT/DATA transaction and returns the number of
// accepted recipients.
func (c *Connection) transmit(from string, to []string, payload []byte) (int, error) {
	if err := c.client.Mail(from); err != nil {
		return 0, err
	}

	var refused []error
	for _, rcpt := range to {
		if err := c.client.Rcpt(rcpt); err != nil {
			refused = append(refused, &RecipientError{Addr: rcpt, Err: err})
		}
	}
	if len(refused) == len(to) {
		return 0, errors.Join(refused...)
	}
	for _, err := range refused {
		log.Warn().Err(err).Msg("recipient refused")
	}

	if err := c.client.Data(bytes.NewReader(payload)); err != nil {
		return 0, err
	}
	return len(to) - len(refused), nil
}

// reset aborts a half-done transaction. A dead session fails here too;
// that surfaces on the next Send.
func (c *Connection) reset() {
	if err := c.client.Reset(); err != nil {
		log.Debug().Err(err).Msg("smtp reset failed")
	}
}

// envelopeRecipients reduces addrs to bare addresses, dropping duplicates
// in order of first appearance.
func envelopeRecipients(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, addr := range bareAddresses(addrs) {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// payload serializes msg, signs it when DKIM is configured and checks the
// size limit.
func (c *Connection) payload(msg *Message) ([]byte, error) {
	data, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	if c.config.DKIM != nil {
		if data, err = signDKIM(data, c.config.DKIM); err != nil {
			return nil, err
		}
	}
	if limit := c.config.MaxMessageSize; limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), limit)
	}
	return data, nil
}

// Close closes the SMTP connection. Closing twice is a no-op.
func (c *Connection) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Use connects, runs fn and closes the connection on every way out of fn,
// panics included. fn's error takes precedence over the close error.
func (c *Connection) Use(fn func(*Connection) error) (err error) {
	if err := c.Connect(); err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close SMTP connection: %w", cerr)
		}
	}()
	return fn(c)
}

// SendQuick opens a connection from config, sends msg and closes it.
func SendQuick(config SMTPConfig, msg *Message) error {
	return NewConnection(config).Use(func(c *Connection) error {
		return msg.Send(c)
	})
}

// debugWriter turns the go-smtp protocol trace into debug log lines.
type debugWriter struct {
	logger zerolog.Logger
}

func (w debugWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\n") {
		w.logger.Debug().Msg(strings.TrimRight(line, "\r"))
	}
	return len(p), nil
}
