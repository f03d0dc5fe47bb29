package email

import (
	"errors"
	"fmt"
)

// PreconditionError reports a Message that is not ready to be sent.
// Nothing has touched the network when it is returned.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "message not sendable: " + e.Reason
}

var (
	ErrNoRecipients = &PreconditionError{Reason: "no recipients have been added"}
	ErrNoBody       = &PreconditionError{Reason: "no body or HTML has been set"}
	ErrNoSender     = &PreconditionError{Reason: "no sender address has been set"}
)

// HeaderInjectionError is returned when a header-bearing field contains a
// CR or LF. The value is never sanitized; the message is refused.
type HeaderInjectionError struct {
	Field string
}

func (e *HeaderInjectionError) Error() string {
	return fmt.Sprintf("header injection: newline in %s", e.Field)
}

var (
	// ErrNotConnected is returned by Send and friends before Connect or after Close.
	ErrNotConnected = errors.New("smtp: not connected")
	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("smtp: already connected")
	// ErrMessageTooLarge is returned when the payload exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("smtp: message exceeds maximum size")
)

// ConnectionError wraps a failure while opening a session.
// Op is one of "dial", "starttls" or "auth".
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DeliveryError wraps a failure while handing a message to the server.
type DeliveryError struct {
	MessageID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to send email %s: %v", e.MessageID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// RecipientError is a RCPT TO refusal for a single address.
type RecipientError struct {
	Addr string
	Err  error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("recipient %s refused: %v", e.Addr, e.Err)
}

func (e *RecipientError) Unwrap() error { return e.Err }
