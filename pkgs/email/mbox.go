package email

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-mbox"
)

// AppendMbox writes msgs to w in mbox format, one entry per message.
// The "From " line carries the bare sender address and the message date.
func AppendMbox(w io.Writer, msgs ...*Message) error {
	mw := mbox.NewWriter(w)

	for _, msg := range msgs {
		data, err := msg.Bytes()
		if err != nil {
			return fmt.Errorf("building message %s: %w", msg.MessageID(), err)
		}

		from := bareAddress(msg.Sender)
		if from == "" {
			from = "MAILER-DAEMON"
		}
		date := msg.Date
		if date.IsZero() {
			date = time.Now()
		}

		ew, err := mw.CreateMessage(from, date)
		if err != nil {
			return fmt.Errorf("creating message: %w", err)
		}
		if _, err := ew.Write(data); err != nil {
			return fmt.Errorf("writing message: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing mbox writer: %w", err)
	}
	return nil
}
