// Package notify delivers the bounce and quarantine notices through an SMTP server.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/time/rate"
)

const DefaultServer = "localhost:25"

type Config struct {
	Server   string
	Username string
	Password string
	// Rate is the maximum number of notices sent per second. Zero is unlimited.
	Rate float64
}

type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// SMTP is a queue.Sender relaying the notices to an SMTP server
type SMTP struct {
	server   string
	auth     sasl.Client
	limiter  *rate.Limiter
	log      lib.Logger
	sendMail sendMailFunc
}

func NewSMTP(cfg Config, logger lib.Logger) *SMTP {
	if logger == nil {
		logger = &lib.NoLog{}
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	var auth sasl.Client
	if cfg.Username != "" {
		auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &SMTP{
		server:   cfg.Server,
		auth:     auth,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logger,
		sendMail: smtp.SendMail,
	}
}

// Send waits for its turn then transmits the message
func (s *SMTP) Send(from string, to []string, msg *email.Message) error {
	if len(to) == 0 {
		return fmt.Errorf("%w: no recipient", lib.ErrInvalidArgument)
	}
	err := s.limiter.Wait(context.Background())
	if err != nil {
		return err
	}
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("cannot flatten message: %w", err)
	}
	sender := bareAddress(from)
	recipients := make([]string, len(to))
	for i, address := range to {
		recipients[i] = bareAddress(address)
	}
	err = s.sendMail(s.server, s.auth, sender, recipients, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("cannot send message to %v via %s: %w", recipients, s.server, err)
	}
	s.log.Printf("Message sent: from=%q to=%v size=%d", sender, recipients, len(raw))
	return nil
}

// bareAddress keeps the addr-spec of a "Name <address>" form
func bareAddress(address string) string {
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return address
	}
	return parsed.Address
}
