// Package mail implements the email side of verification: an SMTP sender
// for the challenge and an IMAP inbox the poller searches for replies.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ChallengeBody is the plain-text body of every challenge.
const ChallengeBody = "Please reply to this email to verify your community identity.\r\n\r\n" +
	"(This is an automated email. Please ignore it if you did not request verification.)"

// ErrBadRecipient is returned for addresses that could inject headers.
var ErrBadRecipient = errors.New("mail: invalid recipient")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends challenges. Port 465 uses implicit TLS; any other port
// goes through smtp.SendMail, which upgrades with STARTTLS when offered.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	send sendFunc
	now  func() time.Time
}

// NewSMTPSender builds a sender for host:port.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	s := &SMTPSender{Host: host, Port: port, Username: username, Password: password, From: from}
	s.send = smtp.SendMail
	if port == 465 {
		s.send = s.sendImplicitTLS
	}
	s.now = time.Now
	return s
}

// SendChallenge mails the challenge to `to` under subject.
func (s *SMTPSender) SendChallenge(ctx context.Context, to, subject string) (err error) {
	_, span := otel.Tracer("mail/SMTPSender").Start(ctx, "SendChallenge")
	span.SetAttributes(attribute.String("mail.subject", subject))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return ErrBadRecipient
	}

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := s.send(addr, auth, s.From, []string{to}, s.message(to, subject)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug().Str("subject", subject).Msg("challenge sent")
	return nil
}

func (s *SMTPSender) message(to, subject string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(ChallengeBody)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (s *SMTPSender) sendImplicitTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return err
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return err
	}
	defer c.Quit()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}
