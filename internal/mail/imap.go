package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-verify-bot/internal/observability"
	"github.com/tbourn/go-verify-bot/internal/services"
)

// ErrNotConnected is returned when the inbox is used before EnsureConnected.
var ErrNotConnected = errors.New("mail: imap not connected")

// imapConn is the subset of *client.Client the inbox uses.
type imapConn interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Noop() error
	Logout() error
}

// IMAPInbox finds challenge replies over a single IMAP session. Calls are
// serialized; a dead session is replaced by EnsureConnected with bounded,
// backed-off attempts.
type IMAPInbox struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	Attempts int

	dial       func(addr string) (imapConn, error)
	newBackOff func() backoff.BackOff

	mu   sync.Mutex
	conn imapConn
}

// NewIMAPInbox returns an inbox for addr (host:port, implicit TLS).
func NewIMAPInbox(addr, username, password, mailbox string, attempts int) *IMAPInbox {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if attempts < 1 {
		attempts = 1
	}
	return &IMAPInbox{
		Addr:     addr,
		Username: username,
		Password: password,
		Mailbox:  mailbox,
		Attempts: attempts,
		dial: func(addr string) (imapConn, error) {
			host := addr
			if i := strings.LastIndex(addr, ":"); i > 0 {
				host = addr[:i]
			}
			return client.DialTLS(addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

// EnsureConnected checks the session with NOOP and reconnects if needed.
func (in *IMAPInbox) EnsureConnected(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.conn != nil {
		if err := in.conn.Noop(); err == nil {
			return nil
		}
		log.Warn().Str("addr", in.Addr).Msg("imap session lost; reconnecting")
		_ = in.conn.Logout()
		in.conn = nil
	}

	conn, err := backoff.Retry(ctx, func() (imapConn, error) {
		c, err := in.connect()
		observability.ObserveReconnect(err == nil)
		return c, err
	},
		backoff.WithBackOff(in.newBackOff()),
		backoff.WithMaxTries(uint(in.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("imap connect failed")
		}),
	)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	in.conn = conn
	return nil
}

func (in *IMAPInbox) connect() (imapConn, error) {
	c, err := in.dial(in.Addr)
	if err != nil {
		return nil, err
	}
	if err := c.Login(in.Username, in.Password); err != nil {
		_ = c.Logout()
		return nil, err
	}
	if _, err := c.Select(in.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, err
	}
	return c, nil
}

// FindReply returns the oldest unseen message whose subject ends with
// subject, or nil. Headers are fetched with PEEK so the message stays
// unseen until Acknowledge.
func (in *IMAPInbox) FindReply(ctx context.Context, subject string) (*services.Reply, error) {
	_, span := otel.Tracer("mail/IMAPInbox").Start(ctx, "FindReply")
	span.SetAttributes(attribute.String("mail.subject", subject))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.conn == nil {
		return nil, ErrNotConnected
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", subject)
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := in.conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uids...)
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- in.conn.UidFetch(seq, items, ch) }()

	var best *imap.Message
	want := strings.ToLower(subject)
	for m := range ch {
		if m == nil || m.Envelope == nil {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(m.Envelope.Subject)), want) {
			continue
		}
		if best == nil || m.Uid < best.Uid {
			best = m
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	if best == nil {
		return nil, nil
	}

	r := &services.Reply{UID: best.Uid, Sender: sender(best.Envelope)}
	if lit := best.GetBody(section); lit != nil {
		r.Raw, _ = io.ReadAll(lit)
	}
	return r, nil
}

func sender(env *imap.Envelope) string {
	for _, a := range env.From {
		if a != nil {
			return strings.ToLower(a.Address())
		}
	}
	return ""
}

// Acknowledge marks the reply seen so later sweeps skip it.
func (in *IMAPInbox) Acknowledge(ctx context.Context, r *services.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.conn == nil {
		return ErrNotConnected
	}
	seq := new(imap.SeqSet)
	seq.AddNum(r.UID)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return in.conn.UidStore(seq, item, []interface{}{imap.SeenFlag}, nil)
}

// Close logs out. It is safe to call on a closed inbox.
func (in *IMAPInbox) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.conn == nil {
		return nil
	}
	err := in.conn.Logout()
	in.conn = nil
	return err
}
