package mail

import (
	"github.com/tbourn/go-verify-bot/internal/config"
	"github.com/tbourn/go-verify-bot/internal/services"
)

// Mailbox pairs the sender and the inbox behind services.Mailbox.
type Mailbox struct {
	*SMTPSender
	*IMAPInbox
}

var _ services.Mailbox = (*Mailbox)(nil)

// New builds a Mailbox from configuration. Nothing is dialed until the
// first send or EnsureConnected.
func New(cfg config.MailConfig) *Mailbox {
	return &Mailbox{
		SMTPSender: NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.From),
		IMAPInbox:  NewIMAPInbox(cfg.IMAPAddr, cfg.IMAPUsername, cfg.IMAPPassword, cfg.IMAPMailbox, cfg.ReconnectAttempts),
	}
}
