package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

// ApplicantRepo defines the store contract required by the services.
// repo.Store satisfies it; tests wrap it to inject failures.
type ApplicantRepo interface {
	CreateApplicant(ctx context.Context, db *gorm.DB, a *domain.Applicant) error
	GetApplicant(ctx context.Context, db *gorm.DB, id string) (*domain.Applicant, error)
	UpdateApplicant(ctx context.Context, db *gorm.DB, id string, a *domain.Applicant) error
	DeleteApplicant(ctx context.Context, db *gorm.DB, id string) error
	ScanInProgress(ctx context.Context, db *gorm.DB) ([]domain.Applicant, error)
	EmailHolder(ctx context.Context, db *gorm.DB, email string) (string, error)
	AppendStatusChange(ctx context.Context, db *gorm.DB, c *domain.StatusChange) error
}

// NoticeKind names an applicant-facing message. The gateway owns the text.
type NoticeKind string

const (
	NoticeWelcome            NoticeKind = "welcome"
	NoticeImageReceived      NoticeKind = "image_received"
	NoticeNewImageRequested  NoticeKind = "new_image_requested"
	NoticeEmailConfirmed     NoticeKind = "email_confirmed"
	NoticeEmailChanged       NoticeKind = "email_changed"
	NoticeEmailUndeliverable NoticeKind = "email_undeliverable"
	NoticeTimedOut           NoticeKind = "timed_out"
	NoticeAccessGranted      NoticeKind = "access_granted"
	NoticeAccessDenied       NoticeKind = "access_denied"
)

// Notice is a typed message for the applicant channel.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	ApplicantID string     `json:"applicant_id"`
	Name        string     `json:"name,omitempty"`
	Email       string     `json:"email,omitempty"`
}

// PromptContent is the reviewer-facing summary of one applicant. Layout is
// the gateway's concern.
type PromptContent struct {
	ApplicantID string        `json:"applicant_id"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Status      domain.Status `json:"status"`
	JoinedAt    time.Time     `json:"joined_at"`
	Images      []string      `json:"images"`
	Final       bool          `json:"final"`
	DecidedBy   string        `json:"decided_by,omitempty"`
}

// RenderPrompt projects an applicant record onto prompt content.
func RenderPrompt(a *domain.Applicant) PromptContent {
	return PromptContent{
		ApplicantID: a.ID,
		Name:        a.FullName(),
		Email:       a.Email,
		Status:      a.Status,
		JoinedAt:    a.JoinedAt,
		Images:      a.ImageURLs(),
	}
}

// PromptEditor is the part of the chat client the projection cache needs.
type PromptEditor interface {
	EditPrompt(ctx context.Context, promptRef string, content PromptContent) error
}

// ChatClient is the chat-platform collaborator.
type ChatClient interface {
	PromptEditor
	CreatePrivateChannel(ctx context.Context, applicantID string) (string, error)
	CreateReviewPrompt(ctx context.Context, content PromptContent) (string, error)
	Send(ctx context.Context, channelRef string, n Notice) error
	MutateMemberRoles(ctx context.Context, applicantID string, add, remove []string) error
	SetMemberNickname(ctx context.Context, applicantID, name string) error
	RemoveMember(ctx context.Context, applicantID string) error
}

// ChallengeSender dispatches the email challenge.
type ChallengeSender interface {
	SendChallenge(ctx context.Context, to, subject string) error
}

// Reply is a matching message found in the mailbox.
type Reply struct {
	UID    uint32
	Sender string
	Raw    []byte
}

// ReplyFinder looks up challenge replies. FindReply returns (nil, nil) when
// nothing matches. Found replies stay unread until acknowledged.
type ReplyFinder interface {
	FindReply(ctx context.Context, subject string) (*Reply, error)
	Acknowledge(ctx context.Context, r *Reply) error
	EnsureConnected(ctx context.Context) error
	Close() error
}

// Mailbox is the full email collaborator.
type Mailbox interface {
	ChallengeSender
	ReplyFinder
}

// Authorizer answers the single reviewer-capability question.
type Authorizer interface {
	HasReviewerCapability(ctx context.Context, actorID string) (bool, error)
}

// AuditPublisher receives every committed transition.
type AuditPublisher interface {
	Publish(ctx context.Context, c domain.StatusChange) error
}

// ChallengeSubject is the deterministic subject line used both to send the
// challenge and to find its reply.
func ChallengeSubject(base, email string) string {
	return base + " - " + email
}
