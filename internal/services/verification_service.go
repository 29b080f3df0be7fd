// Package services – VerificationService
//
// VerificationService is the session manager: the single authority through
// which every applicant status transition and its side effects are applied.
// Each operation runs inside a per-applicant exclusive section spanning
// read, decide, persist, project and notify, so a reviewer decision and a
// poller event for the same applicant serialize while different applicants
// proceed independently.
//
// Ordering within an operation:
//  1. validate input (no side effects on failure)
//  2. read the current record under the applicant lock
//  3. compute the next status with a domain.Transition
//  4. persist record, evidence and history row in one transaction
//  5. only then refresh or finalize the reviewer prompt, notify the
//     applicant and publish the audit event
//
// A failed persist returns an error wrapping ErrPersistence and nothing from
// step 5 happens. Failures in step 5 are logged; the committed status stands.
// Steps 2 to 5 ignore caller cancellation: a client that disconnects after
// the lock is taken cannot leave a commit without its prompt update.
//
// Observability: public methods are OpenTelemetry-instrumented with the
// applicant id and operation outcome.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/observability"
	"github.com/tbourn/go-verify-bot/internal/repo"
)

// EmailEvent is an outcome reported by the reply poller.
type EmailEvent string

const (
	EmailConfirmed     EmailEvent = "confirmed"
	EmailUndeliverable EmailEvent = "undeliverable"
	EmailTimeout       EmailEvent = "timeout"
)

// Decision is a reviewer action on a prompt.
type Decision string

const (
	DecisionVerify          Decision = "verify"
	DecisionDeny            Decision = "deny"
	DecisionRequestNewImage Decision = "request_new_image"
)

// ParseDecision validates a decision name.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionVerify, DecisionDeny, DecisionRequestNewImage:
		return d, nil
	}
	return "", ErrUnknownDecision
}

// Transition causes recorded in the history.
const (
	causeRegistered      = "registered"
	causeImageReceived   = "image_received"
	causeImageRequested  = "image_requested"
	causeEmailConfirmed  = "email_confirmed"
	causeEmailUndeliv    = "email_undeliverable"
	causeEmailTimeout    = "email_timeout"
	causeEmailChanged    = "email_changed"
	causeReviewerVerify  = "reviewer_verified"
	causeReviewerDeny    = "reviewer_denied"
	causeChallengeFailed = "challenge_send_failed"
)

// RegisterRequest carries a new applicant's identity claims.
type RegisterRequest struct {
	ApplicantID  string
	FirstName    string
	LastName     string
	Email        string
	ConfirmEmail string
}

// Options configures a VerificationService.
type Options struct {
	// EmailPattern must match the whole institutional address.
	EmailPattern *regexp.Regexp
	// ChallengeSubject is the base subject; see ChallengeSubject.
	ChallengeSubject string
	VerifiedRole     string
	NewMemberRole    string
	// PurgeDenied deletes denied applicants instead of retaining them.
	PurgeDenied bool
	// NameLocale drives title-casing of names.
	NameLocale language.Tag
}

// VerificationService applies applicant lifecycle operations.
type VerificationService struct {
	DB      *gorm.DB
	Repo    ApplicantRepo
	Chat    ChatClient
	Mail    ChallengeSender
	Prompts *PromptCache
	// Audit is optional.
	Audit AuditPublisher

	Opts Options
	Now  func() time.Time

	locks *keyedMutex
}

// NewVerificationService wires a service with its own prompt cache.
func NewVerificationService(db *gorm.DB, r ApplicantRepo, chat ChatClient, mail ChallengeSender, opts Options) *VerificationService {
	if opts.ChallengeSubject == "" {
		opts.ChallengeSubject = "Verification Email"
	}
	if opts.NameLocale == (language.Tag{}) {
		opts.NameLocale = language.English
	}
	return &VerificationService{
		DB:      db,
		Repo:    r,
		Chat:    chat,
		Mail:    mail,
		Prompts: NewPromptCache(chat),
		Opts:    opts,
		Now:     func() time.Time { return time.Now().UTC() },
		locks:   newKeyedMutex(),
	}
}

func (s *VerificationService) startSpan(ctx context.Context, op, applicantID string) (context.Context, trace.Span) {
	tr := otel.Tracer("services/VerificationService")
	return tr.Start(ctx, op, trace.WithAttributes(attribute.String("applicant.id", applicantID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Reconcile rebuilds the prompt projection from the store's in-progress set.
func (s *VerificationService) Reconcile(ctx context.Context) (int, error) {
	list, err := s.Repo.ScanInProgress(ctx, s.DB)
	if err != nil {
		return 0, fmt.Errorf("%w: scan in progress: %w", ErrPersistence, err)
	}
	return s.Prompts.Rebuild(ctx, list), nil
}

// Get returns the stored record for id.
func (s *VerificationService) Get(ctx context.Context, id string) (*domain.Applicant, error) {
	a, err := s.Repo.GetApplicant(ctx, s.DB, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return a, nil
}

// Register validates the claims, creates the applicant channel and reviewer
// prompt, persists the record and sends the email challenge.
//
// Returns ErrInvalidApplicant, ErrInvalidName, ErrInvalidEmail or
// ErrEmailConfirmationRequired before any side effect; ErrAlreadyRegistered
// (with the existing record) for a known applicant; ErrDuplicateEmail when
// another applicant holds the address.
//
// A challenge that cannot be sent moves the new applicant to ATTEMPTED; the
// registration itself still succeeds.
func (s *VerificationService) Register(ctx context.Context, req RegisterRequest) (a *domain.Applicant, err error) {
	ctx, span := s.startSpan(ctx, "Register", req.ApplicantID)
	defer func() { endSpan(span, err) }()

	id := strings.TrimSpace(req.ApplicantID)
	if id == "" {
		return nil, ErrInvalidApplicant
	}
	first, last, err := s.normalizeName(req.FirstName, req.LastName)
	if err != nil {
		return nil, err
	}
	email, err := s.validateEmail(req.Email, req.ConfirmEmail)
	if err != nil {
		return nil, err
	}

	ctx, unlock := s.enter(ctx, id)
	defer unlock()

	existing, err := s.Repo.GetApplicant(ctx, s.DB, id)
	switch {
	case err == nil:
		return existing, ErrAlreadyRegistered
	case !errors.Is(err, repo.ErrNotFound):
		return nil, s.storeErr(err)
	}
	if err := s.ensureEmailFree(ctx, email, id); err != nil {
		return nil, err
	}

	channel, err := s.Chat.CreatePrivateChannel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create applicant channel: %w", err)
	}
	a = &domain.Applicant{
		ID:                  id,
		JoinedAt:            s.Now(),
		FirstName:           first,
		LastName:            last,
		Email:               email,
		ApplicantChannelRef: channel,
		Status:              domain.StatusPendingBoth,
	}
	prompt, err := s.Chat.CreateReviewPrompt(ctx, RenderPrompt(a))
	if err != nil {
		return nil, fmt.Errorf("create review prompt: %w", err)
	}
	a.ReviewPromptRef = prompt

	change := s.change(a.ID, a.Status, a.Status, causeRegistered, id)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Repo.CreateApplicant(ctx, tx, a); err != nil {
			return err
		}
		return s.Repo.AppendStatusChange(ctx, tx, change)
	})
	if err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, ErrAlreadyRegistered
		}
		log.Warn().Err(err).Str("applicant_id", id).Str("prompt_ref", prompt).Msg("registration not persisted; prompt orphaned")
		return nil, s.storeErr(err)
	}
	s.Prompts.Attach(a)
	s.committed(ctx, change)

	notice := NoticeWelcome
	if err := s.sendChallenge(ctx, a); err != nil {
		if a, err = s.markUndeliverable(ctx, a, causeChallengeFailed); err != nil {
			return nil, err
		}
		notice = NoticeEmailUndeliverable
	}
	s.refresh(ctx, a)
	s.notify(ctx, a, notice)
	return a, nil
}

// SubmitEvidence replaces the applicant's evidence and clears the image gate.
// Returns ErrNoEvidence for an empty list, ErrNotEligible unless the
// applicant is still awaiting an image, and ErrImageInUse when another
// applicant already submitted one of the images. Nothing changes on error.
func (s *VerificationService) SubmitEvidence(ctx context.Context, id string, imageURLs []string) (a *domain.Applicant, err error) {
	ctx, span := s.startSpan(ctx, "SubmitEvidence", id)
	defer func() { endSpan(span, err) }()

	urls := make([]string, 0, len(imageURLs))
	for _, u := range imageURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoEvidence
	}

	ctx, unlock := s.enter(ctx, id)
	defer unlock()

	a, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.IsAwaitingImage(a.Status) {
		return a, ErrNotEligible
	}

	from := a.Status
	a.Status = domain.OnCanvasImageReceived(from)
	a.Evidence = domain.NewEvidence(a.ID, urls)
	if err := s.commit(ctx, a, from, causeImageReceived, id); err != nil {
		return nil, err
	}
	s.refresh(ctx, a)
	s.notify(ctx, a, NoticeImageReceived)
	return a, nil
}

// ApplyEmailEvent applies a poller outcome. Confirmed and Undeliverable only
// apply while the applicant awaits email; otherwise ErrNotEligible is
// returned and nothing changes. Timeout purges any undecided applicant and
// returns the final record with status TERMINATED.
func (s *VerificationService) ApplyEmailEvent(ctx context.Context, id string, ev EmailEvent) (a *domain.Applicant, err error) {
	ctx, span := s.startSpan(ctx, "ApplyEmailEvent", id)
	span.SetAttributes(attribute.String("email.event", string(ev)))
	defer func() { endSpan(span, err) }()

	ctx, unlock := s.enter(ctx, id)
	defer unlock()

	a, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch ev {
	case EmailConfirmed:
		if !domain.IsAwaitingEmail(a.Status) {
			return a, ErrNotEligible
		}
		from := a.Status
		a.Status = domain.OnEmailConfirmed(from)
		if err := s.commit(ctx, a, from, causeEmailConfirmed, ""); err != nil {
			return nil, err
		}
		s.refresh(ctx, a)
		s.notify(ctx, a, NoticeEmailConfirmed)
		return a, nil

	case EmailUndeliverable:
		if !domain.IsAwaitingEmail(a.Status) {
			return a, ErrNotEligible
		}
		if a, err = s.markUndeliverable(ctx, a, causeEmailUndeliv); err != nil {
			return nil, err
		}
		s.refresh(ctx, a)
		s.notify(ctx, a, NoticeEmailUndeliverable)
		return a, nil

	case EmailTimeout:
		if a.Status.IsTerminal() {
			return a, ErrNotEligible
		}
		from := a.Status
		a.Status = domain.OnEmailTimeout(from)
		if err := s.purge(ctx, a, from, causeEmailTimeout, ""); err != nil {
			return nil, err
		}
		if _, err := s.Prompts.Finalize(ctx, a, ""); err != nil {
			log.Warn().Err(err).Str("applicant_id", id).Msg("finalize prompt failed")
		}
		s.notify(ctx, a, NoticeTimedOut)
		if err := s.Chat.RemoveMember(ctx, id); err != nil {
			log.Warn().Err(err).Str("applicant_id", id).Msg("remove timed-out member failed")
		}
		return a, nil
	}
	return nil, ErrUnknownEvent
}

// ApplyReviewerDecision applies a reviewer action. The caller has already
// checked reviewer capability. Verify and Deny finalize the prompt; Verify
// also grants roles and sets the nickname. RequestNewImage is only accepted
// once an image has been received.
func (s *VerificationService) ApplyReviewerDecision(ctx context.Context, id string, d Decision, reviewer string) (a *domain.Applicant, err error) {
	ctx, span := s.startSpan(ctx, "ApplyReviewerDecision", id)
	span.SetAttributes(attribute.String("decision", string(d)), attribute.String("reviewer.id", reviewer))
	defer func() { endSpan(span, err) }()

	switch d {
	case DecisionVerify, DecisionDeny, DecisionRequestNewImage:
	default:
		return nil, ErrUnknownDecision
	}

	ctx, unlock := s.enter(ctx, id)
	defer unlock()

	a, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return a, ErrAlreadyDecided
	}
	from := a.Status

	switch d {
	case DecisionRequestNewImage:
		if from != domain.StatusPendingEmail && from != domain.StatusAwaitingVerification {
			return a, ErrNotEligible
		}
		a.Status = domain.OnCanvasImageRequested(from)
		if err := s.commit(ctx, a, from, causeImageRequested, reviewer); err != nil {
			return nil, err
		}
		s.refresh(ctx, a)
		s.notify(ctx, a, NoticeNewImageRequested)
		return a, nil

	case DecisionDeny:
		a.Status = domain.OnReviewerDenied(from)
		if s.Opts.PurgeDenied {
			err = s.purge(ctx, a, from, causeReviewerDeny, reviewer)
		} else {
			err = s.commit(ctx, a, from, causeReviewerDeny, reviewer)
		}
		if err != nil {
			return nil, err
		}
		s.finalize(ctx, a, reviewer)
		s.notify(ctx, a, NoticeAccessDenied)
		return a, nil
	}

	a.Status = domain.OnReviewerVerified(from)
	if err := s.commit(ctx, a, from, causeReviewerVerify, reviewer); err != nil {
		return nil, err
	}
	s.finalize(ctx, a, reviewer)

	var sideErrs []error
	var add, remove []string
	if s.Opts.VerifiedRole != "" {
		add = append(add, s.Opts.VerifiedRole)
	}
	if s.Opts.NewMemberRole != "" {
		remove = append(remove, s.Opts.NewMemberRole)
	}
	if len(add)+len(remove) > 0 {
		if err := s.Chat.MutateMemberRoles(ctx, id, add, remove); err != nil {
			sideErrs = append(sideErrs, fmt.Errorf("mutate roles: %w", err))
		}
	}
	if err := s.Chat.SetMemberNickname(ctx, id, a.FullName()); err != nil {
		sideErrs = append(sideErrs, fmt.Errorf("set nickname: %w", err))
	}
	s.notify(ctx, a, NoticeAccessGranted)
	if len(sideErrs) > 0 {
		return a, fmt.Errorf("%w: %w", ErrSideEffects, errors.Join(sideErrs...))
	}
	return a, nil
}

// UpdateName replaces the display name of an undecided applicant.
func (s *VerificationService) UpdateName(ctx context.Context, id, firstName, lastName string) (a *domain.Applicant, err error) {
	ctx, span := s.startSpan(ctx, "UpdateName", id)
	defer func() { endSpan(span, err) }()

	first, last, err := s.normalizeName(firstName, lastName)
	if err != nil {
		return nil, err
	}

	ctx, unlock := s.enter(ctx, id)
	defer unlock()

	a, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return a, ErrNotEligible
	}
	a.FirstName, a.LastName = first, last
	if err := s.commit(ctx, a, a.Status, "", id); err != nil {
		return nil, err
	}
	s.refresh(ctx, a)
	return a, nil
}

// UpdateEmail replaces the institutional address, re-opens the email gate
// (see domain.OnEmailChanged) and re-sends the challenge. This is the only
// way out of ATTEMPTED.
func (s *VerificationService) UpdateEmail(ctx context.Context, id, email, confirm string) (a *domain.Applicant, err error) {
	ctx, span := s.startSpan(ctx, "UpdateEmail", id)
	defer func() { endSpan(span, err) }()

	email, err = s.validateEmail(email, confirm)
	if err != nil {
		return nil, err
	}

	ctx, unlock := s.enter(ctx, id)
	defer unlock()

	a, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return a, ErrNotEligible
	}
	if err := s.ensureEmailFree(ctx, email, id); err != nil {
		return nil, err
	}

	from := a.Status
	a.Email = email
	a.Status = domain.OnEmailChanged(from)
	if err := s.commit(ctx, a, from, causeEmailChanged, id); err != nil {
		return nil, err
	}

	notice := NoticeEmailChanged
	if err := s.sendChallenge(ctx, a); err != nil {
		if a, err = s.markUndeliverable(ctx, a, causeChallengeFailed); err != nil {
			return nil, err
		}
		notice = NoticeEmailUndeliverable
	}
	s.refresh(ctx, a)
	s.notify(ctx, a, notice)
	return a, nil
}

// --- internals ---

// enter takes the applicant lock and detaches ctx from caller cancellation.
// Once the exclusive section starts it runs to completion, so a committed
// transition always gets its projection update and notice.
func (s *VerificationService) enter(ctx context.Context, id string) (context.Context, func()) {
	unlock := s.locks.Lock(id)
	return context.WithoutCancel(ctx), unlock
}

func (s *VerificationService) load(ctx context.Context, id string) (*domain.Applicant, error) {
	a, err := s.Repo.GetApplicant(ctx, s.DB, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return a, nil
}

// storeErr maps store outcomes onto service errors; anything unrecognized
// is a persistence failure.
func (s *VerificationService) storeErr(err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotRegistered
	case errors.Is(err, repo.ErrDuplicateEmail):
		return ErrDuplicateEmail
	case errors.Is(err, repo.ErrAlreadyExists):
		return ErrAlreadyRegistered
	case errors.Is(err, repo.ErrImageInUse):
		return ErrImageInUse
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (s *VerificationService) change(id string, from, to domain.Status, cause, actor string) *domain.StatusChange {
	return &domain.StatusChange{ApplicantID: id, From: from, To: to, Cause: cause, Actor: actor, At: s.Now()}
}

// commit persists a and, when cause is set, its history row in one
// transaction.
func (s *VerificationService) commit(ctx context.Context, a *domain.Applicant, from domain.Status, cause, actor string) error {
	var change *domain.StatusChange
	if cause != "" {
		change = s.change(a.ID, from, a.Status, cause, actor)
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Repo.UpdateApplicant(ctx, tx, a.ID, a); err != nil {
			return err
		}
		if change == nil {
			return nil
		}
		return s.Repo.AppendStatusChange(ctx, tx, change)
	})
	if err != nil {
		return s.storeErr(err)
	}
	if change != nil {
		s.committed(ctx, change)
	}
	return nil
}

// purge deletes a and records the terminal transition.
func (s *VerificationService) purge(ctx context.Context, a *domain.Applicant, from domain.Status, cause, actor string) error {
	change := s.change(a.ID, from, a.Status, cause, actor)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Repo.DeleteApplicant(ctx, tx, a.ID); err != nil {
			return err
		}
		return s.Repo.AppendStatusChange(ctx, tx, change)
	})
	if err != nil {
		return s.storeErr(err)
	}
	s.committed(ctx, change)
	return nil
}

func (s *VerificationService) markUndeliverable(ctx context.Context, a *domain.Applicant, cause string) (*domain.Applicant, error) {
	from := a.Status
	a.Status = domain.OnEmailUndeliverable(from)
	if err := s.commit(ctx, a, from, cause, ""); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *VerificationService) committed(ctx context.Context, c *domain.StatusChange) {
	observability.ObserveTransition(c.From.String(), c.To.String(), c.Cause)
	log.Info().
		Str("applicant_id", c.ApplicantID).
		Str("from", c.From.String()).
		Str("to", c.To.String()).
		Str("cause", c.Cause).
		Msg("status committed")
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Publish(ctx, *c); err != nil {
		log.Warn().Err(err).Str("applicant_id", c.ApplicantID).Msg("audit publish failed")
	}
}

func (s *VerificationService) refresh(ctx context.Context, a *domain.Applicant) {
	if err := s.Prompts.Refresh(ctx, a); err != nil {
		log.Warn().Err(err).Str("applicant_id", a.ID).Msg("prompt refresh failed")
	}
}

func (s *VerificationService) finalize(ctx context.Context, a *domain.Applicant, reviewer string) {
	if _, err := s.Prompts.Finalize(ctx, a, reviewer); err != nil {
		log.Warn().Err(err).Str("applicant_id", a.ID).Msg("finalize prompt failed")
	}
}

func (s *VerificationService) notify(ctx context.Context, a *domain.Applicant, kind NoticeKind) {
	n := Notice{Kind: kind, ApplicantID: a.ID, Name: a.FullName(), Email: a.Email}
	if err := s.Chat.Send(ctx, a.ApplicantChannelRef, n); err != nil {
		log.Warn().Err(err).Str("applicant_id", a.ID).Str("notice", string(kind)).Msg("applicant notice failed")
	}
}

func (s *VerificationService) sendChallenge(ctx context.Context, a *domain.Applicant) error {
	err := s.Mail.SendChallenge(ctx, a.Email, ChallengeSubject(s.Opts.ChallengeSubject, a.Email))
	if err != nil {
		log.Warn().Err(err).Str("applicant_id", a.ID).Msg("challenge email not sent")
	}
	return err
}

func (s *VerificationService) ensureEmailFree(ctx context.Context, email, id string) error {
	holder, err := s.Repo.EmailHolder(ctx, s.DB, email)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil
	case err != nil:
		return s.storeErr(err)
	case holder != id:
		return ErrDuplicateEmail
	}
	return nil
}

func (s *VerificationService) validateEmail(email, confirm string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if s.Opts.EmailPattern == nil || !s.Opts.EmailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	if !strings.EqualFold(email, strings.TrimSpace(confirm)) {
		return "", ErrEmailConfirmationRequired
	}
	return email, nil
}

func (s *VerificationService) normalizeName(first, last string) (string, string, error) {
	caser := cases.Title(s.Opts.NameLocale)
	first = caser.String(collapseSpaces(first))
	last = caser.String(collapseSpaces(last))
	if first == "" || last == "" {
		return "", "", ErrInvalidName
	}
	return first, last, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
