// Package services – ReplyPoller
//
// ReplyPoller reconciles the mailbox with the store on a fixed interval. A
// sweep checks mailbox health (bounded reconnect lives in the mailbox
// client), scans applicants awaiting an email reply, classifies each one and
// feeds the outcome into the session manager. ATTEMPTED applicants are swept
// too, against the response window only, so an abandoned registration is
// eventually purged. Per-applicant failures are
// logged and counted; they never abort the rest of the sweep, and the next
// sweep retries them.
package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/observability"
)

// ReplyOutcome classifies one applicant's mailbox state.
type ReplyOutcome int

const (
	NoReplyYet ReplyOutcome = iota
	ValidReply
	Undeliverable
	TimedOut
)

func (o ReplyOutcome) String() string {
	switch o {
	case ValidReply:
		return "valid_reply"
	case Undeliverable:
		return "undeliverable"
	case TimedOut:
		return "timed_out"
	}
	return "no_reply"
}

// Classify decides what a (possibly absent) reply means. A reply from a
// sender containing any bounce pattern is Undeliverable; any other reply is
// Valid. Without a reply the applicant times out once more than timeout has
// elapsed since joinedAt.
func Classify(r *Reply, bounceSenders []string, joinedAt, now time.Time, timeout time.Duration) ReplyOutcome {
	if r != nil {
		sender := strings.ToLower(r.Sender)
		for _, p := range bounceSenders {
			if p != "" && strings.Contains(sender, strings.ToLower(p)) {
				return Undeliverable
			}
		}
		return ValidReply
	}
	if timeout > 0 && now.Sub(joinedAt) > timeout {
		return TimedOut
	}
	return NoReplyYet
}

// EmailEventApplier is the session-manager entry point the poller feeds.
type EmailEventApplier interface {
	ApplyEmailEvent(ctx context.Context, id string, ev EmailEvent) (*domain.Applicant, error)
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Checked       int
	Confirmed     int
	Undeliverable int
	TimedOut      int
	Failed        int
}

// ReplyPoller runs sweeps until its context is cancelled.
type ReplyPoller struct {
	DB       *gorm.DB
	Repo     ApplicantRepo
	Inbox    ReplyFinder
	Sessions EmailEventApplier

	BaseSubject   string
	BounceSenders []string
	Interval      time.Duration
	Timeout       time.Duration
	// Concurrency bounds parallel per-applicant checks within a sweep.
	Concurrency int
	Now         func() time.Time
}

// Run sweeps once immediately and then every Interval. On cancellation it
// stops scheduling, lets the in-flight sweep observe the cancelled context,
// and closes the mailbox.
func (p *ReplyPoller) Run(ctx context.Context) error {
	defer func() {
		if err := p.Inbox.Close(); err != nil {
			log.Warn().Err(err).Msg("mailbox close failed")
		}
	}()

	interval := p.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("email sweep failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("email poller stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Sweep performs one scan-and-check cycle. It returns an error only when the
// sweep could not start (mailbox unreachable, scan failed).
func (p *ReplyPoller) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := otel.Tracer("services/ReplyPoller").Start(ctx, "Sweep")
	defer span.End()
	start := time.Now()

	var rep SweepReport
	if err := p.Inbox.EnsureConnected(ctx); err != nil {
		observability.ObserveSweep(time.Since(start), "mailbox_unavailable")
		return rep, err
	}
	list, err := p.Repo.ScanInProgress(ctx, p.DB)
	if err != nil {
		observability.ObserveSweep(time.Since(start), "scan_failed")
		return rep, err
	}

	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}

	var confirmed, undeliverable, timedOut, failed, checked atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i := range list {
		a := list[i]
		if !domain.IsAwaitingEmail(a.Status) && a.Status != domain.StatusAttempted {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			checked.Add(1)
			out, err := p.check(gctx, &a, now)
			if err != nil {
				failed.Add(1)
				log.Warn().Err(err).Str("applicant_id", a.ID).Msg("email check failed")
				return nil
			}
			switch out {
			case ValidReply:
				confirmed.Add(1)
			case Undeliverable:
				undeliverable.Add(1)
			case TimedOut:
				timedOut.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep = SweepReport{
		Checked:       int(checked.Load()),
		Confirmed:     int(confirmed.Load()),
		Undeliverable: int(undeliverable.Load()),
		TimedOut:      int(timedOut.Load()),
		Failed:        int(failed.Load()),
	}
	span.SetAttributes(
		attribute.Int("sweep.checked", rep.Checked),
		attribute.Int("sweep.failed", rep.Failed),
	)
	observability.ObserveSweep(time.Since(start), "ok")
	log.Debug().
		Int("checked", rep.Checked).
		Int("confirmed", rep.Confirmed).
		Int("undeliverable", rep.Undeliverable).
		Int("timed_out", rep.TimedOut).
		Int("failed", rep.Failed).
		Msg("email sweep done")
	return rep, nil
}

// check classifies one applicant and applies the outcome. ATTEMPTED
// applicants have no challenge outstanding, so only the response window is
// applied to them.
func (p *ReplyPoller) check(ctx context.Context, a *domain.Applicant, now time.Time) (ReplyOutcome, error) {
	var reply *Reply
	if domain.IsAwaitingEmail(a.Status) {
		var err error
		if reply, err = p.Inbox.FindReply(ctx, ChallengeSubject(p.BaseSubject, a.Email)); err != nil {
			return NoReplyYet, err
		}
	}
	out := Classify(reply, p.BounceSenders, a.JoinedAt, now, p.Timeout)
	observability.ObserveReply(out.String())

	var ev EmailEvent
	switch out {
	case NoReplyYet:
		return out, nil
	case ValidReply:
		ev = EmailConfirmed
	case Undeliverable:
		ev = EmailUndeliverable
	case TimedOut:
		ev = EmailTimeout
	}

	_, err := p.Sessions.ApplyEmailEvent(ctx, a.ID, ev)
	switch {
	case errors.Is(err, ErrNotEligible), errors.Is(err, ErrNotRegistered):
		// Overtaken by a concurrent event for this applicant.
		log.Debug().Str("applicant_id", a.ID).Str("event", string(ev)).Msg("stale email event dropped")
	case err != nil:
		return out, err
	}
	if reply != nil {
		if err := p.Inbox.Acknowledge(ctx, reply); err != nil {
			log.Warn().Err(err).Str("applicant_id", a.ID).Msg("acknowledge reply failed")
		}
	}
	return out, nil
}
