package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

func TestClassify(t *testing.T) {
	joined := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour
	bounces := []string{"postmaster@", "MAILER-DAEMON@"}

	cases := []struct {
		name  string
		reply *Reply
		now   time.Time
		want  ReplyOutcome
	}{
		{"no reply within window", nil, joined.Add(time.Hour), NoReplyYet},
		{"no reply exactly at timeout", nil, joined.Add(week), NoReplyYet},
		{"no reply past timeout", nil, joined.Add(week + time.Second), TimedOut},
		{"valid reply", &Reply{Sender: "ada123@psu.edu"}, joined.Add(time.Hour), ValidReply},
		{"valid reply past timeout still counts", &Reply{Sender: "ada123@psu.edu"}, joined.Add(2 * week), ValidReply},
		{"bounce", &Reply{Sender: "Mail Delivery <mailer-daemon@psu.edu>"}, joined.Add(time.Hour), Undeliverable},
		{"postmaster", &Reply{Sender: "postmaster@psu.edu"}, joined.Add(time.Hour), Undeliverable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.reply, bounces, joined, tc.now, week); got != tc.want {
				t.Fatalf("Classify = %s; want %s", got, tc.want)
			}
		})
	}
}

func newPoller(f *fixture, now time.Time) *ReplyPoller {
	return &ReplyPoller{
		DB:            f.db,
		Repo:          f.store,
		Inbox:         f.mail,
		Sessions:      f.svc,
		BaseSubject:   f.svc.Opts.ChallengeSubject,
		BounceSenders: []string{"mailer-daemon@"},
		Interval:      10 * time.Millisecond,
		Timeout:       7 * 24 * time.Hour,
		Concurrency:   2,
		Now:           func() time.Time { return now },
	}
}

func TestSweep_AppliesEachOutcomeAndIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "confirm", "aa1@psu.edu")
	f.register(t, "bounce", "bb2@psu.edu")
	f.register(t, "broken", "cc3@psu.edu")
	f.register(t, "waiting", "dd4@psu.edu")
	f.register(t, "decided", "ee5@psu.edu")
	if _, err := f.svc.ApplyReviewerDecision(ctx, "decided", DecisionDeny, "rev1"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	f.register(t, "late", "ff6@psu.edu")

	subj := func(email string) string { return ChallengeSubject(f.svc.Opts.ChallengeSubject, email) }
	f.mail.replies[subj("aa1@psu.edu")] = &Reply{UID: 11, Sender: "aa1@psu.edu"}
	f.mail.replies[subj("bb2@psu.edu")] = &Reply{UID: 12, Sender: "MAILER-DAEMON@psu.edu"}
	f.mail.findErr[subj("cc3@psu.edu")] = errors.New("fetch failed")

	// "late" joined well before the response window.
	late, err := f.store.GetApplicant(ctx, f.db, "late")
	if err != nil {
		t.Fatalf("get late: %v", err)
	}
	if err := f.db.Model(late).Update("joined_at", f.now.Add(-30*24*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	p := newPoller(f, f.now.Add(time.Hour))
	rep, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Checked != 5 || rep.Confirmed != 1 || rep.Undeliverable != 1 || rep.TimedOut != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}

	expect := map[string]domain.Status{
		"confirm": domain.StatusPendingDM,
		"bounce":  domain.StatusAttempted,
		"broken":  domain.StatusPendingBoth,
		"waiting": domain.StatusPendingBoth,
		"decided": domain.StatusDenied,
	}
	for id, want := range expect {
		a, err := f.svc.Get(ctx, id)
		if err != nil || a.Status != want {
			t.Fatalf("%s: %+v, %v; want %s", id, a, err, want)
		}
	}
	if _, err := f.svc.Get(ctx, "late"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("timed-out applicant not purged: %v", err)
	}
	if len(f.mail.acked) != 2 {
		t.Fatalf("acked = %v", f.mail.acked)
	}

	// Confirmed applicants drop out; "bounce" is ATTEMPTED and only checked
	// against the response window.
	rep, err = p.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if rep.Checked != 3 || rep.Confirmed != 0 || rep.TimedOut != 0 || rep.Failed != 1 {
		t.Fatalf("second sweep report = %+v", rep)
	}
	if a, _ := f.svc.Get(ctx, "confirm"); a.Status != domain.StatusPendingDM {
		t.Fatalf("re-applied confirmation: %s", a.Status)
	}
}

func TestSweep_AttemptedApplicantTimesOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mail.sendErr = errors.New("smtp: 550 mailbox unavailable")
	f.register(t, "stuck", adaEmail)
	f.mail.sendErr = nil
	if a, _ := f.svc.Get(ctx, "stuck"); a.Status != domain.StatusAttempted {
		t.Fatalf("precondition: status = %s", a.Status)
	}
	// A stale reply must not be read for an applicant with no challenge out.
	f.mail.findErr[ChallengeSubject(f.svc.Opts.ChallengeSubject, adaEmail)] = errors.New("unexpected lookup")

	within := newPoller(f, f.now.Add(time.Hour))
	rep, err := within.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Checked != 1 || rep.TimedOut != 0 || rep.Failed != 0 {
		t.Fatalf("report within window = %+v", rep)
	}

	edits := f.chat.editCount()
	past := newPoller(f, f.now.Add(8*24*time.Hour))
	rep, err = past.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.TimedOut != 1 || rep.Failed != 0 {
		t.Fatalf("report past window = %+v", rep)
	}
	if _, err := f.svc.Get(ctx, "stuck"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("attempted applicant not purged: %v", err)
	}
	if f.chat.editCount() <= edits {
		t.Fatal("prompt not finalized")
	}
	if _, ok := f.svc.Prompts.Get("stuck"); ok {
		t.Fatal("prompt still live after timeout")
	}
}

func TestSweep_MailboxUnavailable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", adaEmail)
	f.mail.ensureErr = errors.New("imap: connection reset")

	if _, err := newPoller(f, f.now).Sweep(context.Background()); err == nil {
		t.Fatalf("expected error when mailbox is unreachable")
	}
	a, _ := f.svc.Get(context.Background(), "u1")
	if a.Status != domain.StatusPendingBoth {
		t.Fatalf("status changed without mailbox: %s", a.Status)
	}
}

func TestSweep_ScanFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failScan = true
	if _, err := newPoller(f, f.now).Sweep(context.Background()); !errors.Is(err, errDiskFull) {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_StopsOnCancelAndClosesMailbox(t *testing.T) {
	f := newFixture(t)
	p := newPoller(f, f.now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		f.mail.mu.Lock()
		n := f.mail.ensureCall
		f.mail.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("poller did not sweep repeatedly")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	f.mail.mu.Lock()
	defer f.mail.mu.Unlock()
	if !f.mail.closed {
		t.Fatalf("mailbox not closed")
	}
}
