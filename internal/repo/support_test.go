package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

func TestStatusChanges_AppendAndList(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	t0 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	changes := []domain.StatusChange{
		{ApplicantID: "u1", From: domain.StatusPendingBoth, To: domain.StatusPendingBoth, Cause: "registered", At: t0},
		{ApplicantID: "u1", From: domain.StatusPendingBoth, To: domain.StatusPendingEmail, Cause: "image_received", At: t0.Add(time.Minute)},
		{ApplicantID: "u2", From: domain.StatusPendingBoth, To: domain.StatusAttempted, Cause: "email_undeliverable", At: t0},
	}
	for i := range changes {
		if err := AppendStatusChange(ctx, db, &changes[i]); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := ListStatusChanges(ctx, db, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Cause != "registered" || got[1].To != domain.StatusPendingEmail {
		t.Fatalf("history = %+v", got)
	}

	// history survives a purge of the applicant
	if err := CreateApplicant(ctx, db, newApplicant("u1", "jd1@inst.edu", domain.StatusPendingEmail)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := DeleteApplicant(ctx, db, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = ListStatusChanges(ctx, db, "u1")
	if len(got) != 2 {
		t.Fatalf("history after purge = %d rows", len(got))
	}
}

func TestIdempotency_CreateGetExpire(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := GetIdempotency(ctx, db, "u1", "a1", "  ", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank key: expected ErrNotFound, got %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "a1", "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: expected ErrNotFound, got %v", err)
	}

	rec, err := CreateIdempotency(ctx, db, "u1", "a1", "k1", "PENDING_EMAIL", 200, time.Hour)
	if err != nil || rec.ID == "" {
		t.Fatalf("create: %v %+v", err, rec)
	}
	got, err := GetIdempotency(ctx, db, "u1", "a1", "k1", now)
	if err != nil || got.Outcome != "PENDING_EMAIL" || got.Status != 200 {
		t.Fatalf("get = %+v, %v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "u1", "a1", "k1", "X", 200, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// once expired it is no longer returned, and purge removes it
	later := now.Add(2 * time.Hour)
	if _, err := GetIdempotency(ctx, db, "u1", "a1", "k1", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: expected ErrNotFound, got %v", err)
	}
	n, err := PurgeExpiredIdempotency(ctx, db, later)
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
}

func TestApplicantStats(t *testing.T) {
	ctx := context.Background()

	if _, err := ApplicantStats(ctx, newTestDB(t, false)); err == nil {
		t.Fatalf("expected error due to missing applicants table")
	}

	db := newTestDB(t, true)
	st, err := ApplicantStats(ctx, db)
	if err != nil || st.Total != 0 || st.MaxUpdatedAt != nil {
		t.Fatalf("empty stats = %+v, %v", st, err)
	}

	for i, s := range []domain.Status{domain.StatusPendingBoth, domain.StatusPendingBoth, domain.StatusVerified} {
		a := newApplicant(string(rune('a'+i)), string(rune('a'+i))+"1@inst.edu", s)
		if err := CreateApplicant(ctx, db, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	want := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.Model(&domain.Applicant{}).Where("id = ?", "b").Update("updated_at", want).Error; err != nil {
		t.Fatalf("bump updated_at: %v", err)
	}

	st, err = ApplicantStats(ctx, db)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 || st.Counts[domain.StatusPendingBoth] != 2 || st.Counts[domain.StatusVerified] != 1 {
		t.Fatalf("counts = %+v", st)
	}
	if st.MaxUpdatedAt == nil || !st.MaxUpdatedAt.Equal(want) {
		t.Fatalf("max updated_at = %v", st.MaxUpdatedAt)
	}
}
