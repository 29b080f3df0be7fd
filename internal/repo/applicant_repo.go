// Package repo implements the ApplicantRecord store and its supporting tables
// on top of GORM. This file provides the applicant store proper.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no status decisions, only persistence and query composition.
// Multi-statement writes open their own transaction (nested as a savepoint
// when the handle is already transactional).
//
// Error semantics:
//   - ErrNotFound: no applicant with the given id.
//   - ErrAlreadyExists: Create on an id that is already registered.
//   - ErrDuplicateEmail: the email is held by a different applicant.
//   - ErrMismatch: Update called with a record whose id differs from the key.
//   - Anything else is a raw database error and should be treated as transient.
//
// Functions:
//
//   - CreateApplicant(ctx, db, a) -> error
//   - GetApplicant(ctx, db, id) -> *domain.Applicant, error
//   - UpdateApplicant(ctx, db, id, a) -> error
//   - DeleteApplicant(ctx, db, id) -> error
//   - ScanInProgress(ctx, db) -> []domain.Applicant, error
//   - EmailHolder(ctx, db, email) -> (id string, error)
//   - CountApplicants / ListApplicantsPage for read surfaces.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

// Store errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = gorm.ErrRecordNotFound

	ErrAlreadyExists  = errors.New("applicant already exists")
	ErrDuplicateEmail = errors.New("email already registered to another applicant")
	ErrMismatch       = errors.New("record id does not match applicant id")
	ErrImageInUse     = errors.New("evidence image already submitted by another applicant")
)

func withEvidence(db *gorm.DB) *gorm.DB {
	return db.Preload("Evidence", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// CreateApplicant inserts a new applicant with its evidence. If the id is
// already registered it returns ErrAlreadyExists without touching the stored
// row; an email held by another applicant yields ErrDuplicateEmail.
func CreateApplicant(ctx context.Context, db *gorm.DB, a *domain.Applicant) error {
	if a.JoinedAt.IsZero() {
		a.JoinedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Applicant{}).Where("id = ?", a.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		if err := tx.Omit(clause.Associations).Create(a).Error; err != nil {
			if isUniqueViolation(err) {
				if strings.Contains(strings.ToLower(err.Error()), "email") {
					return ErrDuplicateEmail
				}
				return ErrAlreadyExists
			}
			return err
		}
		return insertEvidence(tx, a)
	})
}

// GetApplicant fetches one applicant with evidence in stored order.
func GetApplicant(ctx context.Context, db *gorm.DB, id string) (*domain.Applicant, error) {
	var a domain.Applicant
	err := withEvidence(db.WithContext(ctx)).Where("id = ?", id).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateApplicant replaces the mutable fields and the whole evidence list of
// applicant id in one transaction. Immutable fields (joined_at, refs) are
// never rewritten.
func UpdateApplicant(ctx context.Context, db *gorm.DB, id string, a *domain.Applicant) error {
	if a.ID != id {
		return ErrMismatch
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Applicant{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"first_name": a.FirstName,
				"last_name":  a.LastName,
				"email":      a.Email,
				"status":     a.Status,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return ErrDuplicateEmail
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("applicant_id = ?", id).Delete(&domain.EvidenceImage{}).Error; err != nil {
			return err
		}
		return insertEvidence(tx, a)
	})
}

// insertEvidence renumbers a.Evidence and writes it. Image URLs are unique
// across the table, so a URL already owned by another applicant fails the
// enclosing transaction with ErrImageInUse.
func insertEvidence(tx *gorm.DB, a *domain.Applicant) error {
	a.Evidence = domain.NewEvidence(a.ID, a.ImageURLs())
	if len(a.Evidence) == 0 {
		return nil
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&a.Evidence)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(a.Evidence)) {
		return ErrImageInUse
	}
	return nil
}

// DeleteApplicant removes the applicant and its evidence.
func DeleteApplicant(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Explicit delete keeps the cascade intact on connections opened
		// without foreign_keys.
		if err := tx.Where("applicant_id = ?", id).Delete(&domain.EvidenceImage{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Applicant{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ScanInProgress returns every applicant not yet verified or denied, ordered
// by join time. Both queries (applicants, then evidence) run inside a single
// read transaction so the result is one consistent snapshot.
func ScanInProgress(ctx context.Context, db *gorm.DB) ([]domain.Applicant, error) {
	var out []domain.Applicant
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return withEvidence(tx).
			Where("status NOT IN ?", []string{domain.StatusVerified.String(), domain.StatusDenied.String()}).
			Order("joined_at ASC, id ASC").
			Find(&out).Error
	})
	return out, err
}

// EmailHolder returns the id of the applicant registered with email, or
// ErrNotFound. Comparison is case-insensitive.
func EmailHolder(ctx context.Context, db *gorm.DB, email string) (string, error) {
	var row struct{ ID string }
	err := db.WithContext(ctx).
		Model(&domain.Applicant{}).
		Select("id").
		Where("LOWER(email) = ?", strings.ToLower(email)).
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return "", err
	}
	if row.ID == "" {
		return "", ErrNotFound
	}
	return row.ID, nil
}

// CountApplicants returns the number of applicants, optionally filtered by status.
func CountApplicants(ctx context.Context, db *gorm.DB, status *domain.Status) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Applicant{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListApplicantsPage returns a page of applicants, most recent first. Use
// CountApplicants to obtain the total for pagination metadata.
func ListApplicantsPage(ctx context.Context, db *gorm.DB, status *domain.Status, offset, limit int) ([]domain.Applicant, error) {
	var out []domain.Applicant
	q := withEvidence(db.WithContext(ctx))
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := q.Order("joined_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// isUniqueViolation detects unique-constraint violations across drivers
// that may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
